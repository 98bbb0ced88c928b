package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store 基于 sqlite 的持久层：positions 与 trend_confirmations 两张表。
// 与其它 goroutine（HTTP、扫描循环、调度器）共用，句柄由互斥锁保护。
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// NewStore 打开（必要时创建）数据库文件并初始化表结构。
func NewStore(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db 路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建数据库目录失败: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开 sqlite 失败: %w", err)
	}
	// sqlite 单写者，串行化连接避免 database is locked
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bot_name TEXT NOT NULL,
			symbol TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'open',
			avg_entry_price TEXT NOT NULL,
			amount_usd TEXT NOT NULL,
			fills_count INTEGER NOT NULL DEFAULT 1,
			opened_at INTEGER,
			closed_at INTEGER,
			meta TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_bot_symbol_status
			ON positions(bot_name, symbol, status);`,
		`CREATE TABLE IF NOT EXISTS trend_confirmations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			direction TEXT NOT NULL,
			source TEXT,
			meta TEXT,
			meta_name TEXT,
			created_at INTEGER NOT NULL,
			expires_at INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trend_symbol_tf
			ON trend_confirmations(symbol, timeframe);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_trend_symbol_name
			ON trend_confirmations(symbol, meta_name) WHERE meta_name IS NOT NULL;`,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("初始化表结构失败: %w", err)
		}
	}
	return nil
}

// Close 关闭底层数据库。
func (s *Store) Close() error {
	s.mu.Lock()
	db := s.db
	s.db = nil
	s.mu.Unlock()
	if db == nil {
		return nil
	}
	return db.Close()
}

func (s *Store) handle() (*sql.DB, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("store 未初始化")
	}
	return db, nil
}

func nullIfEmptyString(v string) interface{} {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func timeToMillisPtr(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}
