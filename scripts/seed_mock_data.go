package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"smartvol/internal/gateway/database"
)

// Seed a SQLite database with mock positions and trend confirmations.
// Usage: go run scripts/seed_mock_data.go [db_path]
// Default db_path: data/smartvol.db
func main() {
	dbPath := "data/smartvol.db"
	if len(os.Args) > 1 && strings.TrimSpace(os.Args[1]) != "" {
		dbPath = strings.TrimSpace(os.Args[1])
	}

	store, err := database.NewStore(dbPath)
	if err != nil {
		panic(err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := seedPositions(ctx, store); err != nil {
		panic(err)
	}
	if err := seedConfirmations(ctx, store); err != nil {
		panic(err)
	}

	fmt.Printf("✓ mock data seeded into %s\n", dbPath)
}

func seedPositions(ctx context.Context, store *database.Store) error {
	samples := []database.PositionRecord{
		{
			BotName:       "smartvol-long",
			Symbol:        "BTCUSDT",
			Status:        database.PositionStatusOpen,
			AvgEntryPrice: "66200",
			AmountUsd:     "300",
			FillsCount:    2,
		},
		{
			BotName:       "domination-bot",
			Symbol:        "SOLUSDT",
			Status:        database.PositionStatusOpen,
			AvgEntryPrice: "149.5",
			AmountUsd:     "200",
			FillsCount:    1,
			Meta: map[string]any{
				"type":             "domination",
				"side":             "seller",
				"lastContinuation": time.Now().Add(-10 * time.Minute).UnixMilli(),
			},
		},
		{
			BotName:       "pivot-bot",
			Symbol:        "ETHUSDT",
			Status:        database.PositionStatusOpen,
			AvgEntryPrice: "3450",
			AmountUsd:     "500",
			FillsCount:    1,
			Meta: map[string]any{
				"type":                "trend-pivot",
				"originalDirection":   "long",
				"closedConfirmations": 0,
			},
		},
	}
	for _, rec := range samples {
		if _, err := store.InsertPosition(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func seedConfirmations(ctx context.Context, store *database.Store) error {
	now := time.Now()
	samples := []database.TrendConfirmationRecord{
		{
			Symbol: "BTCUSDT", Timeframe: "1h", Direction: "long", Source: "seed",
			CreatedAt: now.Add(-30 * time.Minute), ExpiresAt: now.Add(90 * time.Minute),
		},
		{
			Symbol: "BTCUSDT", Timeframe: "4h", Direction: "long", Source: "seed",
			CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(6 * time.Hour),
		},
		{
			Symbol: "ETHUSDT", Timeframe: "4h", Direction: "long", Source: "seed",
			Meta:      map[string]any{"name": "trend-pivot:4h"},
			CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(7 * time.Hour),
		},
		{
			Symbol: "SOLUSDT", Timeframe: "1h", Direction: "short", Source: "seed",
			CreatedAt: now.Add(-20 * time.Minute), ExpiresAt: now.Add(100 * time.Minute),
		},
	}
	for _, rec := range samples {
		if err := store.SaveConfirmation(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
