package engine

import "sync"

// keyLocker 管理每个 (bot, symbol) 的互斥锁，
// 避免两次 webhook 并发对同一仓位做 读-改-写。
var keyLocker = &sync.Map{}

func getKeyLock(bot, symbol string) *sync.Mutex {
	lock, _ := keyLocker.LoadOrStore(bot+"/"+symbol, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
