package utils

import "sync"

func WrapLock(lock sync.Locker, fn func()) {
	lock.Lock()
	defer lock.Unlock()

	fn()
}
