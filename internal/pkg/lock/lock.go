// Package lock provides per-key locking for concurrent state mutations.
// Player state is locked by user ID and prediction state by prediction ID,
// so operations on different entities proceed fully in parallel while
// mutations of a single entity are serialized.
package lock

import "sync"

// keyMutex wraps a mutex so instances can be pooled.
type keyMutex struct {
	mu sync.Mutex
}

// KeyLock provides a mutex per key of any comparable type.
type KeyLock[K comparable] struct {
	locks sync.Map // map[K]*keyMutex
	pool  sync.Pool
}

// UserLock locks player state by Telegram user ID.
type UserLock = KeyLock[int64]

// NewUserLock creates a lock keyed by user ID.
func NewUserLock() *UserLock {
	return NewKeyLock[int64]()
}

// NewKeyLock creates a new KeyLock instance.
func NewKeyLock[K comparable]() *KeyLock[K] {
	return &KeyLock[K]{
		pool: sync.Pool{
			New: func() any {
				return &keyMutex{}
			},
		},
	}
}

// getLock retrieves or creates a mutex for the given key.
func (kl *KeyLock[K]) getLock(key K) *keyMutex {
	if v, ok := kl.locks.Load(key); ok {
		return v.(*keyMutex)
	}

	newLock := kl.pool.Get().(*keyMutex)
	actual, loaded := kl.locks.LoadOrStore(key, newLock)
	if loaded {
		// Another goroutine created the lock first, return ours to pool
		kl.pool.Put(newLock)
	}
	return actual.(*keyMutex)
}

// Lock acquires the lock for a key.
func (kl *KeyLock[K]) Lock(key K) {
	kl.getLock(key).mu.Lock()
}

// Unlock releases the lock for a key.
func (kl *KeyLock[K]) Unlock(key K) {
	if v, ok := kl.locks.Load(key); ok {
		v.(*keyMutex).mu.Unlock()
	}
}

// WithLock executes fn while holding the key's lock.
func (kl *KeyLock[K]) WithLock(key K, fn func() error) error {
	kl.Lock(key)
	defer kl.Unlock(key)
	return fn()
}
