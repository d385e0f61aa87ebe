// Package lock provides keyed in-process locks for serializing mutations
// of one venue day while other keys proceed in parallel.
package lock

import (
	"context"
	"sync"
)

// keyMutex is a one-token semaphore shared by everyone holding or waiting
// on a key.
type keyMutex struct {
	token    chan struct{}
	refCount int
}

// KeyedLock hands out one mutex per key. Entries live only while someone
// holds or waits on the key.
type KeyedLock[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*keyMutex
}

// New creates a new KeyedLock instance.
func New[K comparable]() *KeyedLock[K] {
	return &KeyedLock[K]{entries: make(map[K]*keyMutex)}
}

// acquire registers interest in key and returns its entry.
func (kl *KeyedLock[K]) acquire(key K) *keyMutex {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	l, ok := kl.entries[key]
	if !ok {
		l = &keyMutex{token: make(chan struct{}, 1)}
		kl.entries[key] = l
	}
	l.refCount++
	return l
}

// release drops interest in key and forgets the entry once unused.
func (kl *KeyedLock[K]) release(key K, l *keyMutex) {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	l.refCount--
	if l.refCount == 0 {
		delete(kl.entries, key)
	}
}

// Lock acquires the lock for key.
func (kl *KeyedLock[K]) Lock(key K) {
	l := kl.acquire(key)
	l.token <- struct{}{}
}

// Unlock releases the lock for key.
func (kl *KeyedLock[K]) Unlock(key K) {
	kl.mu.Lock()
	l, ok := kl.entries[key]
	kl.mu.Unlock()
	if !ok {
		return
	}
	<-l.token
	kl.release(key, l)
}

// TryLock attempts to acquire the lock without blocking.
func (kl *KeyedLock[K]) TryLock(key K) bool {
	l := kl.acquire(key)
	select {
	case l.token <- struct{}{}:
		return true
	default:
		kl.release(key, l)
		return false
	}
}

// LockContext acquires the lock for key, giving up when ctx is done.
func (kl *KeyedLock[K]) LockContext(ctx context.Context, key K) error {
	l := kl.acquire(key)
	select {
	case l.token <- struct{}{}:
		return nil
	case <-ctx.Done():
		kl.release(key, l)
		return ErrLockTimeout
	}
}

// WithLock executes fn while holding the lock for key.
func (kl *KeyedLock[K]) WithLock(key K, fn func() error) error {
	kl.Lock(key)
	defer kl.Unlock(key)
	return fn()
}

// WithLockContext executes fn while holding the lock for key, waiting for
// it no longer than ctx allows.
func (kl *KeyedLock[K]) WithLockContext(ctx context.Context, key K, fn func() error) error {
	if err := kl.LockContext(ctx, key); err != nil {
		return err
	}
	defer kl.Unlock(key)
	return fn()
}
