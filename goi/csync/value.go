package csync

import "sync"

// Value is a generic thread-safe wrapper for any value type.
//
// For maps, use [Map].
type Value[T any] struct {
	v  T
	mu sync.RWMutex
}

// NewValue creates a new Value with the given initial value.
func NewValue[T any](t T) *Value[T] {
	return &Value[T]{v: t}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.v
}

// Set updates the value.
func (v *Value[T]) Set(t T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.v = t
}

// Update applies f to the current value under the write lock.
func (v *Value[T]) Update(f func(T) T) T {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.v = f(v.v)
	return v.v
}
