package scope

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Lazy is a memoized value computed on first access, at most once.
type Lazy[T any] struct {
	once sync.Once
	fn   func() (T, error)
	done atomic.Bool
	val  T
	err  error
}

// NewLazy defers fn until the first Get.
func NewLazy[T any](fn func() (T, error)) *Lazy[T] {
	return &Lazy[T]{fn: fn}
}

// Value returns an already evaluated Lazy holding v.
func Value[T any](v T) *Lazy[T] {
	l := &Lazy[T]{val: v}
	l.once.Do(func() {})
	l.done.Store(true)
	return l
}

// Get evaluates the value on first call and returns the cached result
// afterwards. A panicking evaluation is re-raised once and then reported
// as an error.
func (l *Lazy[T]) Get() (T, error) {
	l.once.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				l.err = fmt.Errorf("lazy evaluation panicked: %v", r)
				l.fn = nil
				l.done.Store(true)
				panic(r)
			}
		}()
		if l.fn != nil {
			l.val, l.err = l.fn()
		}
		l.fn = nil
		l.done.Store(true)
	})
	return l.val, l.err
}

// Peek returns the value without evaluating it. ok is false until an
// evaluation has completed successfully.
func (l *Lazy[T]) Peek() (v T, ok bool) {
	if l == nil || !l.done.Load() || l.err != nil {
		return v, false
	}
	return l.val, true
}

// Evaluated reports whether Get has completed.
func (l *Lazy[T]) Evaluated() bool {
	return l != nil && l.done.Load()
}
