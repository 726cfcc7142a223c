package observe

import (
	"context"
	"sync"
)

// Future is a value that is resolved or failed exactly once.
type Future[T any] struct {
	mu    sync.Mutex
	done  chan struct{}
	value T
	err   error
	set   bool
}

// NewFuture returns a pending future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future already holding value.
func Resolved[T any](value T) *Future[T] {
	f := NewFuture[T]()
	f.Resolve(value)
	return f
}

// Failed returns a future already holding err.
func Failed[T any](err error) *Future[T] {
	f := NewFuture[T]()
	f.Fail(err)
	return f
}

// Resolve completes the future with a value. It returns false if the
// future was already completed.
func (f *Future[T]) Resolve(value T) bool {
	return f.complete(value, nil)
}

// Fail completes the future with an error. It returns false if the
// future was already completed.
func (f *Future[T]) Fail(err error) bool {
	var zero T
	return f.complete(zero, err)
}

func (f *Future[T]) complete(value T, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set {
		return false
	}
	f.value, f.err, f.set = value, err, true
	close(f.done)
	return true
}

// Done is closed once the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result returns the outcome without blocking. ok is false while pending.
func (f *Future[T]) Result() (value T, err error, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err, f.set
}

// Wait blocks until the future completes or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		v, err, _ := f.Result()
		return v, err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
