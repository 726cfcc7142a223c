// Package observe provides the two small concurrency primitives the client
// is assembled from: a one-shot Future and a ReplayLatest stream that hands
// every new subscriber the most recent value.
package observe

import (
	"sync"
)

// Observer receives values from a ReplayLatest stream.
//
// Callbacks run while the stream holds its lock, so they must not block
// and must not call back into the same stream. Buffering into a mailbox
// and signalling a channel is the expected pattern.
type Observer[T any] interface {
	OnNext(value T)
	OnError(err error)
}

// Funcs adapts a pair of functions to Observer. Either may be nil.
type Funcs[T any] struct {
	Next  func(T)
	Error func(error)
}

func (f Funcs[T]) OnNext(value T) {
	if f.Next != nil {
		f.Next(value)
	}
}

func (f Funcs[T]) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// ReplayLatest is a multicast stream that remembers its latest value.
// New subscribers immediately receive that value, or the terminal error
// if the stream has failed.
type ReplayLatest[T any] struct {
	mu        sync.Mutex
	value     T
	hasValue  bool
	err       error
	nextID    uint64
	observers map[uint64]Observer[T]
}

// NewReplayLatest returns an empty stream.
func NewReplayLatest[T any]() *ReplayLatest[T] {
	return &ReplayLatest[T]{observers: make(map[uint64]Observer[T])}
}

// Next publishes a value to all observers. It is a no-op once the stream
// has failed.
func (r *ReplayLatest[T]) Next(value T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return
	}
	r.value = value
	r.hasValue = true
	for _, o := range r.observers {
		o.OnNext(value)
	}
}

// Error terminates the stream. Only the first error is kept; observers are
// dropped after being notified.
func (r *ReplayLatest[T]) Error(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil || err == nil {
		return
	}
	r.err = err
	for id, o := range r.observers {
		o.OnError(err)
		delete(r.observers, id)
	}
}

// Subscribe registers an observer and replays the current state to it.
// The returned function removes the observer and is safe to call twice.
func (r *ReplayLatest[T]) Subscribe(o Observer[T]) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		o.OnError(r.err)
		return func() {}
	}
	if r.hasValue {
		o.OnNext(r.value)
	}

	id := r.nextID
	r.nextID++
	r.observers[id] = o

	return func() {
		r.mu.Lock()
		delete(r.observers, id)
		r.mu.Unlock()
	}
}

// Latest returns the most recent value, if any.
func (r *ReplayLatest[T]) Latest() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value, r.hasValue
}

// Err returns the terminal error, or nil while the stream is live.
func (r *ReplayLatest[T]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Failed reports whether the stream has terminated.
func (r *ReplayLatest[T]) Failed() bool {
	return r.Err() != nil
}

// ObserverCount returns the number of live subscriptions.
func (r *ReplayLatest[T]) ObserverCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers)
}
