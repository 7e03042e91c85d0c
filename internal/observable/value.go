// Package observable provides a continuously updating value that many
// goroutines can watch.
package observable

import (
	"context"
	"sync"
)

// Value holds the latest value of a signal.
//
// Every watcher gets its own one-slot mailbox. Set replaces whatever the
// watcher has not consumed yet, so a slow watcher only ever observes the most
// recent value and never blocks the writer.
type Value[T comparable] struct {
	mu       sync.Mutex
	current  T
	watchers map[chan T]struct{}
}

func NewValue[T comparable](initial T) *Value[T] {
	return &Value[T]{
		current:  initial,
		watchers: make(map[chan T]struct{}),
	}
}

func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Set stores val and notifies watchers. It reports whether the value changed;
// setting an equal value is a no-op.
func (v *Value[T]) Set(val T) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.current == val {
		return false
	}
	v.current = val
	for ch := range v.watchers {
		replace(ch, val)
	}
	return true
}

// Watch returns a channel that immediately yields the current value and then
// every later change. The channel is closed once ctx is done.
func (v *Value[T]) Watch(ctx context.Context) <-chan T {
	ch := make(chan T, 1)

	v.mu.Lock()
	ch <- v.current
	v.watchers[ch] = struct{}{}
	v.mu.Unlock()

	go func() {
		<-ctx.Done()
		v.mu.Lock()
		delete(v.watchers, ch)
		close(ch)
		v.mu.Unlock()
	}()

	return ch
}

// replace must be called with v.mu held: Set is the only writer.
func replace[T any](ch chan T, val T) {
	select {
	case <-ch:
	default:
	}
	ch <- val
}
