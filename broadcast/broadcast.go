// Package broadcast implements a latest-value publish/subscribe primitive.
//
// A Broadcaster holds one value. Publishing replaces it and wakes every
// waiting subscriber; subscribers that were busy only ever see the newest
// value, never a backlog. Subscribers are not registered anywhere, so a
// Subscription that is simply dropped costs nothing.
package broadcast

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrClosed is returned by Next once the broadcaster is closed and the
// subscriber has already seen the final value.
var ErrClosed = errors.New("broadcaster closed")

type Broadcaster[T any] struct {
	mu      sync.RWMutex
	value   T
	version uint64
	changed chan struct{}
	closed  bool
}

// New creates a broadcaster holding initial at version 1
func New[T any](initial T) *Broadcaster[T] {
	return &Broadcaster[T]{
		value:   initial,
		version: 1,
		changed: make(chan struct{}),
	}
}

// Publish stores v and wakes all waiting subscribers. It never blocks on
// subscribers. Publishing after Close is a no-op.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.value = v
	b.version++
	close(b.changed)
	b.changed = make(chan struct{})
}

// Latest returns the current value and its version
func (b *Broadcaster[T]) Latest() (T, uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.value, b.version
}

// Close wakes all subscribers; they drain the last value and then get ErrClosed
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.changed)
}

// Subscribe returns a handle whose first Next yields the latest value
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	return &Subscription[T]{b: b}
}

// Subscription tracks the last version one consumer has seen. It is not
// safe for concurrent use; give each consumer its own.
type Subscription[T any] struct {
	b    *Broadcaster[T]
	seen uint64
}

// Next returns the latest value if it is newer than the last one returned,
// otherwise it blocks until a newer value is published, ctx is done or the
// broadcaster is closed.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		s.b.mu.RLock()
		value, version, changed, closed := s.b.value, s.b.version, s.b.changed, s.b.closed
		s.b.mu.RUnlock()

		if version > s.seen {
			s.seen = version
			return value, nil
		}
		if closed {
			return zero, ErrClosed
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Seen returns the version of the last value returned by Next
func (s *Subscription[T]) Seen() uint64 {
	return s.seen
}
