// SPDX-License-Identifier: MIT
/*
Package feed hands the newest loudness vector from the single analyzer to
any number of consumers.

Every consumer holds its own Subscription, a one-slot mailbox. Publishing
copies the vector into each mailbox and overwrites whatever was still
waiting there, so a slow consumer only ever sees the latest value and the
producer never blocks. Taking a value transfers ownership of that copy to
the caller.
*/
package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"bandcast/internal/analysis"
)

// ErrClosed is returned by Wait once the broadcaster is closed and the
// mailbox is empty.
var ErrClosed = errors.New("feed: closed")

// Broadcaster is the producer side of the feed. It is safe for concurrent
// use, although the pipeline has exactly one producer.
type Broadcaster struct {
	mu        sync.Mutex
	subs      map[*Subscription]struct{}
	latest    analysis.LoudnessVector
	closed    bool
	published atomic.Uint64
}

// NewBroadcaster returns an open broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*Subscription]struct{})}
}

// Publish delivers a copy of v to every subscription. It never blocks on a
// consumer. Publishing after Close is a no-op.
func (b *Broadcaster) Publish(v analysis.LoudnessVector) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	version := b.published.Add(1)
	b.latest = v.Clone()
	for s := range b.subs {
		s.deliver(v.Clone(), version)
	}
}

// Subscribe registers a new consumer. A subscription taken after Close is
// already closed.
func (b *Broadcaster) Subscribe() *Subscription {
	s := &Subscription{
		b:     b,
		ready: make(chan struct{}, 1),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.closed = true
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Latest returns a copy of the last published vector, or nil.
func (b *Broadcaster) Latest() analysis.LoudnessVector {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest.Clone()
}

// Published returns how many vectors have been published.
func (b *Broadcaster) Published() uint64 {
	return b.published.Load()
}

// Subscribers returns the number of open subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close wakes every waiting consumer. Values still in a mailbox can be
// taken, after that Wait returns ErrClosed.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.close()
		delete(b.subs, s)
	}
}

func (b *Broadcaster) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
}

// Subscription is one consumer's last-value-wins mailbox.
type Subscription struct {
	b       *Broadcaster
	mu      sync.Mutex
	value   analysis.LoudnessVector
	version uint64
	closed  bool
	ready   chan struct{}
	dropped atomic.Uint64
}

func (s *Subscription) deliver(v analysis.LoudnessVector, version uint64) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.value != nil {
		s.dropped.Add(1)
	}
	s.value = v
	s.version = version
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// TryTake returns the waiting vector and empties the mailbox. It returns
// false without blocking when nothing new has been published.
func (s *Subscription) TryTake() (analysis.LoudnessVector, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value == nil {
		return nil, false
	}
	v := s.value
	s.value = nil
	return v, true
}

// Wait blocks until a vector is available, ctx is done or the feed is
// closed.
func (s *Subscription) Wait(ctx context.Context) (analysis.LoudnessVector, error) {
	for {
		if v, ok := s.TryTake(); ok {
			return v, nil
		}
		if s.Closed() {
			return nil, ErrClosed
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.ready:
		}
	}
}

// Version returns the publish sequence number of the last delivered value.
func (s *Subscription) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Dropped returns how many values were overwritten before being taken.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Closed reports whether the subscription will receive no more values.
func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Unsubscribe detaches the subscription from the broadcaster.
func (s *Subscription) Unsubscribe() {
	s.b.remove(s)
	s.close()
}
