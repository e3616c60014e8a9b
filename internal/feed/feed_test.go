// SPDX-License-Identifier: MIT
package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bandcast/internal/analysis"
)

func TestTryTakeEmpty(t *testing.T) {
	b := NewBroadcaster()
	s := b.Subscribe()
	if v, ok := s.TryTake(); ok || v != nil {
		t.Errorf("TryTake() on empty mailbox = (%v, %v), want (nil, false)", v, ok)
	}
}

func TestLastValueWins(t *testing.T) {
	b := NewBroadcaster()
	s := b.Subscribe()

	for i := range 5 {
		b.Publish(analysis.LoudnessVector{float64(i)})
	}

	v, ok := s.TryTake()
	if !ok || v[0] != 4 {
		t.Fatalf("TryTake() = (%v, %v), want ([4], true)", v, ok)
	}
	if _, ok := s.TryTake(); ok {
		t.Errorf("second TryTake() should find the mailbox empty")
	}
	if s.Dropped() != 4 {
		t.Errorf("Dropped() = %d, want 4", s.Dropped())
	}
	if s.Version() != 5 || b.Published() != 5 {
		t.Errorf("Version() = %d, Published() = %d, want 5", s.Version(), b.Published())
	}
}

func TestPublishHandsOffCopies(t *testing.T) {
	b := NewBroadcaster()
	s1 := b.Subscribe()
	s2 := b.Subscribe()

	src := analysis.LoudnessVector{-10, -20}
	b.Publish(src)
	src[0] = 99

	v1, _ := s1.TryTake()
	v2, _ := s2.TryTake()
	if v1[0] != -10 || v2[0] != -10 {
		t.Fatalf("subscribers saw producer mutation: %v %v", v1, v2)
	}
	v1[1] = 42
	if v2[1] != -20 {
		t.Errorf("subscribers share a buffer")
	}
	if latest := b.Latest(); latest[0] != -10 || latest[1] != -20 {
		t.Errorf("Latest() = %v", latest)
	}
}

func TestIndependentSubscribers(t *testing.T) {
	b := NewBroadcaster()
	fast := b.Subscribe()
	slow := b.Subscribe()

	b.Publish(analysis.LoudnessVector{1})
	if _, ok := fast.TryTake(); !ok {
		t.Fatal("fast subscriber missed value")
	}
	b.Publish(analysis.LoudnessVector{2})

	if v, _ := fast.TryTake(); v[0] != 2 {
		t.Errorf("fast got %v, want 2", v)
	}
	if v, _ := slow.TryTake(); v[0] != 2 {
		t.Errorf("slow got %v, want 2", v)
	}
	if fast.Dropped() != 0 || slow.Dropped() != 1 {
		t.Errorf("dropped fast=%d slow=%d, want 0 and 1", fast.Dropped(), slow.Dropped())
	}
}

func TestWaitWakesOnPublish(t *testing.T) {
	b := NewBroadcaster()
	s := b.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan analysis.LoudnessVector, 1)
	go func() {
		v, err := s.Wait(ctx)
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
		done <- v
	}()

	time.Sleep(10 * time.Millisecond)
	b.Publish(analysis.LoudnessVector{-3})

	select {
	case v := <-done:
		if len(v) != 1 || v[0] != -3 {
			t.Errorf("Wait() = %v, want [-3]", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake up")
	}
}

func TestWaitContextCancel(t *testing.T) {
	s := NewBroadcaster().Subscribe()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
}

func TestCloseDrainsThenErrors(t *testing.T) {
	b := NewBroadcaster()
	s := b.Subscribe()
	b.Publish(analysis.LoudnessVector{1})
	b.Close()
	b.Publish(analysis.LoudnessVector{2})

	v, err := s.Wait(context.Background())
	if err != nil || v[0] != 1 {
		t.Fatalf("Wait() = (%v, %v), want pending value", v, err)
	}
	if _, err := s.Wait(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Wait() after drain = %v, want ErrClosed", err)
	}
	if late := b.Subscribe(); !late.Closed() {
		t.Errorf("subscription after Close should be closed")
	}
	if b.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d after Close", b.Subscribers())
	}
}

func TestUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	s := b.Subscribe()
	s.Unsubscribe()
	b.Publish(analysis.LoudnessVector{1})
	if _, ok := s.TryTake(); ok {
		t.Errorf("unsubscribed mailbox received a value")
	}
	if b.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d, want 0", b.Subscribers())
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBroadcaster()
	subs := make([]*Subscription, 8)
	for i := range subs {
		subs[i] = b.Subscribe()
	}

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				s.TryTake()
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		for i := range 1000 {
			b.Publish(analysis.LoudnessVector{float64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked")
	}
	wg.Wait()
}
