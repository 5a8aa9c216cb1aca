package bms

import (
	"context"
	"sync"
	"time"
)

// Spacer enforces a minimum interval between consecutive sends. It keeps a
// "next eligible send time" token; Do waits for it, runs the send and moves
// the token forward. Callers are serialized, so the interval holds across
// every goroutine sharing the Spacer.
type Spacer struct {
	min   time.Duration
	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	sem  chan struct{} // held for the whole wait+send
	mu   sync.Mutex    // guards next
	next time.Time
}

// NewSpacer returns a Spacer with the given minimum interval.
func NewSpacer(min time.Duration) *Spacer {
	return &Spacer{
		min:   min,
		now:   time.Now,
		after: time.After,
		sem:   make(chan struct{}, 1),
	}
}

// Interval returns the configured minimum spacing.
func (s *Spacer) Interval() time.Duration { return s.min }

// NextEligible returns the earliest time the next send may start.
func (s *Spacer) NextEligible() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Do waits until the next send is eligible, calls send and reserves the
// following slot. If ctx ends first, send is not called.
func (s *Spacer) Do(ctx context.Context, send func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	if wait := s.NextEligible().Sub(s.now()); wait > 0 {
		select {
		case <-s.after(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	err := send()
	s.mu.Lock()
	s.next = s.now().Add(s.min)
	s.mu.Unlock()
	return err
}
