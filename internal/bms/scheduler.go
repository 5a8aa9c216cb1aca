package bms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-bms-bridge/internal/can"
	"github.com/kstaniek/go-bms-bridge/internal/logging"
	"github.com/kstaniek/go-bms-bridge/internal/metrics"
)

const (
	// DefaultDeviceID is the 11-bit identifier the BMS listens on for requests.
	DefaultDeviceID uint32 = 0x200
	// DefaultSpacing is the minimum gap the device needs between requests.
	DefaultSpacing = 50 * time.Millisecond
	// RequestMarker precedes each parameter id in a poll request.
	RequestMarker byte = 0x01
)

// PollRequest builds the 4-byte request asking the device for two parameters:
// [0x01, a, 0x01, b].
func PollRequest(device uint32, a, b FrameID) can.Frame {
	return can.NewStandard(device, RequestMarker, byte(a), RequestMarker, byte(b))
}

// Scheduler cycles both poll lists round-robin, one id from each per tick.
type Scheduler struct {
	lists  [2][]FrameID
	device uint32
	send   func(can.Frame) error
	spacer *Spacer
	log    *slog.Logger

	mu  sync.Mutex // guards pos
	pos [2]int
}

type SchedulerOption func(*Scheduler)

// WithDeviceID sets the request identifier (default 0x200).
func WithDeviceID(id uint32) SchedulerOption { return func(s *Scheduler) { s.device = id } }

// WithSpacing sets the minimum interval between requests (default 50ms).
func WithSpacing(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d >= 0 {
			s.spacer = NewSpacer(d)
		}
	}
}

// WithSpacer shares an existing Spacer, e.g. with another request source.
func WithSpacer(sp *Spacer) SchedulerOption {
	return func(s *Scheduler) {
		if sp != nil {
			s.spacer = sp
		}
	}
}

func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// NewScheduler snapshots the poll lists of m. Both lists must be non-empty;
// otherwise the returned error wraps ErrEmptyPollList for each empty list.
func NewScheduler(m *Model, send func(can.Frame) error, opts ...SchedulerOption) (*Scheduler, error) {
	if send == nil {
		return nil, errors.New("scheduler: nil send func")
	}
	s := &Scheduler{
		device: DefaultDeviceID,
		send:   send,
		spacer: NewSpacer(DefaultSpacing),
		log:    logging.Component("poller"),
	}
	for _, o := range opts {
		o(s)
	}
	var errs []error
	for _, l := range []ListID{ListA, ListB} {
		s.lists[l] = m.PollList(l)
		if len(s.lists[l]) == 0 {
			errs = append(errs, &EmptyPollListError{List: l})
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

// Tick performs one poll cycle: wrap cursors at list end, request the id
// under each cursor, advance both cursors. The request waits for the
// minimum spacing since the previous one. If ctx ends before the request is
// sent the cursors stay put; a send error still advances them.
func (s *Scheduler) Tick(ctx context.Context) error {
	s.mu.Lock()
	for l := range s.pos {
		if s.pos[l] >= len(s.lists[l]) {
			s.pos[l] = 0
		}
	}
	a, b := s.lists[ListA][s.pos[ListA]], s.lists[ListB][s.pos[ListB]]
	s.mu.Unlock()

	err := s.Request(ctx, a, b)
	if err != nil && errors.Is(err, ctx.Err()) {
		return err
	}

	s.mu.Lock()
	s.pos[ListA]++
	s.pos[ListB]++
	pa, pb := s.pos[ListA], s.pos[ListB]
	s.mu.Unlock()
	metrics.SetPollCursor(ListA.String(), pa%len(s.lists[ListA]))
	metrics.SetPollCursor(ListB.String(), pb%len(s.lists[ListB]))
	return err
}

// Request sends one poll request for a and b outside the round-robin cycle.
// It shares the spacing of Tick.
func (s *Scheduler) Request(ctx context.Context, a, b FrameID) error {
	fr := PollRequest(s.device, a, b)
	return s.spacer.Do(ctx, func() error {
		s.log.Debug("poll_request", "first", int(a), "second", int(b))
		if err := s.send(fr); err != nil {
			metrics.IncError(metrics.ErrPollSend)
			return fmt.Errorf("poll 0x%02X/0x%02X: %w", uint8(a), uint8(b), err)
		}
		metrics.IncPollRequest()
		return nil
	})
}

// Run ticks until ctx is done. Send errors are logged and polling continues.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := s.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("poll_send_error", "error", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Cursors returns the index each list will poll on the next tick.
func (s *Scheduler) Cursors() (a, b int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos[ListA] % len(s.lists[ListA]), s.pos[ListB] % len(s.lists[ListB])
}

// Lists returns copies of the scheduled poll lists.
func (s *Scheduler) Lists() (a, b []FrameID) {
	return append([]FrameID(nil), s.lists[ListA]...), append([]FrameID(nil), s.lists[ListB]...)
}
