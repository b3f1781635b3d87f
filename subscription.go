package eventlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPollInterval is the delay between two poll cycles of a subscription
const DefaultPollInterval = 500 * time.Millisecond

// SubscriptionState represents the lifecycle state of a Subscription
type SubscriptionState int32

const (
	// NotStarted subscriptions have been constructed but not started
	NotStarted SubscriptionState = iota

	// Running subscriptions poll the all-stream log
	Running

	// Cancelled is terminal, no further poll cycles are started
	Cancelled
)

func (s SubscriptionState) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// DrainFunc performs one poll cycle of a subscription: it delivers everything
// committed after the subscription cursor and returns. Engines own the cursor.
type DrainFunc func(ctx context.Context) error

// SubscriptionConfig (configure using SubscriptionOpt)
type SubscriptionConfig struct {
	pollInterval time.Duration
	logger       *slog.Logger
}

// SubscriptionOpt represents a subscription option
type SubscriptionOpt func(SubscriptionConfig) SubscriptionConfig

// WithPollInterval sets the delay between two poll cycles
func WithPollInterval(d time.Duration) SubscriptionOpt {
	return func(cfg SubscriptionConfig) SubscriptionConfig {
		cfg.pollInterval = d

		return cfg
	}
}

// WithSubscriptionLogger sets the logger used to report failed poll cycles
func WithSubscriptionLogger(l *slog.Logger) SubscriptionOpt {
	return func(cfg SubscriptionConfig) SubscriptionConfig {
		cfg.logger = l

		return cfg
	}
}

// Subscription is a cooperative polling worker. It owns a cancellation scope
// (the context passed to Start) and a drain function closing over a private
// cursor. Cancellation is observed at cycle boundaries only.
type Subscription struct {
	drain DrainFunc
	cfg   SubscriptionConfig

	state atomic.Int32
	done  chan struct{}

	mu  sync.Mutex
	err error
}

// NewSubscription constructs a subscription in the NotStarted state
func NewSubscription(drain DrainFunc, opts ...SubscriptionOpt) *Subscription {
	cfg := SubscriptionConfig{
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	if cfg.pollInterval <= 0 {
		cfg.pollInterval = DefaultPollInterval
	}

	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	return &Subscription{
		drain: drain,
		cfg:   cfg,
		done:  make(chan struct{}),
	}
}

// Start moves the subscription to Running and polls in a background
// goroutine until ctx is cancelled. Calling Start more than once is a no-op.
func (s *Subscription) Start(ctx context.Context) {
	if !s.state.CompareAndSwap(int32(NotStarted), int32(Running)) {
		return
	}

	go s.run(ctx)
}

// State returns the current lifecycle state
func (s *Subscription) State() SubscriptionState {
	return SubscriptionState(s.state.Load())
}

// Done is closed once the subscription is Cancelled and its last
// poll cycle has returned
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns the error of the last poll cycle, nil if it succeeded,
// or ErrSubscriptionCancelled once cancelled
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)

	// dispatches of a cycle that is already underway are not interrupted
	cycleCtx := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			s.setErr(ErrSubscriptionCancelled)
			s.state.Store(int32(Cancelled))
			s.cfg.logger.Debug("subscription cancelled", "reason", context.Cause(ctx))

			return
		}

		err := s.drain(cycleCtx)
		s.setErr(err)

		if err != nil {
			s.logErr(err)
		}

		t := time.NewTimer(s.cfg.pollInterval)

		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}
}

// Deliver invokes cb with a batch and its checkpoint. A returned error or a
// panic is reported as *CallbackError.
func Deliver(ctx context.Context, cb EventsReceivedFunc, events []StorageEvent, checkpoint string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CallbackError{Checkpoint: checkpoint, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if cbErr := cb(ctx, events, checkpoint); cbErr != nil {
		return &CallbackError{Checkpoint: checkpoint, Err: cbErr}
	}

	return nil
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Subscription) logErr(err error) {
	var cbErr *CallbackError

	if errors.As(err, &cbErr) {
		s.cfg.logger.Warn("subscription callback failed, events will be redelivered",
			"checkpoint", cbErr.Checkpoint,
			"error", cbErr.Err)

		return
	}

	s.cfg.logger.Error("subscription poll failed", "error", err)
}
