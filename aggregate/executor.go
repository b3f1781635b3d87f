package aggregate

import (
	"context"
	"errors"

	"github.com/aneshas/eventlog"
)

// ExecCfg represents executor configuration
type ExecCfg struct {
	ConflictRetries int
}

// ExecOpt represents executor option
type ExecOpt func(ExecCfg) ExecCfg

// WithConflictRetries makes the executor reload the aggregate and run the
// command again, at most n more times, when saving loses an optimistic
// concurrency race
func WithConflictRetries(n int) ExecOpt {
	return func(cfg ExecCfg) ExecCfg {
		cfg.ConflictRetries = n

		return cfg
	}
}

// Executor loads the aggregate identified by id, runs the command f against
// it and saves the events f applied
type Executor[T Rooter] func(ctx context.Context, id string, f func(ctx context.Context, a T) error) error

// NewExecutor creates an executor over store. newAggregate must return a
// fresh, zero valued aggregate pointer on every call.
func NewExecutor[T Rooter](store *Store[T], newAggregate func() T, opts ...ExecOpt) Executor[T] {
	var cfg ExecCfg

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	return func(ctx context.Context, id string, f func(ctx context.Context, a T) error) error {
		for attempt := 0; ; attempt++ {
			err := Exec(ctx, store, id, newAggregate(), f)
			if err == nil {
				return nil
			}

			if !errors.Is(err, eventlog.ErrConcurrencyCheckFailed) || attempt >= cfg.ConflictRetries {
				return err
			}
		}
	}
}

// Exec loads a into the state of stream id, runs f and saves the events
// f applied. Nothing is saved when f fails.
func Exec[T Rooter](ctx context.Context, store *Store[T], id string, a T, f func(ctx context.Context, a T) error) error {
	if err := store.ByID(ctx, id, a); err != nil {
		return err
	}

	if err := f(ctx, a); err != nil {
		return err
	}

	return store.Save(ctx, a)
}
