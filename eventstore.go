// Package eventlog provides an append-only multi-stream event log with
// optimistic concurrency control, forward stream reads and checkpointed
// catch-up subscriptions over the log of all streams.
//
// EventStore validates input and delegates to a StorageEngine. Two engines are
// bundled: inmemory (the reference engine) and gormstore (sqlite / postgres).
// Apart from the event store, mechanisms for building projections and
// working with aggregate roots are provided
package eventlog

import (
	"context"
	"errors"
	"log/slog"
)

// Cfg represents event store configuration
type Cfg struct {
	Logger *slog.Logger
}

// Option represents event store configuration option
type Option func(Cfg) Cfg

// WithLogger sets the structured logger used by the event store
func WithLogger(l *slog.Logger) Option {
	return func(cfg Cfg) Cfg {
		cfg.Logger = l

		return cfg
	}
}

// New constructs new event store on top of the provided storage engine
func New(engine StorageEngine, opts ...Option) (*EventStore, error) {
	if engine == nil {
		return nil, errors.New("storage engine implementation must be provided")
	}

	cfg := Cfg{
		Logger: slog.Default(),
	}

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &EventStore{
		engine: engine,
		logger: cfg.Logger,
	}, nil
}

// EventStore is the entry point application code uses
type EventStore struct {
	engine StorageEngine
	logger *slog.Logger
}

// AppendToStream appends events to the indicated stream. If the stream does
// not exist it will be created. expectedEventNumber must equal the current
// length of the stream (InitialStreamVersion for new streams), otherwise a
// *ConcurrencyError is returned and nothing is written.
// Events without an ID get a generated one.
func (es *EventStore) AppendToStream(
	ctx context.Context,
	streamID string,
	expectedEventNumber int,
	events ...EventData) error {

	if isBlank(streamID) {
		return argErr("streamID", "stream id must be provided")
	}

	if expectedEventNumber < InitialStreamVersion {
		return argErr("expectedEventNumber", "expected event number cannot be less than 0")
	}

	if len(events) == 0 {
		return argErr("events", "at least one event must be provided")
	}

	toStore := make([]StorageEvent, len(events))

	for i, evt := range events {
		if evt.ID == "" {
			generated, err := NewEventData(evt.Body, evt.Metadata)
			if err != nil {
				return err
			}

			evt = generated
		}

		toStore[i] = StorageEvent{
			EventData:   evt,
			StreamID:    streamID,
			EventNumber: expectedEventNumber + i + 1,
		}
	}

	res, err := es.engine.AppendToStream(ctx, streamID, toStore)
	if err != nil {
		return err
	}

	switch res.Status {
	case AppendCommitted:
		return nil

	case AppendConflict:
		es.logger.Debug("append rejected by concurrency check",
			"stream_id", streamID,
			"expected", res.Expected,
			"actual", res.Actual)

		return &ConcurrencyError{
			StreamID: streamID,
			Expected: res.Expected,
			Actual:   res.Actual,
		}

	default:
		return errors.New("unknown append status: " + res.Status.String())
	}
}

// ReadStreamConfig (configure using ReadOpt)
type ReadStreamConfig struct {
	start int
	count int
}

// ReadOpt represents read stream option
type ReadOpt func(ReadStreamConfig) ReadStreamConfig

// FromEventNumber is a read stream option that sets the first (1-based)
// event number to read
func FromEventNumber(n int) ReadOpt {
	return func(cfg ReadStreamConfig) ReadStreamConfig {
		cfg.start = n

		return cfg
	}
}

// MaxCount is a read stream option that limits the number of events read
func MaxCount(n int) ReadOpt {
	return func(cfg ReadStreamConfig) ReadStreamConfig {
		cfg.count = n

		return cfg
	}
}

// ReadStreamForwards reads events of a stream in event number order.
// By default the whole stream is read. A stream that does not exist
// yields no events.
func (es *EventStore) ReadStreamForwards(ctx context.Context, streamID string, opts ...ReadOpt) ([]StorageEvent, error) {
	cfg := ReadStreamConfig{
		start: 1,
		count: AllEvents,
	}

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	if isBlank(streamID) {
		return nil, argErr("streamID", "stream id must be provided")
	}

	if cfg.start < 1 {
		return nil, argErr("startPosition", "start position must be at least 1")
	}

	if cfg.count < 1 {
		return nil, argErr("count", "count must be at least 1")
	}

	return es.engine.ReadStreamForwards(ctx, streamID, cfg.start, cfg.count)
}

// SubscribeConfig (configure using SubscribeOpt)
type SubscribeConfig struct {
	checkpoint string
}

// SubscribeOpt represents subscribe to all option
type SubscribeOpt func(SubscribeConfig) SubscribeConfig

// WithCheckpoint resumes a subscription strictly after the checkpoint,
// which must be a value previously handed to a callback
func WithCheckpoint(checkpoint string) SubscribeOpt {
	return func(cfg SubscribeConfig) SubscribeConfig {
		cfg.checkpoint = checkpoint

		return cfg
	}
}

// SubscribeToAll starts a catch-up subscription delivering every event of
// the store in commit order, historical events first. It returns
// immediately; delivery happens in the background until ctx is cancelled.
func (es *EventStore) SubscribeToAll(ctx context.Context, cb EventsReceivedFunc, opts ...SubscribeOpt) (*Subscription, error) {
	if cb == nil {
		return nil, argErr("callback", "callback must be provided")
	}

	var cfg SubscribeConfig

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	sub, err := es.engine.SubscribeToAll(ctx, cb, cfg.checkpoint)
	if err != nil {
		return nil, err
	}

	es.logger.Debug("subscription started", "checkpoint", cfg.checkpoint)

	return sub, nil
}

// ReadAllForwards performs exactly one drain pass over the log of all
// streams, from sinceCheckpoint (or the beginning) up to its current end
func (es *EventStore) ReadAllForwards(ctx context.Context, cb EventsReceivedFunc, sinceCheckpoint string) error {
	if cb == nil {
		return argErr("callback", "callback must be provided")
	}

	return es.engine.ReadAllForwards(ctx, cb, sinceCheckpoint)
}
