// Package inmemory provides the reference storage engine. It keeps streams and
// the log of all streams in memory and fully encodes the storage engine
// contract: per stream optimistic concurrency, atomic batch commits, commit
// ordered all-stream log and checkpointed catch-up subscriptions.
package inmemory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aneshas/eventlog"
)

var _ eventlog.StorageEngine = (*Engine)(nil)

// ConcurrencyCheck selects how appends are validated
type ConcurrencyCheck int

const (
	// EnforceExpectedEventNumber rejects appends whose first event number
	// does not follow the current stream length
	EnforceExpectedEventNumber ConcurrencyCheck = iota

	// AllowMissingAndDuplicatedEventNumbers appends regardless of gaps or
	// duplicates. Only meant for building test fixtures.
	AllowMissingAndDuplicatedEventNumbers
)

// Backend holds the state shared by every engine bound to it. Engines bound
// to different buckets of one backend share the all-stream log but never
// observe each other's streams.
type Backend struct {
	// mu guards the streams map and the all-stream log. It is held for
	// writing while a committed batch is added to the log and for reading
	// while a subscription takes its snapshot.
	mu      sync.RWMutex
	streams map[streamKey]*stream
	log     []record
}

type streamKey struct {
	bucket string
	id     string
}

type stream struct {
	// mu serializes appenders of this stream only
	mu     sync.Mutex
	events []eventlog.StorageEvent
}

type record struct {
	bucket string
	event  eventlog.StorageEvent
}

// NewBackend constructs an empty backend
func NewBackend() *Backend {
	return &Backend{
		streams: make(map[streamKey]*stream),
	}
}

func (b *Backend) lookup(key streamKey) (*stream, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.streams[key]

	return s, ok
}

func (b *Backend) getOrCreate(key streamKey) *stream {
	if s, ok := b.lookup(key); ok {
		return s
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.streams[key]; ok {
		return s
	}

	s := &stream{}
	b.streams[key] = s

	return s
}

// snapshot returns the suffix of the log starting at offset. Every batch
// committed before the call is fully included, none committed after.
func (b *Backend) snapshot(offset int) []record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if offset >= len(b.log) {
		return nil
	}

	out := make([]record, len(b.log)-offset)
	copy(out, b.log[offset:])

	return out
}

// Cfg represents in memory engine configuration
type Cfg struct {
	Backend          *Backend
	Bucket           string
	ConcurrencyCheck ConcurrencyCheck
	PollInterval     time.Duration
	Logger           *slog.Logger
}

// Option represents in memory engine configuration option
type Option func(Cfg) Cfg

// WithBackend binds the engine to a shared backend
func WithBackend(b *Backend) Option {
	return func(cfg Cfg) Cfg {
		cfg.Backend = b

		return cfg
	}
}

// WithBucket binds the engine to a bucket (eventlog.DefaultBucket if blank)
func WithBucket(bucket string) Option {
	return func(cfg Cfg) Cfg {
		cfg.Bucket = bucket

		return cfg
	}
}

// WithConcurrencyCheck selects the append validation mode
func WithConcurrencyCheck(check ConcurrencyCheck) Option {
	return func(cfg Cfg) Cfg {
		cfg.ConcurrencyCheck = check

		return cfg
	}
}

// WithPollInterval sets the subscription poll interval
func WithPollInterval(d time.Duration) Option {
	return func(cfg Cfg) Cfg {
		cfg.PollInterval = d

		return cfg
	}
}

// WithLogger sets the engine logger
func WithLogger(l *slog.Logger) Option {
	return func(cfg Cfg) Cfg {
		cfg.Logger = l

		return cfg
	}
}

// New constructs an in memory engine. Without WithBackend a private
// backend is created.
func New(opts ...Option) *Engine {
	cfg := Cfg{
		PollInterval: eventlog.DefaultPollInterval,
		Logger:       slog.Default(),
	}

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	if cfg.Backend == nil {
		cfg.Backend = NewBackend()
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cfg.Bucket = eventlog.ResolveBucket(cfg.Bucket)

	return &Engine{
		backend: cfg.Backend,
		cfg:     cfg,
		logger:  cfg.Logger.With("engine", "inmemory", "bucket", cfg.Bucket),
	}
}

// Engine is the in memory storage engine bound to a single bucket
type Engine struct {
	backend *Backend
	cfg     Cfg
	logger  *slog.Logger
}

// AppendToStream commits events to the stream and the all-stream log
// atomically, provided the stream length equals the first event number - 1
func (e *Engine) AppendToStream(ctx context.Context, streamID string, events []eventlog.StorageEvent) (eventlog.AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return eventlog.AppendResult{}, err
	}

	if len(events) == 0 {
		return eventlog.AppendResult{}, fmt.Errorf("%w: no events to append", eventlog.ErrInvalidArgument)
	}

	expected := events[0].EventNumber

	s := e.backend.getOrCreate(streamKey{bucket: e.cfg.Bucket, id: streamID})

	s.mu.Lock()
	defer s.mu.Unlock()

	actual := len(s.events)

	if e.cfg.ConcurrencyCheck == EnforceExpectedEventNumber && actual != expected-1 {
		return eventlog.Conflict(expected, actual), nil
	}

	committedAt := time.Now().UTC()

	batch := make([]eventlog.StorageEvent, len(events))

	for i, evt := range events {
		evt.StreamID = streamID
		evt.CommittedAt = committedAt
		batch[i] = evt
	}

	e.backend.mu.Lock()

	s.events = append(s.events, batch...)

	for _, evt := range batch {
		e.backend.log = append(e.backend.log, record{bucket: e.cfg.Bucket, event: evt})
	}

	e.backend.mu.Unlock()

	return eventlog.Committed(expected), nil
}

// ReadStreamForwards returns events numbered start..start+count-1
func (e *Engine) ReadStreamForwards(ctx context.Context, streamID string, start, count int) ([]eventlog.StorageEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := []eventlog.StorageEvent{}

	s, ok := e.backend.lookup(streamKey{bucket: e.cfg.Bucket, id: streamID})
	if !ok {
		return out, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, evt := range s.events {
		if inRange(evt.EventNumber, start, count) {
			out = append(out, evt)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EventNumber < out[j].EventNumber
	})

	return out, nil
}

func inRange(n, start, count int) bool {
	if n < start {
		return false
	}

	// count may be eventlog.AllEvents
	return n-start < count
}

// SubscribeToAll starts a subscription bound to ctx
func (e *Engine) SubscribeToAll(ctx context.Context, cb eventlog.EventsReceivedFunc, checkpoint string) (*eventlog.Subscription, error) {
	if cb == nil {
		return nil, fmt.Errorf("%w: callback must be provided", eventlog.ErrInvalidArgument)
	}

	c := e.newCursor(cb, checkpoint)

	sub := eventlog.NewSubscription(
		c.drain,
		eventlog.WithPollInterval(e.cfg.PollInterval),
		eventlog.WithSubscriptionLogger(e.logger),
	)

	sub.Start(ctx)

	return sub, nil
}

// ReadAllForwards drains the all-stream log once
func (e *Engine) ReadAllForwards(ctx context.Context, cb eventlog.EventsReceivedFunc, sinceCheckpoint string) error {
	if cb == nil {
		return fmt.Errorf("%w: callback must be provided", eventlog.ErrInvalidArgument)
	}

	return e.newCursor(cb, sinceCheckpoint).drain(ctx)
}
