package eventlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// EventStreamer represents an event stream that can be subscribed to
// This package offers EventStore as EventStreamer implementation
type EventStreamer interface {
	SubscribeToAll(context.Context, EventsReceivedFunc, ...SubscribeOpt) (*Subscription, error)
}

// CheckpointStore persists named subscription checkpoints
type CheckpointStore interface {
	Load(ctx context.Context, name string) (string, error)
	Save(ctx context.Context, name, checkpoint string) error
}

// Projection represents a projection that should be able to handle
// projected events
type Projection func(context.Context, StorageEvent) error

// NewProjector constructs a Projector
func NewProjector(s EventStreamer, checkpoints CheckpointStore, opts ...Option) *Projector {
	cfg := Cfg{
		Logger: slog.Default(),
	}

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Projector{
		streamer:    s,
		checkpoints: checkpoints,
		logger:      cfg.Logger,
	}
}

// Projector subscribes every registered projection to the event stream,
// resuming from the checkpoint stored under the projection name and saving
// the checkpoint after each successfully projected batch
type Projector struct {
	streamer    EventStreamer
	checkpoints CheckpointStore
	projections []namedProjection
	logger      *slog.Logger
}

type namedProjection struct {
	name string
	p    Projection
}

// Add effectively registers a projection with the projector
// Make sure to add all of your projections before calling Run
func (p *Projector) Add(name string, projection Projection) {
	p.projections = append(p.projections, namedProjection{name: name, p: projection})
}

// Run starts a subscription per projection and blocks until ctx is
// cancelled and every subscription has stopped
func (p *Projector) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var subs []*Subscription

	// stop cancels every started subscription and waits for it to finish
	stop := func() {
		cancel()

		for _, sub := range subs {
			<-sub.Done()
		}
	}

	for _, np := range p.projections {
		checkpoint, err := p.checkpoints.Load(ctx, np.name)
		if err != nil {
			p.logErr(np.name, err)
			stop()

			return fmt.Errorf("projection %s: loading checkpoint: %w", np.name, err)
		}

		sub, err := p.streamer.SubscribeToAll(ctx, p.handler(np), WithCheckpoint(checkpoint))
		if err != nil {
			p.logErr(np.name, err)
			stop()

			return fmt.Errorf("projection %s: %w", np.name, err)
		}

		p.logger.Info("projection started", "projection", np.name, "checkpoint", checkpoint)

		subs = append(subs, sub)
	}

	<-ctx.Done()

	stop()

	return nil
}

func (p *Projector) handler(np namedProjection) EventsReceivedFunc {
	return func(ctx context.Context, events []StorageEvent, checkpoint string) error {
		for _, evt := range events {
			if err := np.p(ctx, evt); err != nil {
				p.logErr(np.name, err)

				return err
			}
		}

		return p.checkpoints.Save(ctx, np.name, checkpoint)
	}
}

func (p *Projector) logErr(name string, err error) {
	p.logger.Error("projector error", "projection", name, "error", err)
}

// MemoryCheckpointStore keeps checkpoints in memory
type MemoryCheckpointStore struct {
	mu          sync.Mutex
	checkpoints map[string]string
}

// NewMemoryCheckpointStore constructs an empty MemoryCheckpointStore
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{checkpoints: make(map[string]string)}
}

// Load returns the checkpoint stored under name
func (m *MemoryCheckpointStore) Load(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.checkpoints[name], nil
}

// Save stores checkpoint under name
func (m *MemoryCheckpointStore) Save(_ context.Context, name, checkpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkpoints[name] = checkpoint

	return nil
}

// ErrFlushFailed wraps the error of the last failed flush of FlushAfter
var ErrFlushFailed = errors.New("flush failed")

// FlushAfter wraps the projection passed in and it calls
// the projection itself as new events come (as usual) in addition to calling
// the provided flush function periodically each time flush interval expires.
// A failed flush is reported by the next projection call. Flushing stops
// when ctx is done.
func FlushAfter(
	ctx context.Context,
	p Projection,
	flush func() error,
	flushInt time.Duration) Projection {

	var (
		mu       sync.Mutex
		flushErr error
	)

	go func() {
		t := time.NewTicker(flushInt)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case <-t.C:
				mu.Lock()
				if err := flush(); err != nil {
					flushErr = err
				}
				mu.Unlock()
			}
		}
	}()

	return func(ctx context.Context, evt StorageEvent) error {
		mu.Lock()
		defer mu.Unlock()

		if flushErr != nil {
			err := flushErr
			flushErr = nil

			return fmt.Errorf("%w: %v", ErrFlushFailed, err)
		}

		return p(ctx, evt)
	}
}
