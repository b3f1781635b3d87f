package aggregate

import (
	"context"
	"errors"

	"github.com/aneshas/eventlog"
)

// ErrAggregateNotFound is returned when the aggregate stream holds no events
var ErrAggregateNotFound = errors.New("aggregate not found")

// NewStore constructs new event sourced aggregate store
func NewStore[T Rooter](eventStore EventStore) *Store[T] {
	return &Store[T]{
		eventStore: eventStore,
	}
}

// EventStore represents event store
type EventStore interface {
	AppendToStream(ctx context.Context, streamID string, expectedEventNumber int, events ...eventlog.EventData) error
	ReadStreamForwards(ctx context.Context, streamID string, opts ...eventlog.ReadOpt) ([]eventlog.StorageEvent, error)
}

// Store represents event sourced aggregate store
type Store[T Rooter] struct {
	eventStore EventStore
}

// Save appends uncommitted aggregate events to the aggregate stream using
// the aggregate version as the expected event number. A concurrent
// modification surfaces as eventlog.ErrConcurrencyCheckFailed.
func (s *Store[T]) Save(ctx context.Context, aggregate T) error {
	uncommitted := aggregate.Events()

	if len(uncommitted) == 0 {
		return nil
	}

	base := metadataFrom(ctx)

	events := make([]eventlog.EventData, len(uncommitted))

	for i, evt := range uncommitted {
		meta := base
		meta.OccurredOn = evt.OccurredOn

		events[i] = eventlog.EventData{
			ID:       evt.ID,
			Body:     evt.E,
			Metadata: meta,
		}
	}

	err := s.eventStore.AppendToStream(
		ctx,
		aggregate.StringID(),
		aggregate.Version(),
		events...,
	)
	if err != nil {
		return err
	}

	aggregate.committed()

	return nil
}

// ByID reads the aggregate stream and rehydrates the aggregate
func (s *Store[T]) ByID(ctx context.Context, id string, aggregate T) error {
	storedEvents, err := s.eventStore.ReadStreamForwards(ctx, id)
	if err != nil {
		return err
	}

	if len(storedEvents) == 0 {
		return ErrAggregateNotFound
	}

	events := make([]Event, len(storedEvents))

	for i, evt := range storedEvents {
		events[i] = Event{
			ID:          evt.ID,
			E:           evt.Body,
			EventNumber: evt.EventNumber,
		}

		if meta, ok := evt.Metadata.(Metadata); ok {
			events[i].Meta = &meta
			events[i].OccurredOn = meta.OccurredOn
		}
	}

	aggregate.Rehydrate(aggregate, events...)

	return nil
}
