// Package aggregate provides event sourced aggregate roots persisted
// through an eventlog.EventStore
package aggregate

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrMissingAggregateEventHandler is returned when aggregate event handler is missing
	// On{EventName} method
	ErrMissingAggregateEventHandler = errors.New("missing aggregate event handler")

	// ErrInvalidAggregateEventHandler is returned when an On{EventName} method
	// does not take exactly the event as its only argument
	ErrInvalidAggregateEventHandler = errors.New("invalid aggregate event handler")

	// ErrAggregateRootNotAPointer is returned when supplied aggregate root is not a pointer
	ErrAggregateRootNotAPointer = errors.New("aggregate needs to be a pointer")

	// ErrAggregateRootNotRehydrated is returned when aggregate is not rehydrated (with Rehydrate method)
	ErrAggregateRootNotRehydrated = errors.New("aggregate needs to be rehydrated")
)

// Rooter represents an aggregate root that can be loaded and saved by Store
type Rooter interface {
	StringID() string
	Version() int
	Events() []Event
	Rehydrate(aggregatePtr any, events ...Event)

	committed()
}

// Root is embedded by event sourced aggregates. It tracks the stream
// revision the aggregate was loaded at and the events applied since, and
// dispatches every event to the On{EventName} method of the aggregate.
type Root[T fmt.Stringer] struct {
	id T

	version     int
	uncommitted []Event

	ptr reflect.Value
}

// ID returns aggregate identity
func (a *Root[T]) ID() T { return a.id }

// SetID sets aggregate identity, usually from within the handler of
// the event creating the aggregate
func (a *Root[T]) SetID(id T) { a.id = id }

// StringID returns aggregate identity which is used as the stream id
func (a *Root[T]) StringID() string { return a.id.String() }

// Rehydrate binds the aggregate pointer and replays persisted events.
// It must be called, possibly without events, before Apply.
func (a *Root[T]) Rehydrate(aggregatePtr any, events ...Event) {
	ptr := reflect.ValueOf(aggregatePtr)

	if ptr.Kind() != reflect.Ptr {
		panic(ErrAggregateRootNotAPointer)
	}

	a.ptr = ptr

	for _, evt := range events {
		a.mutate(evt.E)
	}

	a.version += len(events)
}

// Version returns the stream revision the aggregate was rehydrated to,
// which is the expected event number of the next save
func (a *Root[T]) Version() int { return a.version }

// Events returns the events applied since the aggregate was loaded or
// last saved
func (a *Root[T]) Events() []Event {
	out := make([]Event, len(a.uncommitted))
	copy(out, a.uncommitted)

	return out
}

// Apply mutates aggregate (calls respective event handle) and records the
// event as uncommitted. For an event of type SomethingImportantHappened
// the aggregate needs the handler:
//
// func (a *SomeAggregate) OnSomethingImportantHappened(e SomethingImportantHappened)
func (a *Root[T]) Apply(events ...any) {
	if !a.ptr.IsValid() {
		panic(ErrAggregateRootNotRehydrated)
	}

	for _, evt := range events {
		a.mutate(evt)

		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}

		a.uncommitted = append(a.uncommitted, Event{
			ID:         id.String(),
			E:          evt,
			OccurredOn: time.Now().UTC(),
		})
	}
}

func (a *Root[T]) committed() {
	a.version += len(a.uncommitted)
	a.uncommitted = nil
}

func (a *Root[T]) mutate(evt any) {
	t := reflect.TypeOf(evt)
	if t == nil {
		panic(fmt.Errorf("%w: nil event", ErrMissingAggregateEventHandler))
	}

	name := "On" + t.Name()

	h := a.ptr.MethodByName(name)
	if !h.IsValid() {
		panic(fmt.Errorf("%w: %s", ErrMissingAggregateEventHandler, name))
	}

	if h.Type().NumIn() != 1 || !t.AssignableTo(h.Type().In(0)) {
		panic(fmt.Errorf("%w: %s", ErrInvalidAggregateEventHandler, name))
	}

	h.Call([]reflect.Value{reflect.ValueOf(evt)})
}
