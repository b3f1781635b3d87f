package aggregate

import "time"

// Event represents a domain event produced or rehydrated by an aggregate
type Event struct {
	ID         string
	E          any
	OccurredOn time.Time

	// EventNumber is set for events read from the event store
	EventNumber int
	Meta        *Metadata
}

// Metadata is stored alongside aggregate events when the context carries
// any of it (see CtxWithMeta, CtxWithCausationID, CtxWithCorrelationID)
type Metadata struct {
	Meta               map[string]string
	CausationEventID   string
	CorrelationEventID string
	OccurredOn         time.Time
}
