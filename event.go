package eventlog

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultBucket is the bucket every store is bound to unless configured
	// otherwise. Events persisted without a bucket tag belong to it.
	DefaultBucket = "default"

	// InitialStreamVersion can be used as the expected event number
	// when appending to a new stream
	InitialStreamVersion int = 0
)

// EventData represents an event that is to be stored in the event store.
// Body and Metadata are opaque to the store.
type EventData struct {
	ID       string
	Body     any
	Metadata any
}

// NewEventData constructs EventData with a freshly generated identity
func NewEventData(body, metadata any) (EventData, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return EventData{}, err
	}

	return EventData{
		ID:       id.String(),
		Body:     body,
		Metadata: metadata,
	}, nil
}

// StorageEvent is an event as persisted in a stream
type StorageEvent struct {
	EventData

	StreamID    string
	EventNumber int
	CommittedAt time.Time
}

// ResolveBucket maps a blank bucket name to DefaultBucket
func ResolveBucket(bucket string) string {
	if isBlank(bucket) {
		return DefaultBucket
	}

	return bucket
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
