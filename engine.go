package eventlog

import (
	"context"
	"math"
)

// AllEvents can be used as the count of ReadStreamForwards in order to read
// a stream up to its end
const AllEvents = math.MaxInt

// EventsReceivedFunc is invoked by subscriptions and ReadAllForwards with an
// ordered batch of events and the checkpoint that resumes strictly after the
// batch. Returning an error prevents the checkpoint from advancing, the same
// events are delivered again on the next poll.
type EventsReceivedFunc func(ctx context.Context, events []StorageEvent, checkpoint string) error

// AppendStatus is the outcome of a storage engine append
type AppendStatus int

const (
	// AppendCommitted means every event of the batch was committed
	AppendCommitted AppendStatus = iota

	// AppendConflict means the stream length did not match and nothing was written
	AppendConflict
)

func (s AppendStatus) String() string {
	switch s {
	case AppendCommitted:
		return "committed"
	case AppendConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// AppendResult reports the concurrency check of an append.
// Expected is the event number the first event of the batch was assigned,
// Actual is the stream length found by the engine. A batch is committed
// only when Actual == Expected-1.
type AppendResult struct {
	Status   AppendStatus
	Expected int
	Actual   int
}

// Committed constructs a successful AppendResult
func Committed(expected int) AppendResult {
	return AppendResult{Status: AppendCommitted, Expected: expected, Actual: expected - 1}
}

// Conflict constructs a conflicting AppendResult
func Conflict(expected, actual int) AppendResult {
	return AppendResult{Status: AppendConflict, Expected: expected, Actual: actual}
}

// StorageEngine is the contract every backend implements.
//
// AppendToStream receives events already numbered by the caller, the first
// event carrying expected+1. The engine commits the batch to the stream and
// to its all-stream log atomically, or reports AppendConflict without writing.
// The error return is reserved for backend failures.
//
// ReadStreamForwards returns at most count events starting at event number
// start, ordered by event number.
//
// SubscribeToAll starts a background subscription bound to ctx and returns
// without blocking. ReadAllForwards performs a single drain pass.
type StorageEngine interface {
	AppendToStream(ctx context.Context, streamID string, events []StorageEvent) (AppendResult, error)
	ReadStreamForwards(ctx context.Context, streamID string, start, count int) ([]StorageEvent, error)
	SubscribeToAll(ctx context.Context, cb EventsReceivedFunc, checkpoint string) (*Subscription, error)
	ReadAllForwards(ctx context.Context, cb EventsReceivedFunc, sinceCheckpoint string) error
}
