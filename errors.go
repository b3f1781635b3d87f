package eventlog

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is matched by every *ArgumentError
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConcurrencyCheckFailed indicates that the stream length did not match
	// the expected event number of an append. Matched by every *ConcurrencyError
	ErrConcurrencyCheckFailed = errors.New("optimistic concurrency check failed")

	// ErrEventNotRegistered is returned by the type registry when a payload
	// type name is unknown
	ErrEventNotRegistered = errors.New("event type not registered")

	// ErrSubscriptionCancelled is reported by Subscription.Err once the
	// cancellation scope of a subscription has been observed
	ErrSubscriptionCancelled = errors.New("subscription cancelled")
)

// ArgumentError is returned when caller input is rejected before any
// storage interaction takes place
type ArgumentError struct {
	Name   string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Name, e.Reason)
}

// Is makes ArgumentError match ErrInvalidArgument
func (e *ArgumentError) Is(target error) bool { return target == ErrInvalidArgument }

func argErr(name, reason string) error {
	return &ArgumentError{Name: name, Reason: reason}
}

// ConcurrencyError is returned by AppendToStream when the stream length found
// at commit time differs from the expected event number. Nothing is written.
// Expected is the revision the first appended event would have taken,
// Actual is the current revision (length) of the stream.
type ConcurrencyError struct {
	StreamID string
	Expected int
	Actual   int
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf(
		"concurrency conflict when appending to stream %s: expected revision %d, actual revision %d",
		e.StreamID, e.Expected, e.Actual,
	)
}

// Is makes ConcurrencyError match ErrConcurrencyCheckFailed
func (e *ConcurrencyError) Is(target error) bool { return target == ErrConcurrencyCheckFailed }

// CallbackError wraps a failure returned by a subscription callback.
// Checkpoint is the checkpoint that was offered with the failed delivery
// and therefore was not committed.
type CallbackError struct {
	Checkpoint string
	Err        error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("subscription callback failed at checkpoint %q: %v", e.Checkpoint, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }
