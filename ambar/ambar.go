// Package ambar projects events pushed by ambar (https://ambar.cloud) from
// the gormstore event table into an eventlog.EventsReceivedFunc
package ambar

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/relvacode/iso8601"

	"github.com/aneshas/eventlog"
)

var (
	// ErrNoRetry is the error returned when we don't want to retry
	// projecting events in case of an error.
	// This is also the default behavior when an error is returned but this
	// error can be used if we also want to wrap the error eg. for logging
	ErrNoRetry = errors.New("no retry")

	// ErrKeepItGoing is the error returned when we want to keep projecting
	// events in case of an error
	ErrKeepItGoing = errors.New("keep it going")
)

// SuccessResp is the success response
// https://docs.ambar.cloud/#Data%20Destinations
var SuccessResp = `{
  "result": {
    "success": {}
  }
}`

// RetryResp is the retry response
// https://docs.ambar.cloud/#Data%20Destinations
var RetryResp = `{
  "result": {
    "error": {
      "policy": "must_retry",
      "class": "must retry it",
      "description": "must retry it"
    }
  }
}`

// KeepGoingResp is the keep going response
// https://docs.ambar.cloud/#Data%20Destinations
var KeepGoingResp = `{
  "result": {
    "error": {
      "policy": "keep_going",
      "class": "keep it going",
      "description": "keep it going"
    }
  }
}`

// Cfg represents ambar projection handler configuration
type Cfg struct {
	Bucket string
}

// Option represents ambar projection handler option
type Option func(Cfg) Cfg

// WithBucket makes the handler project only events of the given bucket.
// Untagged events belong to eventlog.DefaultBucket.
func WithBucket(bucket string) Option {
	return func(cfg Cfg) Cfg {
		cfg.Bucket = bucket

		return cfg
	}
}

// New constructs a new Ambar projection handler
func New(dec Decoder, opts ...Option) *Ambar {
	cfg := Cfg{
		Bucket: eventlog.DefaultBucket,
	}

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	return &Ambar{
		dec:    dec,
		bucket: eventlog.ResolveBucket(cfg.Bucket),
	}
}

// Decoder is an interface for decoding events
type Decoder interface {
	Decode(*eventlog.EncodedEvt) (any, error)
}

// Ambar is a projection handler for ambar events
type Ambar struct {
	dec    Decoder
	bucket string
}

// Req is the ambar projection request
type Req struct {
	Payload Payload `json:"payload"`
}

// Payload is the ambar projection request payload, one row of the event table
type Payload struct {
	Sequence     uint64  `json:"sequence"`
	EventID      string  `json:"event_id"`
	StreamID     string  `json:"stream_id"`
	Bucket       *string `json:"bucket"`
	EventNumber  int     `json:"event_number"`
	PartitionKey int     `json:"partition_key"`
	BodyType     string  `json:"body_type"`
	Body         string  `json:"body"`
	MetadataType *string `json:"metadata_type"`
	Metadata     *string `json:"metadata"`
	CommittedAt  string  `json:"committed_at"`
}

// Project projects ambar event to provided callback. The event identity is
// passed as the checkpoint.
// Events of other buckets and events of unregistered types are skipped.
// It will always return ambar retry policy error if deserialization fails
func (a *Ambar) Project(ctx context.Context, cb eventlog.EventsReceivedFunc, data []byte) error {
	var event Req

	err := json.Unmarshal(data, &event)
	if err != nil {
		return err
	}

	p := event.Payload

	bucket := eventlog.DefaultBucket
	if p.Bucket != nil {
		bucket = *p.Bucket
	}

	if bucket != a.bucket {
		return nil
	}

	body, err := a.dec.Decode(&eventlog.EncodedEvt{
		Data: p.Body,
		Type: p.BodyType,
	})
	if err != nil {
		if errors.Is(err, eventlog.ErrEventNotRegistered) {
			return nil
		}

		return err
	}

	var meta any

	if p.Metadata != nil && p.MetadataType != nil {
		meta, err = a.dec.Decode(&eventlog.EncodedEvt{
			Data: *p.Metadata,
			Type: *p.MetadataType,
		})
		if err != nil {
			return err
		}
	}

	committedAt, err := iso8601.ParseString(p.CommittedAt)
	if err != nil {
		return err
	}

	evt := eventlog.StorageEvent{
		EventData: eventlog.EventData{
			ID:       p.EventID,
			Body:     body,
			Metadata: meta,
		},
		StreamID:    p.StreamID,
		EventNumber: p.EventNumber,
		CommittedAt: committedAt,
	}

	return cb(ctx, []eventlog.StorageEvent{evt}, p.EventID)
}
