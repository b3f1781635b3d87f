package testutil

import (
	"encoding/json"
	"testing"

	"github.com/aneshas/eventlog/ambar"
)

// TestEvent is a test event
type TestEvent struct {
	Foo string
	Bar string
}

// TestMeta is test event metadata
type TestMeta struct {
	TraceID string
}

// Event is an instance of a test event
var Event = TestEvent{
	Foo: "foo",
	Bar: "bar",
}

// AmbarPayload is a test payload
var AmbarPayload = ambar.Payload{
	Sequence:     1,
	EventID:      "event-id",
	StreamID:     "stream-id",
	Bucket:       nil,
	EventNumber:  1,
	PartitionKey: 2,
	BodyType:     "TestEvent",
	Body:         marshal(Event),
	MetadataType: nil,
	Metadata:     nil,
	CommittedAt:  "2024-10-12T20:07:22.436271+00",
}

func marshal(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}

	return string(data)
}

// WithMeta returns a copy of p carrying meta as metadata
func WithMeta(p ambar.Payload, meta TestMeta) ambar.Payload {
	metaType := "TestMeta"
	metaData := marshal(meta)

	p.MetadataType = &metaType
	p.Metadata = &metaData

	return p
}

// Payload creates a payload for testing
func Payload(t *testing.T, p ambar.Payload) []byte {
	t.Helper()

	data, err := json.Marshal(ambar.Req{
		Payload: p,
	})
	if err != nil {
		t.Fatal(err)
	}

	return data
}
