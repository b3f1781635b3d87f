package aggregate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aneshas/eventlog/aggregate"
)

type ShipmentID string

func (id ShipmentID) String() string { return string(id) }

type ShipmentCreated struct {
	ID          string
	Destination string
}

type ShipmentRerouted struct {
	Destination string
}

type ShipmentLost struct{}

type ShipmentDelayed struct{}

type shipment struct {
	aggregate.Root[ShipmentID]

	destination string
	reroutes    int
}

func (s *shipment) OnShipmentCreated(evt ShipmentCreated) {
	s.SetID(ShipmentID(evt.ID))
	s.destination = evt.Destination
}

func (s *shipment) OnShipmentRerouted(evt ShipmentRerouted) {
	s.destination = evt.Destination
	s.reroutes++
}

func (s *shipment) OnShipmentDelayed(evt ShipmentDelayed, hours int) {}

func TestShould_Mutate_And_Record_Applied_Events(t *testing.T) {
	var s shipment

	s.Rehydrate(&s)

	s.Apply(ShipmentCreated{ID: "sh-1", Destination: "Berlin"})
	s.Apply(ShipmentRerouted{Destination: "Vienna"})

	events := s.Events()

	assert.Len(t, events, 2)
	assert.Equal(t, ShipmentRerouted{Destination: "Vienna"}, events[1].E)
	assert.NotEmpty(t, events[0].ID)
	assert.NotEqual(t, events[0].ID, events[1].ID)

	assert.Equal(t, ShipmentID("sh-1"), s.ID())
	assert.Equal(t, "sh-1", s.StringID())
	assert.Equal(t, "Vienna", s.destination)
	assert.Equal(t, 0, s.Version())
}

func TestShould_Count_Only_Rehydrated_Events_In_Version(t *testing.T) {
	var s shipment

	s.Rehydrate(
		&s,
		aggregate.Event{E: ShipmentCreated{ID: "sh-1", Destination: "Berlin"}},
		aggregate.Event{E: ShipmentRerouted{Destination: "Vienna"}},
	)

	s.Apply(ShipmentRerouted{Destination: "Zagreb"})

	assert.Equal(t, "Zagreb", s.destination)
	assert.Equal(t, 2, s.reroutes)
	assert.Equal(t, 2, s.Version())
	assert.Len(t, s.Events(), 1)
}

func TestShould_Not_Expose_Internal_Event_Slice(t *testing.T) {
	var s shipment

	s.Rehydrate(&s)
	s.Apply(ShipmentCreated{ID: "sh-1"})

	events := s.Events()
	events[0].ID = "changed"

	assert.NotEqual(t, "changed", s.Events()[0].ID)
}

func TestShould_Panic_On_Apply_Without_Rehydrate(t *testing.T) {
	var s shipment

	assert.PanicsWithError(t, aggregate.ErrAggregateRootNotRehydrated.Error(), func() {
		s.Apply(ShipmentCreated{ID: "sh-1"})
	})
}

func TestShould_Panic_On_Missing_Handler(t *testing.T) {
	var s shipment

	s.Rehydrate(&s)

	assert.PanicsWithError(t, "missing aggregate event handler: OnShipmentLost", func() {
		s.Apply(ShipmentLost{})
	})
}

func TestShould_Panic_On_Handler_With_Wrong_Signature(t *testing.T) {
	var s shipment

	s.Rehydrate(&s)

	assert.PanicsWithError(t, "invalid aggregate event handler: OnShipmentDelayed", func() {
		s.Apply(ShipmentDelayed{})
	})
}

func TestShould_Accept_Only_Pointer_On_Rehydration(t *testing.T) {
	var s shipment

	assert.PanicsWithError(t, aggregate.ErrAggregateRootNotAPointer.Error(), func() {
		s.Rehydrate(s)
	})
}
