package eventlog_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aneshas/eventlog"
)

func TestShould_Decode_Encoded_Event(t *testing.T) {
	enc := eventlog.NewJsonEncoder(OrderPlaced{}, PaymentReceived{})

	for _, evt := range []any{
		OrderPlaced{OrderID: "some-order"},
		PaymentReceived{Amount: 10},
	} {
		encoded, err := enc.Encode(evt)
		require.NoError(t, err)

		decoded, err := enc.Decode(encoded)
		require.NoError(t, err)

		assert.Equal(t, evt, decoded)
	}
}

func TestShould_Store_Type_Name(t *testing.T) {
	enc := eventlog.NewJsonEncoder(OrderPlaced{})

	encoded, err := enc.Encode(OrderPlaced{OrderID: "1"})
	require.NoError(t, err)

	assert.Equal(t, "OrderPlaced", encoded.Type)
	assert.JSONEq(t, `{"OrderID":"1"}`, encoded.Data)
}

func TestShould_Resolve_Registered_Types(t *testing.T) {
	enc := eventlog.NewJsonEncoder(OrderPlaced{})

	name, err := enc.NameFromType(OrderPlaced{})
	require.NoError(t, err)

	typ, err := enc.TypeFromName(name)
	require.NoError(t, err)

	assert.Equal(t, reflect.TypeOf(OrderPlaced{}), typ)
}

func TestShould_Reject_Unregistered_Types(t *testing.T) {
	enc := eventlog.NewJsonEncoder(OrderPlaced{})

	_, err := enc.Encode(PaymentReceived{})
	assert.ErrorIs(t, err, eventlog.ErrEventNotRegistered)

	_, err = enc.Encode(nil)
	assert.ErrorIs(t, err, eventlog.ErrEventNotRegistered)

	_, err = enc.Decode(&eventlog.EncodedEvt{Type: "PaymentReceived", Data: "{}"})
	assert.ErrorIs(t, err, eventlog.ErrEventNotRegistered)
}

func TestShould_Fail_Decoding_Malformed_Data(t *testing.T) {
	enc := eventlog.NewJsonEncoder(OrderPlaced{})

	_, err := enc.Decode(&eventlog.EncodedEvt{Type: "OrderPlaced", Data: "not-json"})

	assert.Error(t, err)
}
