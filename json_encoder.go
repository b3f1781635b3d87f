package eventlog

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// EncodedEvt represents encoded event used by a specific encoder implementation
type EncodedEvt struct {
	Data string
	Type string
}

// Encoder is used by storage engines that serialize payloads in order to
// correctly marshal and unmarshal event bodies and metadata
type Encoder interface {
	Encode(any) (*EncodedEvt, error)
	Decode(*EncodedEvt) (any, error)
}

// TypeRegistry resolves payload types to names and back
type TypeRegistry interface {
	NameFromType(payload any) (string, error)
	TypeFromName(name string) (reflect.Type, error)
}

var (
	_ Encoder      = (*JsonEncoder)(nil)
	_ TypeRegistry = (*JsonEncoder)(nil)
)

// NewJsonEncoder constructs json encoder
func NewJsonEncoder(evts ...any) *JsonEncoder {
	enc := JsonEncoder{
		types: make(map[string]reflect.Type),
	}

	for _, evt := range evts {
		t := reflect.TypeOf(evt)
		enc.types[t.Name()] = t
	}

	return &enc
}

// JsonEncoder provides default json Encoder implementation
// It will marshal and unmarshal events to/from json and store the type name
type JsonEncoder struct {
	types map[string]reflect.Type
}

// NameFromType returns the registered name of the payload type
func (e *JsonEncoder) NameFromType(payload any) (string, error) {
	t := reflect.TypeOf(payload)
	if t == nil {
		return "", fmt.Errorf("%w: nil payload", ErrEventNotRegistered)
	}

	if _, ok := e.types[t.Name()]; !ok {
		return "", fmt.Errorf("%w: %s", ErrEventNotRegistered, t.String())
	}

	return t.Name(), nil
}

// TypeFromName returns the payload type registered under name
func (e *JsonEncoder) TypeFromName(name string) (reflect.Type, error) {
	t, ok := e.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEventNotRegistered, name)
	}

	return t, nil
}

// Encode marshals incoming event to it's json representation
func (e *JsonEncoder) Encode(evtData any) (*EncodedEvt, error) {
	name, err := e.NameFromType(evtData)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(evtData)
	if err != nil {
		return nil, err
	}

	return &EncodedEvt{
		Type: name,
		Data: string(data),
	}, nil
}

// Decode unmarshals incoming event to it's corresponding go type
func (e *JsonEncoder) Decode(evt *EncodedEvt) (any, error) {
	t, err := e.TypeFromName(evt.Type)
	if err != nil {
		return nil, err
	}

	v := reflect.New(t)

	err = json.Unmarshal([]byte(evt.Data), v.Interface())
	if err != nil {
		return nil, err
	}

	return v.Elem().Interface(), nil
}
