package event

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Decode converts an event's payload to T and validates it.
//
// The payload may already be a T or *T, or a JSON form of T given as
// map[string]any, []byte or json.RawMessage. JSON fields unknown to T are
// rejected. Any mismatch or validation failure is a *PayloadError.
func Decode[T Payload](evt Event) (T, error) {
	var payload T

	switch d := evt.Data().(type) {
	case T:
		payload = d
	case *T:
		if d == nil {
			return payload, newPayloadError[T](evt, fmt.Errorf("nil payload"))
		}
		payload = *d
	case json.RawMessage:
		if err := decodeStrict(d, &payload); err != nil {
			return payload, newPayloadError[T](evt, err)
		}
	case []byte:
		if err := decodeStrict(d, &payload); err != nil {
			return payload, newPayloadError[T](evt, err)
		}
	case map[string]any:
		data, err := json.Marshal(d)
		if err != nil {
			return payload, newPayloadError[T](evt, err)
		}
		if err := decodeStrict(data, &payload); err != nil {
			return payload, newPayloadError[T](evt, err)
		}
	default:
		return payload, newPayloadError[T](evt, fmt.Errorf("unexpected payload type %T", d))
	}

	if err := payload.Validate(); err != nil {
		return payload, newPayloadError[T](evt, err)
	}
	return payload, nil
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func newPayloadError[T any](evt Event, err error) *PayloadError {
	var zero T
	return &PayloadError{
		Topic:    evt.Topic(),
		EventID:  evt.ID(),
		Expected: fmt.Sprintf("%T", zero),
		Err:      err,
	}
}
