// Package events defines the dashboard event model.
//
// An Event is a tagged JSON object ({"type": ..., fields...}). Known kinds decode
// into typed payloads; unknown kinds are kept as Passthrough so producers can add
// kinds without a backend release. Events decoded from the wire keep their raw
// bytes and re-encode unchanged.
package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type Kind string

const (
	KindUserUpserted    Kind = "user_upserted"
	KindGreetingSent    Kind = "greeting_sent"
	KindMessageReceived Kind = "message_received"
	KindStatsUpdated    Kind = "stats_updated"
)

// Payload is one of the typed variants below, or Passthrough.
type Payload interface {
	Kind() Kind
}

type UserUpserted struct {
	UserID    int64  `json:"user_id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

func (UserUpserted) Kind() Kind { return KindUserUpserted }

type GreetingSent struct {
	UserID int64  `json:"user_id"`
	Text   string `json:"text"`
}

func (GreetingSent) Kind() Kind { return KindGreetingSent }

type MessageReceived struct {
	UserID      int64   `json:"user_id"`
	MessageType string  `json:"message_type"`
	MessageText *string `json:"message_text"`
}

func (MessageReceived) Kind() Kind { return KindMessageReceived }

type StatsUpdated struct {
	TotalUsers     int64 `json:"total_users"`
	TotalGreetings int64 `json:"total_greetings"`
	TotalMessages  int64 `json:"total_messages"`
}

func (StatsUpdated) Kind() Kind { return KindStatsUpdated }

// Passthrough carries an event of a kind this build does not know about.
type Passthrough struct {
	Type   Kind
	Fields map[string]any
}

func (p Passthrough) Kind() Kind { return p.Type }

var (
	ErrNotObject   = errors.New("events: payload must be a JSON object")
	ErrMissingType = errors.New("events: payload must carry a non-empty string \"type\"")
)

// Event is the unit of fan-out.
type Event struct {
	Payload Payload

	raw json.RawMessage
}

// New wraps a typed payload.
func New(p Payload) Event { return Event{Payload: p} }

func (e Event) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// Decode parses a wire event. The raw bytes are retained so MarshalJSON
// returns them unchanged.
func Decode(b []byte) (Event, error) {
	b = bytes.TrimSpace(b)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil || fields == nil {
		return Event{}, ErrNotObject
	}
	var kind Kind
	if rawType, ok := fields["type"]; !ok || json.Unmarshal(rawType, &kind) != nil || kind == "" {
		return Event{}, ErrMissingType
	}

	var (
		p   Payload
		err error
	)
	switch kind {
	case KindUserUpserted:
		p, err = decodeAs[UserUpserted](b)
	case KindGreetingSent:
		p, err = decodeAs[GreetingSent](b)
	case KindMessageReceived:
		p, err = decodeAs[MessageReceived](b)
	case KindStatsUpdated:
		p, err = decodeAs[StatsUpdated](b)
	}
	// Producers are free to send any field values; a payload that does not fit
	// its typed view is still forwarded as-is.
	if p == nil || err != nil {
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			return Event{}, fmt.Errorf("events: decode %s: %w", kind, err)
		}
		delete(m, "type")
		p = Passthrough{Type: kind, Fields: m}
	}
	return Event{Payload: p, raw: append(json.RawMessage(nil), b...)}, nil
}

func decodeAs[T Payload](b []byte) (Payload, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// MarshalJSON renders the wire object with its "type" discriminator.
func (e Event) MarshalJSON() ([]byte, error) {
	if len(e.raw) > 0 {
		return e.raw, nil
	}
	if e.Payload == nil {
		return nil, ErrMissingType
	}

	var fields map[string]any
	switch p := e.Payload.(type) {
	case Passthrough:
		fields = make(map[string]any, len(p.Fields)+1)
		for k, v := range p.Fields {
			fields[k] = v
		}
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(b, &fields); err != nil {
			return nil, err
		}
		if fields == nil {
			fields = map[string]any{}
		}
	}
	fields["type"] = e.Payload.Kind()
	return json.Marshal(fields)
}

func (e *Event) UnmarshalJSON(b []byte) error {
	d, err := Decode(b)
	if err != nil {
		return err
	}
	*e = d
	return nil
}
