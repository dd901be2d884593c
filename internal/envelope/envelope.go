// Package envelope defines the self-describing message record carried over
// the bus: {type, source, timestamp, payload}, plus a small headers map for
// cross-cutting metadata (request/channel ids) that individual channel
// payloads don't otherwise carry.
package envelope

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the unit of transport on every bus channel. Type selects how
// a subscriber decodes Payload; Source names the publishing service.
type Envelope struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Source    string            `json:"source"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   json.RawMessage   `json:"payload"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// New marshals payload and stamps the envelope with a fresh ID and the
// current UTC time.
func New(source, messageType string, payload interface{}) (*Envelope, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:        uuid.New().String(),
		Type:      messageType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Payload:   payloadBytes,
	}, nil
}

// Reply builds a response envelope addressed back to the original request,
// carrying the original's request_id header forward so correlation survives
// the round trip.
func Reply(original *Envelope, source, messageType string, payload interface{}) (*Envelope, error) {
	e, err := New(source, messageType, payload)
	if err != nil {
		return nil, err
	}
	if requestID, ok := original.GetHeader("request_id"); ok {
		e.SetHeader("request_id", requestID)
	}
	return e, nil
}

// SetHeader sets a custom header.
func (e *Envelope) SetHeader(key, value string) {
	if e.Headers == nil {
		e.Headers = make(map[string]string)
	}
	e.Headers[key] = value
}

// GetHeader retrieves a custom header.
func (e *Envelope) GetHeader(key string) (string, bool) {
	if e.Headers == nil {
		return "", false
	}
	value, exists := e.Headers[key]
	return value, exists
}

// UnmarshalPayload decodes Payload into v.
func (e *Envelope) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// ToJSON serializes the envelope.
func (e *Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an envelope.
func FromJSON(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate checks that the envelope carries the fields every consumer
// depends on.
func (e *Envelope) Validate() error {
	if e.ID == "" {
		return &ValidationError{Field: "id", Message: "envelope ID is required"}
	}
	if e.Type == "" {
		return &ValidationError{Field: "type", Message: "message type is required"}
	}
	if e.Source == "" {
		return &ValidationError{Field: "source", Message: "source is required"}
	}
	if e.Payload == nil {
		return &ValidationError{Field: "payload", Message: "payload is required"}
	}
	return nil
}

// ValidationError reports a single invalid envelope field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
