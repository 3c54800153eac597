// Package codec turns raw log records into typed payloads. A failure is always
// confined to the record that caused it.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	HeaderCorrelationID = "correlationId"
	HeaderReplyTopic    = "replyTopic"
)

// Message is the wire envelope shared by consumers and publishers.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Headers   map[string]string
	Value     []byte
	Timestamp time.Time
}

func (m Message) Header(name string) (string, bool) {
	if m.Headers == nil {
		return "", false
	}
	v, ok := m.Headers[name]
	return v, ok && v != ""
}

// Validator is implemented by every payload type.
type Validator interface {
	Validate() error
}

type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "codec: parse: " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "codec: invalid payload: " + e.Reason
	}
	return fmt.Sprintf("codec: invalid %s: %s", e.Field, e.Reason)
}

// Invalid builds a *ValidationError for a single field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

var errEmpty = errors.New("empty payload")

// Decode parses raw as JSON into T and validates it.
func Decode[T Validator](raw []byte) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, &ParseError{Err: errEmpty}
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return v, &ValidationError{Field: typeErr.Field, Reason: "unexpected type " + typeErr.Value}
		}
		var fieldErr *FieldError
		if errors.As(err, &fieldErr) {
			return v, &ValidationError{Field: fieldErr.Field, Reason: fieldErr.Reason}
		}
		return v, &ParseError{Err: err}
	}
	if err := v.Validate(); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return v, ve
		}
		return v, &ValidationError{Reason: err.Error()}
	}
	return v, nil
}

// Encode marshals v into a message bound for topic.
func Encode(topic string, key string, v any, headers map[string]string) (Message, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("codec: encode %s: %w", topic, err)
	}
	m := Message{Topic: topic, Value: raw, Headers: headers}
	if key != "" {
		m.Key = []byte(key)
	}
	return m, nil
}
