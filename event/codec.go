package event

import (
	"encoding/json"
	"fmt"
)

// Codec serializes a record into a message body
type Codec interface {
	Encode(f Fields) ([]byte, error)
	ContentType() string
}

// EncodingError is returned when a record cannot be serialized. The record
// is dropped; it is never retried.
type EncodingError struct {
	Codec string
	Err   error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("event encoding error: %s: %v", e.Codec, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// JSONCodec encodes records as a single JSON object
type JSONCodec struct{}

// Encode implements Codec. Raw records are checked and passed through.
func (JSONCodec) Encode(f Fields) ([]byte, error) {
	switch r := f.(type) {
	case Raw:
		if !json.Valid(r) {
			return nil, &EncodingError{Codec: "json", Err: fmt.Errorf("invalid JSON input")}
		}
		return []byte(r), nil
	case Record:
		data, err := json.Marshal(map[string]any(r))
		if err != nil {
			return nil, &EncodingError{Codec: "json", Err: err}
		}
		return data, nil
	default:
		return nil, &EncodingError{Codec: "json", Err: fmt.Errorf("unsupported record type %T", f)}
	}
}

// ContentType implements Codec
func (JSONCodec) ContentType() string {
	return "application/json"
}
