// Package apierr defines the failures the Identity and Content API clients
// report. Callers distinguish them with errors.Is and errors.As.
package apierr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedToken means a session token could not be decoded. It is never
	// fatal; holders of such a token are simply not authenticated.
	ErrMalformedToken = errors.New("malformed token")
	// ErrAuthenticationRequired is returned when an authenticated endpoint
	// answers 401. The local session has already been cleared by then.
	ErrAuthenticationRequired = errors.New("authentication required")
)

// FieldError lists the messages the server reported for one field.
type FieldError struct {
	Field    string
	Messages []string
}

// ValidationError is a non-2xx response carrying {errors: {field: [msg]}}.
type ValidationError struct {
	Status int
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Messages(), ", ")
}

// Messages flattens the field messages in the order the server sent them.
func (e *ValidationError) Messages() []string {
	var out []string
	for _, f := range e.Fields {
		out = append(out, f.Messages...)
	}
	return out
}

// HTTPError is any other non-2xx response.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error: status %d", e.Status)
}

// NetworkError wraps a transport failure such as an unreachable host.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Status
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return 0
}

// FromResponse classifies a non-2xx response body. Bodies that are not a
// well-formed error document yield an *HTTPError.
func FromResponse(status int, body []byte) error {
	fields, err := decodeFieldErrors(body)
	if err != nil || len(fields) == 0 {
		return &HTTPError{Status: status}
	}
	return &ValidationError{Status: status, Fields: fields}
}

// decodeFieldErrors walks the document with a token decoder so field order
// survives; a map would lose it.
func decodeFieldErrors(body []byte) ([]FieldError, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	var fields []FieldError
	for dec.More() {
		key, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if key != "errors" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, err
			}
			continue
		}
		if err := expectDelim(dec, '{'); err != nil {
			return nil, err
		}
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			name, _ := tok.(string)
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return nil, err
			}
			fields = append(fields, FieldError{Field: name, Messages: messagesOf(raw)})
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

// messagesOf accepts either a list of strings or a single string.
func messagesOf(raw json.RawMessage) []string {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}
	}
	return nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}
