package apierr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFromResponse(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		message string
		fields  []FieldError
	}{
		{
			name:    "field errors keep server order",
			status:  422,
			body:    `{"errors":{"username":["has already been taken"],"email":["is invalid","can't be blank"]}}`,
			message: "has already been taken, is invalid, can't be blank",
			fields: []FieldError{
				{Field: "username", Messages: []string{"has already been taken"}},
				{Field: "email", Messages: []string{"is invalid", "can't be blank"}},
			},
		},
		{
			name:    "single string message",
			status:  403,
			body:    `{"errors":{"email or password":"is invalid"}}`,
			message: "is invalid",
			fields:  []FieldError{{Field: "email or password", Messages: []string{"is invalid"}}},
		},
		{
			name:    "other keys are skipped",
			status:  422,
			body:    `{"status":"fail","errors":{"body":["can't be blank"]}}`,
			message: "can't be blank",
			fields:  []FieldError{{Field: "body", Messages: []string{"can't be blank"}}},
		},
		{name: "not json", status: 500, body: `<html>oops</html>`},
		{name: "empty errors", status: 404, body: `{"errors":{}}`},
		{name: "empty body", status: 502, body: ``},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := FromResponse(c.status, []byte(c.body))
			if StatusCode(err) != c.status {
				t.Errorf("expected status %d, got %d", c.status, StatusCode(err))
			}

			var ve *ValidationError
			if c.fields == nil {
				var he *HTTPError
				if !errors.As(err, &he) {
					t.Fatalf("expected *HTTPError, got %T", err)
				}
				return
			}
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if ve.Error() != c.message {
				t.Errorf("expected message %q, got %q", c.message, ve.Error())
			}
			if diff := cmp.Diff(c.fields, ve.Fields); diff != "" {
				t.Error(diff)
			}
		})
	}
}

func TestNetworkErrorUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("login: %w", &NetworkError{Op: "POST /users/login", Err: cause})
	if !errors.Is(err, cause) {
		t.Error("expected network error to unwrap to its cause")
	}
	if StatusCode(err) != 0 {
		t.Errorf("network errors carry no status, got %d", StatusCode(err))
	}
}
