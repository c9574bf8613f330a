package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")
	// ErrNotAuthenticated is returned when an operation needs a stored credential and there is none.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrUnauthorized is the backend's 401.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSignInRequired means credentials were purged after a 401 and the user must sign in again.
	ErrSignInRequired = errors.New("sign in required")
	ErrEmptyCart      = errors.New("cart is empty")
	// ErrInvalidQuantity is returned for quantities below 1.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	// ErrProductRef is returned when neither a product id nor a slug was given.
	ErrProductRef = errors.New("product id or slug required")
	// ErrItemBusy is returned while a mutation for the same item is in flight.
	ErrItemBusy = errors.New("item update already in progress")
	// ErrUnexpectedContent marks a non-JSON response where JSON was expected.
	ErrUnexpectedContent = errors.New("unexpected response content type")
)

// ContentError reports a response whose content type was not JSON. It points
// at deployment misconfiguration rather than bad input.
type ContentError struct {
	Endpoint    string
	ContentType string
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("expected JSON from %s, got %q; check the backend URL", e.Endpoint, e.ContentType)
}

func (e *ContentError) Unwrap() error {
	return ErrUnexpectedContent
}

// APIError carries a non-2xx backend response. Payload is kept verbatim so it
// can be surfaced to the user as-is.
type APIError struct {
	Status  int
	Detail  string
	Fields  map[string][]string
	Payload []byte
}

func (e *APIError) Error() string {
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("backend returned %d: %s", e.Status, msg)
	}
	return fmt.Sprintf("backend returned %d", e.Status)
}

// Message renders the server's error the way the storefront shows it:
// non_field_errors, then detail, then field errors in key order.
func (e *APIError) Message() string {
	if v := e.Fields["non_field_errors"]; len(v) > 0 {
		return strings.Join(v, ", ")
	}
	if e.Detail != "" {
		return e.Detail
	}
	if v := e.Fields["error"]; len(v) > 0 {
		return strings.Join(v, ", ")
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], ", "))
	}
	return strings.Join(parts, "; ")
}

// IsValidation reports whether the error is a 4xx carrying field errors.
func (e *APIError) IsValidation() bool {
	return e.Status >= 400 && e.Status < 500 && len(e.Fields) > 0
}

// ValidationError carries client-side field errors, keyed by JSON field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// Add records msg for field unless the field already has a message.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

// OrNil returns e when it holds at least one field error.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}
