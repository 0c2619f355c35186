// Package provider holds the error taxonomy shared by all upstream adapters.
package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUpstreamUnavailable marks a provider non-success or timeout.
// Callers fall back to the next provider when they see it.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// ErrNoData marks a successful call that returned nothing usable.
// It is not a failure: price lookups fall through, trade fetches report empty.
var ErrNoData = errors.New("no data")

// UpstreamError describes a failed upstream call.
type UpstreamError struct {
	Provider   string
	StatusCode int // 0 for transport errors
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is makes every UpstreamError match ErrUpstreamUnavailable.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

// NewUpstreamError wraps err for the named provider.
func NewUpstreamError(name string, status int, err error) *UpstreamError {
	return &UpstreamError{Provider: name, StatusCode: status, Err: err}
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.StatusCode == http.StatusNotFound
}
