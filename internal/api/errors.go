package api

import (
	"errors"
	"fmt"
)

// ErrAuthExpired signals a 401 from any authenticated call. The caller must
// treat it as a forced-logout condition, never as something to retry.
var ErrAuthExpired = errors.New("authentication expired")

// NetworkError is a transport-level failure: no connectivity, timeout, DNS.
// Queued data is preserved and the operation is retried on a later cycle.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError means the server was reached but rejected the request, either via
// a non-2xx status or an envelope with isSuccess=false.
type APIError struct {
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("api error %s", e.Code)
	}
	return fmt.Sprintf("api error %s: %s", e.Code, e.Description)
}
