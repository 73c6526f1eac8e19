package sources

import (
	"errors"
	"fmt"
)

// Source names used in logs and metric labels
const (
	SourceShopify    = "shopify"
	SourceMeta       = "meta"
	SourceShiprocket = "shiprocket"
)

// ErrBulkBusy is returned when another bulk export holds the shop's lock.
var ErrBulkBusy = errors.New("bulk operation already running for shop")

// TransientError is a failure worth retrying: network errors, timeouts,
// rate limiting and 5xx responses.
type TransientError struct {
	Source     string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transient error (status %d): %v", e.Source, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient error: %v", e.Source, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError is a failure that will not go away on retry: 4xx responses,
// GraphQL errors and undecodable bodies.
type FatalError struct {
	Source     string
	StatusCode int
	Err        error
}

func (e *FatalError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: request failed (status %d): %v", e.Source, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: request failed: %v", e.Source, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or anything it wraps) is a TransientError
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err (or anything it wraps) is a FatalError
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// StatusCode extracts the HTTP status carried by a source error, or 0.
func StatusCode(err error) int {
	var te *TransientError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}

func transient(source string, status int, err error) error {
	return &TransientError{Source: source, StatusCode: status, Err: err}
}

func fatal(source string, status int, err error) error {
	return &FatalError{Source: source, StatusCode: status, Err: err}
}
