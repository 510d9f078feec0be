package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure anywhere in the fetch-and-extract pipeline.
// The same taxonomy is used by fetch attempts, pipeline results and the API.
type ErrorKind string

const (
	KindNetwork   ErrorKind = "network"
	KindTimeout   ErrorKind = "timeout"
	KindBlocked   ErrorKind = "blocked"
	KindNotFound  ErrorKind = "not_found"
	KindUpstream  ErrorKind = "upstream"
	KindInvalid   ErrorKind = "invalid"
	KindExhausted ErrorKind = "exhausted"
	KindOther     ErrorKind = "other"
	KindInternal  ErrorKind = "internal"

	// API-only kinds.
	KindUnauthorized ErrorKind = "unauthorized"
	KindRateLimited  ErrorKind = "rate_limited"
)

// Terminal reports whether a failure of this kind should stop the fetch
// chain instead of escalating to the next strategy.
func (k ErrorKind) Terminal() bool {
	switch k {
	case KindNotFound, KindUpstream, KindInvalid, KindOther:
		return true
	}
	return false
}

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// ScrapeError is the API-facing error type carrying an error kind.
// It implements the error interface and supports error wrapping via Unwrap.
type ScrapeError struct {
	Code    ErrorKind
	Message string
	Err     error // wrapped original error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// ErrorKind implements Kinded.
func (e *ScrapeError) ErrorKind() ErrorKind {
	return e.Code
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(code ErrorKind, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *ScrapeError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Kind: e.Code, Message: e.Message}
}

// Kinded is implemented by every error type that knows its ErrorKind.
type Kinded interface {
	ErrorKind() ErrorKind
}

// KindOf returns the kind of the first error in err's chain that carries
// one, or KindOther.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindOther
}
