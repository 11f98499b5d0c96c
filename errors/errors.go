// Package errors is the error package used throughout factwire.
//
// It re-exports github.com/cockroachdb/errors so every package gets stack
// traces, hints and safe details from one import, and it declares the
// sentinel errors of the ingestion pipeline.
//
//	if err := store.Journal.Record(ctx, f); err != nil {
//	    return errors.Wrapf(err, "record %s", f.ID)
//	}
//
//	if errors.Is(err, errors.ErrNoChange) {
//	    // resubmission, nothing to do
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// Hints and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSafeDetails    = crdb.WithSafeDetails
	WithSecondaryError = crdb.WithSecondaryError
	CombineErrors      = crdb.CombineErrors
	GetAllHints        = crdb.GetAllHints
	GetAllDetails      = crdb.GetAllDetails
	FlattenHints       = crdb.FlattenHints
)

// Inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

var (
	Handled            = crdb.Handled
	AssertionFailedf   = crdb.AssertionFailedf
	GetReportableStack = crdb.GetReportableStackTrace
)

// Generic sentinels, checked with errors.Is.
var (
	// ErrNotFound indicates the requested fact or resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates a malformed candidate or request
	ErrInvalidRequest = New("invalid request")

	// ErrServiceUnavailable indicates a required collaborator is not available
	ErrServiceUnavailable = New("service unavailable")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")

	// ErrConflict indicates a resource conflict
	ErrConflict = New("resource conflict")
)

// Ingestion taxonomy.
var (
	// ErrNoChange is the no-op signal: the candidate equals the current value.
	ErrNoChange = New("no change")

	// ErrInvalidValue means a hard sanity rule rejected the candidate.
	// Producers must not retry the identical payload.
	ErrInvalidValue = New("invalid value")

	// ErrScorerUnavailable means the plausibility scorer failed or timed out.
	// The validator falls back to rule-only confidence.
	ErrScorerUnavailable = New("scorer unavailable")

	// ErrSubscriberOverflow marks entries dropped from a full subscriber buffer.
	// It is only ever counted on the subscription, never returned to producers.
	ErrSubscriberOverflow = New("subscriber overflow")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsNoChange checks if an error is or wraps ErrNoChange
func IsNoChange(err error) bool {
	return err != nil && Is(err, ErrNoChange)
}

// IsInvalidValue checks if an error is or wraps ErrInvalidValue
func IsInvalidValue(err error) bool {
	return err != nil && Is(err, ErrInvalidValue)
}

// IsScorerUnavailable checks if an error is or wraps ErrScorerUnavailable
func IsScorerUnavailable(err error) bool {
	return err != nil && Is(err, ErrScorerUnavailable)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrapf(ErrNotFound, format, args...)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidRequest, format, args...)
}

// NewInvalidValueError creates an invalid-value error with a formatted message
func NewInvalidValueError(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidValue, format, args...)
}
