// Package errtaxonomy implements the four-member error taxonomy visible at
// the HTTP boundary (spec.md §7): app_error, backend_error,
// backend_network_error, and concurrency_error. It replaces the teacher's
// DAG-propagation-policy framing (internal/errorhandling/propagation.go) —
// Dedalus's propagation rule is fixed (first failing task fails the whole
// instance, see internal/graphmentor), so there is no policy to configure
// here, only a classification of what went wrong and what HTTP status and
// code it maps to.
package errtaxonomy

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the taxonomy tag carried in the {status:"error", code:...} envelope.
type Code string

const (
	CodeAppError             Code = "app_error"
	CodeBackendError         Code = "backend_error"
	CodeBackendNetworkError  Code = "backend_network_error"
	CodeConcurrencyError     Code = "concurrency_error"
)

// TaxonomyError is the common shape every taxonomy member implements.
type TaxonomyError struct {
	Code       Code
	Reason     string
	HTTPStatus int
	cause      error
}

func (e *TaxonomyError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *TaxonomyError) Unwrap() error { return e.cause }

// AppError covers invalid requests, unknown entities, and forbidden state
// transitions — always a 4xx at the HTTP boundary.
func AppError(reason string, cause error) *TaxonomyError {
	return &TaxonomyError{Code: CodeAppError, Reason: reason, HTTPStatus: http.StatusBadRequest, cause: cause}
}

// NotFoundError is an AppError specialization returning 404.
func NotFoundError(reason string) *TaxonomyError {
	return &TaxonomyError{Code: CodeAppError, Reason: reason, HTTPStatus: http.StatusNotFound}
}

// ForbiddenTransitionError is an AppError specialization for a rejected
// state.Machine.ChangeState call — always 409 (conflicting state).
func ForbiddenTransitionError(cause error) *TaxonomyError {
	return &TaxonomyError{Code: CodeAppError, Reason: "forbidden state transition", HTTPStatus: http.StatusConflict, cause: cause}
}

// BackendError covers Store failures.
func BackendError(reason string, cause error) *TaxonomyError {
	return &TaxonomyError{Code: CodeBackendError, Reason: reason, HTTPStatus: http.StatusInternalServerError, cause: cause}
}

// BackendNetworkError covers WorkerClient RPC failures. Per spec.md §7,
// callers inside a tick() log-and-continue on this rather than propagate it
// as a hard failure — it is exported mainly for the HTTP boundary, where a
// direct (non-tick) RPC failure (e.g. a log proxy read) does surface as 502.
func BackendNetworkError(reason string, cause error) *TaxonomyError {
	return &TaxonomyError{Code: CodeBackendNetworkError, Reason: reason, HTTPStatus: http.StatusBadGateway, cause: cause}
}

// ConcurrencyError is reserved by spec.md §7 for future use; no core
// operation currently raises it.
func ConcurrencyError(reason string, cause error) *TaxonomyError {
	return &TaxonomyError{Code: CodeConcurrencyError, Reason: reason, HTTPStatus: http.StatusConflict, cause: cause}
}

// As is a thin wrapper around errors.As for *TaxonomyError, used by the
// HTTP middleware to decide how to render a handler error.
func As(err error) (*TaxonomyError, bool) {
	var te *TaxonomyError
	ok := errors.As(err, &te)
	return te, ok
}
