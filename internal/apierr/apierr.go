// Package apierr implements the error taxonomy and JSON envelope described
// in spec.md §7: every error the dispatcher produces carries a Kind, an HTTP
// status, and a message, and is serialized the same way regardless of where
// in the pipeline it originated.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the error taxonomy of spec.md §7.
type Kind string

const (
	KindBadRequest            Kind = "BadRequest"
	KindReferrerDenied        Kind = "ReferrerDenied"
	KindNoResource            Kind = "NoResource"
	KindRateExceeded          Kind = "RateExceeded"
	KindLimiterUnavailable    Kind = "LimiterUnavailable"
	KindTokenAcquisitionFailed Kind = "TokenAcquisitionFailed"
	KindUpstreamError         Kind = "UpstreamError"
	KindUpstreamAuthExpired   Kind = "UpstreamAuthExpired"
	KindInternalError         Kind = "InternalError"
)

// statusForKind is the default HTTP status associated with a Kind per the
// §7 table. Callers may override it (e.g. UpstreamError passes through the
// upstream's actual status code).
var statusForKind = map[Kind]int{
	KindBadRequest:             http.StatusForbidden,
	KindReferrerDenied:         http.StatusForbidden,
	KindNoResource:             http.StatusNotFound,
	KindRateExceeded:           http.StatusTooManyRequests,
	KindLimiterUnavailable:     420,
	KindTokenAcquisitionFailed: http.StatusBadGateway,
	KindUpstreamError:          http.StatusBadGateway,
	KindUpstreamAuthExpired:    http.StatusBadGateway,
	KindInternalError:          http.StatusInternalServerError,
}

// Error is the uniform error type carried through the dispatcher.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New builds an Error for the given Kind using the taxonomy's default status.
func New(kind Kind, message string, details string) *Error {
	status, ok := statusForKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &Error{Kind: kind, Status: status, Message: message, Details: details}
}

// WithStatus builds an Error overriding the default HTTP status — used by
// UpstreamError to pass through the upstream's own non-2xx status code.
func WithStatus(kind Kind, status int, message string, details string) *Error {
	if status < 100 || status > 599 {
		status = http.StatusInternalServerError
	}
	return &Error{Kind: kind, Status: status, Message: message, Details: details}
}

func BadRequest(message string) *Error { return New(KindBadRequest, message, "") }

func ReferrerDenied(referrer string) *Error {
	return New(KindReferrerDenied, "referrer not permitted", referrer)
}

func NoResource(path string) *Error {
	return New(KindNoResource, "no configured resource matches the request", path)
}

func RateExceeded(resourceURL, referrerKey string) *Error {
	return New(KindRateExceeded, "rate limit exceeded", resourceURL+" "+referrerKey)
}

func LimiterUnavailable(details string) *Error {
	return New(KindLimiterUnavailable, "rate limiter storage error", details)
}

func TokenAcquisitionFailed(details string) *Error {
	return New(KindTokenAcquisitionFailed, "failed to acquire upstream token", details)
}

func UpstreamError(status int, details string) *Error {
	return WithStatus(KindUpstreamError, status, "upstream returned an error", details)
}

func Internal(details string) *Error {
	return New(KindInternalError, "internal error", details)
}

// envelope is the wire shape of spec.md §7: {"error":{...},"request":<url>}.
type envelope struct {
	Error   envelopeError `json:"error"`
	Request string        `json:"request"`
}

type envelopeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// WriteJSON serializes err as the spec.md §7 envelope and writes it (plus a
// matching HTTP status line) to w. requestURL is echoed back verbatim.
func WriteJSON(w http.ResponseWriter, err *Error, requestURL string) {
	status := err.Status
	if status < 100 || status > 599 {
		status = http.StatusInternalServerError
	}
	body := envelope{
		Error: envelopeError{
			Code:    status,
			Message: err.Message,
			Details: err.Details,
		},
		Request: requestURL,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// As reports whether err is (or wraps) an *Error, mirroring errors.As without
// requiring callers to import errors for this one common case.
func As(err error) (*Error, bool) {
	var apiErr *Error
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
