package assistant

import (
	"errors"
	"net/http"
)

// ErrorKind classifies failures for the transport boundary.
type ErrorKind string

const (
	KindValidation     ErrorKind = "ValidationError"
	KindAuthentication ErrorKind = "AuthenticationError"
	KindUpstream       ErrorKind = "UpstreamError"
	KindUnknownTool    ErrorKind = "UnknownToolError"
	KindStore          ErrorKind = "StoreError"
)

// HTTPStatus maps the kind to a response status. Unknown tools are reported
// inside a successful reply.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindUnknownTool:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindUpstream for unclassified errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUpstream
}
