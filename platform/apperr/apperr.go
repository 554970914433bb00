// Package apperr is the error vocabulary shared by the engine and its HTTP
// surface. A Kind decides the status code; Op names the failing operation.
package apperr

import (
	"errors"
	"net/http"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindNotFound: a referenced rule, lead, cadence or template is absent.
	KindNotFound
	KindValidation
	// KindUpstream: the lead store or a collaborator failed.
	KindUpstream
	KindUnauthorized
	KindInternal
)

var statusByKind = map[Kind]int{
	KindNotFound:     http.StatusNotFound,
	KindValidation:   http.StatusBadRequest,
	KindUnauthorized: http.StatusUnauthorized,
}

type Error struct {
	Kind    Kind
	Message string
	Op      string
	Err     error
	Details any
}

// Error renders "op: message: cause", omitting empty parts.
func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	parts = append(parts, e.Message)
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) HTTPStatus() int {
	if status, ok := statusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFound(message string) *Error     { return &Error{Kind: KindNotFound, Message: message} }
func Validation(message string) *Error   { return &Error{Kind: KindValidation, Message: message} }
func Unauthorized(message string) *Error { return &Error{Kind: KindUnauthorized, Message: message} }
func Internal(message string) *Error     { return &Error{Kind: KindInternal, Message: message} }

// Upstream wraps a lead store or collaborator failure.
func Upstream(message string, err error) *Error {
	return Wrap(KindUpstream, message, err)
}

// GetKind reports the Kind of the first *Error in err's chain.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return GetKind(err) == kind
}
