package errs

import (
	"errors"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// HTTP-aligned error codes. Forbidden exists in the taxonomy but is mapped to
// NotFound at the REST boundary so a non-participant cannot confirm a
// conversation exists.
const (
	CodeValidation      = 400
	CodeUnauthenticated = 401
	CodeForbidden       = 403
	CodeNotFound        = 404
	CodeTransient       = 500
)

var (
	ErrValidation      = NewCodeError(CodeValidation, "invalid argument")
	ErrUnauthenticated = NewCodeError(CodeUnauthenticated, "unauthenticated")
	ErrForbidden       = NewCodeError(CodeForbidden, "forbidden")
	ErrNotFound        = NewCodeError(CodeNotFound, "not found")
	ErrTransient       = NewCodeError(CodeTransient, "service unavailable")
)

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

func (e *CodeError) WithDetail(detail string) *CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: d}
}

// Is matches on code so wrapped and detailed variants compare equal.
func (e *CodeError) Is(err error) bool {
	var ce *CodeError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == e.Code
}

// Code extracts the taxonomy code from err, defaulting to Transient for
// anything unclassified (store failures surface as 5xx).
func Code(err error) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeTransient
}

// Unwrap converts an arbitrary error into its CodeError, wrapping unknown
// errors as Transient.
func CodeOf(err error) *CodeError {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce
	}
	return ErrTransient.WithDetail(err.Error())
}

func New(msg string) error { return pkgerrors.New(msg) }

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, msg)
}

func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrapf(err, format, args...)
}
