package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure surfaced by the engine.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindValidation    ErrorKind = "validation"
	KindNotFound      ErrorKind = "not_found"
	KindDataIntegrity ErrorKind = "data_integrity"
	KindPartialInput  ErrorKind = "partial_input"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrDataIntegrity = errors.New("data integrity error")
	ErrPartialInput  = errors.New("partial input")
)

// Error is a classified engine error.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrDataIntegrity:
		return e.Kind == KindDataIntegrity
	case ErrPartialInput:
		return e.Kind == KindPartialInput
	}
	return false
}

func newError(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Validationf reports a malformed or out-of-range request.
func Validationf(op, format string, args ...any) error {
	return newError(KindValidation, op, format, args...)
}

// NotFoundf reports an unknown node id.
func NotFoundf(op, format string, args ...any) error {
	return newError(KindNotFound, op, format, args...)
}

// Integrityf reports an inconsistent graph detected at build time.
func Integrityf(op, format string, args ...any) error {
	return newError(KindDataIntegrity, op, format, args...)
}

// PartialInputf reports a source record that had to be skipped.
func PartialInputf(op, format string, args ...any) error {
	return newError(KindPartialInput, op, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}
