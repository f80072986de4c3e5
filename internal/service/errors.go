// Package service holds the matching core: the person service with its profile merge
// rules and the two-stage similarity matcher.
package service

import (
	"errors"
	"fmt"
)

// Kind classifies failures so transports can map them without parsing messages.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindNoChange
	KindDependency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindNoChange:
		return "no_change"
	case KindDependency:
		return "dependency"
	default:
		return "internal"
	}
}

// Error is a classified service failure.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by kind and message, ignoring Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

// Sentinel errors
var (
	ErrMissingPhone         = &Error{Kind: KindValidation, Message: "Phone number is required"}
	ErrMissingName          = &Error{Kind: KindValidation, Message: "Name is required"}
	ErrInvalidPhone         = &Error{Kind: KindValidation, Message: "Invalid phone number format"}
	ErrInvalidQuery         = &Error{Kind: KindValidation, Message: "Query text is required"}
	ErrPersonNotFound       = &Error{Kind: KindNotFound, Message: "Person not found"}
	ErrNoMatch              = &Error{Kind: KindNotFound, Message: "No similar people found"}
	ErrPhoneExists          = &Error{Kind: KindConflict, Message: "Phone number already exists"}
	ErrNoChange             = &Error{Kind: KindNoChange, Message: "No changes to apply"}
	ErrEmbeddingUnavailable = &Error{Kind: KindDependency, Message: "Embedding model unavailable"}
)

// wrap attaches an operation and cause to a sentinel.
func wrap(op string, sentinel *Error, cause error) *Error {
	return &Error{Kind: sentinel.Kind, Op: op, Message: sentinel.Message, Err: cause}
}

func dependency(op, what string, cause error) *Error {
	return &Error{Kind: KindDependency, Op: op, Message: what + " failed", Err: cause}
}

func internal(op string, cause error) *Error {
	return &Error{Kind: KindInternal, Op: op, Message: "unexpected failure", Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return fmt.Sprint(err)
}

// IsRetryable reports whether err is a transient dependency failure.
func IsRetryable(err error) bool {
	return KindOf(err) == KindDependency
}
