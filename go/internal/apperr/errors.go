package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how callers are expected to react to it.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindValidation is a client error; never retried.
	KindValidation
	// KindConflict means another request owns the same idempotency key and has not
	// finished yet. The caller may retry later.
	KindConflict
	// KindStorage covers connection loss, unexpected constraint violations and
	// failed commits.
	KindStorage
	// KindDelivery is a transport failure while sending an email. Routine; the task
	// stays queued.
	KindDelivery
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindStorage:
		return "storage"
	case KindDelivery:
		return "delivery"
	default:
		return "unknown"
	}
}

// Error is a classified error. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op string, err error) error { return newError(KindValidation, op, err) }
func Conflict(op string, err error) error   { return newError(KindConflict, op, err) }
func Storage(op string, err error) error    { return newError(KindStorage, op, err) }
func Delivery(op string, err error) error   { return newError(KindDelivery, op, err) }

// KindOf returns the kind of the outermost classified error in err's chain, or
// KindUnknown when none is present.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
