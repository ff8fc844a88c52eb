package errs

import (
	"fmt"

	"github.com/go-errors/errors"
	"golang.org/x/xerrors"
)

// Kind classifies an error so that calling code (in practice the HTTP layer)
// has an easier job to do than string matching.
type Kind int

const (
	KindInternal Kind = iota
	KindMissingCredential
	KindExpired
	KindInvalid
	KindBadRequest
	KindForbidden
	KindNotFound
	KindAmbiguous
	KindConflict
	KindNoExternalPort
	KindQuotaExceeded
	KindExhausted
	KindServiceUnavailable
	KindNoSession
	KindNoEntry
	KindPortInUse
	KindNameInUse
)

// WrapError wraps an error for the sake of showing a stack trace at the top level
// the go-errors package, for some reason, does not return nil when you try to wrap
// a non-error, so we're just doing it here
func WrapError(err error) error {
	if err == nil {
		return err
	}

	return errors.Wrap(err, 0)
}

// KindError is an error which carries a Kind so that callers can map it to a
// status code without inspecting messages.
// adapted from https://medium.com/yakka/better-go-error-handling-with-xerrors-1987650e0c79
type KindError struct {
	Message string
	Kind    Kind
	cause   error
	frame   xerrors.Frame
}

// New creates a KindError with the given kind and message.
func New(kind Kind, format string, args ...interface{}) error {
	return KindError{
		Message: fmt.Sprintf(format, args...),
		Kind:    kind,
		frame:   xerrors.Caller(1),
	}
}

// Wrap creates a KindError wrapping a cause. A nil cause returns nil.
func Wrap(kind Kind, cause error, message string) error {
	if cause == nil {
		return nil
	}
	return KindError{
		Message: message,
		Kind:    kind,
		cause:   cause,
		frame:   xerrors.Caller(1),
	}
}

// FormatError is a function
func (ke KindError) FormatError(p xerrors.Printer) error {
	p.Printf("%s", ke.Message)
	ke.frame.Format(p)
	return ke.cause
}

// Format is a function
func (ke KindError) Format(f fmt.State, c rune) {
	xerrors.FormatError(ke, f, c)
}

func (ke KindError) Error() string {
	if ke.cause != nil {
		return fmt.Sprintf("%s: %s", ke.Message, ke.cause.Error())
	}
	return ke.Message
}

func (ke KindError) Unwrap() error {
	return ke.cause
}

// KindOf returns the kind carried by err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var ke KindError
	if xerrors.As(err, &ke) {
		return ke.Kind
	}
	return KindInternal
}

// HasKind reports whether err carries the given kind.
func HasKind(err error, kind Kind) bool {
	var ke KindError
	if xerrors.As(err, &ke) {
		return ke.Kind == kind
	}
	return false
}
