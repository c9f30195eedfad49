package types

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure.
type Kind int

const (
	KindInsufficientData Kind = iota + 1
	KindInvalidAudioFormat
	KindProcessingFailed
	KindConfigurationInvalid
	KindTimeout
	KindModelUnavailable
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindInsufficientData:
		return "insufficient data"
	case KindInvalidAudioFormat:
		return "invalid audio format"
	case KindProcessingFailed:
		return "processing failed"
	case KindConfigurationInvalid:
		return "configuration invalid"
	case KindTimeout:
		return "timeout"
	case KindModelUnavailable:
		return "model unavailable"
	default:
		return "unknown error"
	}
}

// Error is a classified engine error. Op names the failing operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinel values below work
// with errors.Is regardless of Op or cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrInsufficientData     = &Error{Kind: KindInsufficientData}
	ErrInvalidAudioFormat   = &Error{Kind: KindInvalidAudioFormat}
	ErrProcessingFailed     = &Error{Kind: KindProcessingFailed}
	ErrConfigurationInvalid = &Error{Kind: KindConfigurationInvalid}
	ErrTimeout              = &Error{Kind: KindTimeout}
	ErrModelUnavailable     = &Error{Kind: KindModelUnavailable}
)

// E builds a classified error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first classified error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
