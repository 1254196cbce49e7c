package restoration

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a restoration failure.
type Kind string

const (
	KindConfig     Kind = "config"
	KindValidation Kind = "validation"
	KindTransport  Kind = "transport"
	KindNoImage    Kind = "no_image"
)

var (
	ErrMissingCredential = errors.New("API_KEY environment variable is not set")
	ErrNotImage          = errors.New("invalid file type, please upload an image")
	ErrNoImage           = errors.New("could not restore image: no image returned by the model")
)

// Error is returned by every failed Restore call.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether err is a restoration failure of the given kind.
func IsKind(err error, kind Kind) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}

// KindOf returns the failure kind, or "" for foreign errors.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// IsQuota reports whether a transport failure was the service refusing for quota reasons.
func IsQuota(err error) bool {
	if !IsKind(err, KindTransport) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "quota")
}

// FailureMessage is the human-readable text shown to the user for a failed attempt.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("Failed to restore image. %s", err.Error())
}
