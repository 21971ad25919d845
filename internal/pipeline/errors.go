package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the pipeline can surface.
type ErrorKind string

const (
	KindInvalidTimeFormat  ErrorKind = "INVALID_TIME_FORMAT"
	KindInvalidRange       ErrorKind = "INVALID_RANGE"
	KindInvalidRequest     ErrorKind = "INVALID_REQUEST"
	KindSourceFetchFailure ErrorKind = "SOURCE_FETCH_FAILURE"
	KindTranscodeFailure   ErrorKind = "TRANSCODE_FAILURE"
	KindTimeout            ErrorKind = "TIMEOUT"
	KindOutputMissing      ErrorKind = "OUTPUT_MISSING"
	KindCanceled           ErrorKind = "CANCELED"
)

// IsRequestError reports whether the kind is raised before any subprocess runs.
func (k ErrorKind) IsRequestError() bool {
	switch k {
	case KindInvalidTimeFormat, KindInvalidRange, KindInvalidRequest:
		return true
	}
	return false
}

// Error is the single error type returned by the pipeline.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	// Diagnostic is the tail of the subprocess stderr, already truncated.
	Diagnostic string
	// FastPathTried is set when the stream-copy attempt failed before the
	// re-encode fallback also failed.
	FastPathTried bool
	Err           error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from err, or "" when err is not a pipeline error.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// AsError returns the pipeline error wrapped in err, if any.
func AsError(err error) (*Error, bool) {
	var pe *Error
	ok := errors.As(err, &pe)
	return pe, ok
}
