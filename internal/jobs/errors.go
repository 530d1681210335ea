package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies failures so the request layer and the job runner can react
// without string matching.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindUnsupportedFormat Kind = "unsupported_format"
	KindExtraction        Kind = "extraction"
	KindTransientIO       Kind = "transient_io"
	KindTimeout           Kind = "timeout"
	KindCanceled          Kind = "canceled"
	KindInternal          Kind = "internal"
)

// ErrCanceled is returned from a checkpoint that observed a cancel request.
// It is a normal exit path, not a failure.
var ErrCanceled = &Error{Kind: KindCanceled, Message: "cancellation observed"}

// Error is a classified, stage-aware error.
type Error struct {
	Kind    Kind
	Stage   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	switch {
	case e.Stage == "":
		return msg
	case e.Kind == KindTimeout:
		// "<stage> timed out after <d>"
		return e.Stage + " " + msg
	default:
		return fmt.Sprintf("%s: %s", e.Stage, msg)
	}
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets errors.Is(err, ErrCanceled) hold for cancellations raised at any stage.
func (e *Error) Is(target error) bool {
	return target == ErrCanceled && e != nil && e.Kind == KindCanceled
}

// Validation builds a KindValidation error.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Unsupported builds a KindUnsupportedFormat error.
func Unsupported(format string, args ...any) *Error {
	return &Error{Kind: KindUnsupportedFormat, Message: fmt.Sprintf(format, args...)}
}

// Extraction wraps a collaborator failure.
func Extraction(stage string, err error) *Error {
	return &Error{Kind: KindExtraction, Stage: stage, Err: err}
}

// Canceled returns a cancellation error tagged with the checkpoint that saw it.
func Canceled(stage string) *Error {
	return &Error{Kind: KindCanceled, Stage: stage, Message: ErrCanceled.Message}
}

// Timeout reports a stage that overran its deadline d.
func Timeout(stage string, d time.Duration) *Error {
	return &Error{Kind: KindTimeout, Stage: stage, Message: fmt.Sprintf("timed out after %s", d)}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var je *Error
	if errors.As(err, &je) {
		return je.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// IsCanceled reports whether err is a cancellation rather than a failure.
func IsCanceled(err error) bool {
	return KindOf(err) == KindCanceled
}

// Reason renders err as the human-readable failure reason shown to clients.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
