package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a failure into the orchestration error taxonomy.
type Kind string

const (
	KindTransient     Kind = "transient"
	KindCapability    Kind = "capability"
	KindFatal         Kind = "fatal"
	KindConfiguration Kind = "configuration"
	KindValidation    Kind = "validation"
	KindTimeout       Kind = "timeout"
	KindCancelled     Kind = "cancelled"
	KindExhausted     Kind = "exhausted-retries"
)

var (
	ErrTransient        = errors.New("transient failure")
	ErrCapability       = errors.New("capability error")
	ErrFatal            = errors.New("fatal error")
	ErrConfiguration    = errors.New("configuration error")
	ErrValidation       = errors.New("validation error")
	ErrTimeout          = errors.New("timeout")
	ErrCancelled        = errors.New("cancelled")
	ErrExhaustedRetries = errors.New("exhausted retries")
)

var markers = map[Kind]error{
	KindTransient:     ErrTransient,
	KindCapability:    ErrCapability,
	KindFatal:         ErrFatal,
	KindConfiguration: ErrConfiguration,
	KindValidation:    ErrValidation,
	KindTimeout:       ErrTimeout,
	KindCancelled:     ErrCancelled,
	KindExhausted:     ErrExhaustedRetries,
}

// classification order matters: exhausted errors also wrap the transient cause.
var classificationOrder = []Kind{
	KindExhausted,
	KindCancelled,
	KindConfiguration,
	KindValidation,
	KindCapability,
	KindFatal,
	KindTimeout,
	KindTransient,
}

// Marker returns the sentinel error for a kind.
func Marker(kind Kind) error {
	if marker, ok := markers[kind]; ok {
		return marker
	}
	return ErrFatal
}

// Error is the structured failure raised by lower layers. It carries enough
// context for the coordinator to report phase, provider, and job.
type Error struct {
	Kind       Kind
	Phase      string
	Provider   string
	JobID      string
	Op         string
	Message    string
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	parts := make([]string, 0, 6)
	if e.Phase != "" {
		parts = append(parts, "phase "+e.Phase)
	}
	if e.Provider != "" {
		parts = append(parts, "provider "+e.Provider)
	}
	if e.JobID != "" {
		parts = append(parts, "job "+e.JobID)
	}
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if len(parts) == 0 {
		return string(e.kind())
	}
	return fmt.Sprintf("%s: %s", e.kind(), strings.Join(parts, ": "))
}

// Unwrap exposes both the kind marker and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{Marker(e.kind())}
	}
	return []error{Marker(e.kind()), e.Cause}
}

func (e *Error) kind() Kind {
	if e.Kind == "" {
		return KindFatal
	}
	return e.Kind
}

// Wrap builds an error message that includes scope context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, scope, operation, message string, err error) error {
	detail := buildDetail(scope, operation, message)
	if marker == nil {
		marker = ErrFatal
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// New constructs a structured error of the given kind.
func New(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// KindOf classifies err. A structured Error at the top of the chain decides
// its own kind; otherwise markers are matched in priority order. Unknown errors
// are treated as fatal so they are never retried blindly.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if structured, ok := err.(*Error); ok && structured.Kind != "" {
		return structured.Kind
	}
	if errors.Is(err, ErrExhaustedRetries) {
		return KindExhausted
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	for _, kind := range classificationOrder {
		if errors.Is(err, markers[kind]) {
			return kind
		}
	}
	return KindFatal
}

// IsRetryable reports whether the executor may retry the failure.
func IsRetryable(kind Kind) bool {
	return kind == KindTransient || kind == KindTimeout
}

// IsResumable reports whether a failed phase can be resumed by calling the
// workflow again without operator changes.
func IsResumable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindTimeout, KindExhausted, KindCancelled, KindCapability:
		return true
	default:
		return false
	}
}

// RetryAfter returns the server supplied retry hint attached to err, if any.
func RetryAfter(err error) time.Duration {
	var structured *Error
	if errors.As(err, &structured) {
		return structured.RetryAfter
	}
	return 0
}

// ErrorDetails flattens the structured context of an error chain.
type ErrorDetails struct {
	Kind     Kind
	Phase    string
	Provider string
	JobID    string
	Op       string
	Message  string
	Cause    error
}

// Details walks err and collects the first non-empty value for each field.
func Details(err error) ErrorDetails {
	details := ErrorDetails{Kind: KindOf(err)}
	if err == nil {
		return details
	}
	visit(err, func(e *Error) {
		if details.Phase == "" {
			details.Phase = e.Phase
		}
		if details.Provider == "" {
			details.Provider = e.Provider
		}
		if details.JobID == "" {
			details.JobID = e.JobID
		}
		if details.Op == "" {
			details.Op = e.Op
		}
		if details.Message == "" {
			details.Message = strings.TrimSpace(e.Message)
		}
		if details.Cause == nil && e.Cause != nil {
			details.Cause = e.Cause
		}
	})
	if details.Message == "" {
		details.Message = strings.TrimSpace(err.Error())
	}
	return details
}

func visit(err error, fn func(*Error)) {
	if err == nil {
		return
	}
	if structured, ok := err.(*Error); ok {
		fn(structured)
	}
	switch unwrapped := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range unwrapped.Unwrap() {
			visit(inner, fn)
		}
	case interface{ Unwrap() error }:
		visit(unwrapped.Unwrap(), fn)
	}
}

// Describe renders the operator-facing summary of a failure: the failing phase,
// the provider and job involved, a readable cause, and the kind tag.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	d := Details(err)
	var b strings.Builder
	if d.Phase != "" {
		b.WriteString("phase=")
		b.WriteString(d.Phase)
		b.WriteByte(' ')
	}
	if d.Provider != "" {
		b.WriteString("provider=")
		b.WriteString(d.Provider)
		b.WriteByte(' ')
	}
	if d.JobID != "" {
		b.WriteString("job=")
		b.WriteString(d.JobID)
		b.WriteByte(' ')
	}
	b.WriteString("cause=")
	b.WriteString(fmt.Sprintf("%q", err.Error()))
	b.WriteString(" [")
	b.WriteString(string(d.Kind))
	b.WriteString("]")
	return b.String()
}

// WithPhase annotates err with the workflow phase it surfaced in.
func WithPhase(err error, phase string) error {
	if err == nil {
		return nil
	}
	var structured *Error
	if errors.As(err, &structured) && structured.Phase == phase {
		return err
	}
	return &Error{Kind: KindOf(err), Phase: phase, Cause: err}
}

func buildDetail(scope, operation, message string) string {
	parts := make([]string, 0, 3)
	if scope = strings.TrimSpace(scope); scope != "" {
		parts = append(parts, scope)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
