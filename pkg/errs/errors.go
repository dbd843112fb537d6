// Package errs defines the classified, span-anchored error values shared by
// every stage of the Eikobot pipeline, from the lexer down to the deployer.
package errs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/eikobot/eikobot/pkg/source"
)

// Kind classifies an error by the pipeline stage that raised it.
type Kind string

const (
	KindLex         Kind = "LexError"
	KindSyntax      Kind = "SyntaxError"
	KindImport      Kind = "ImportError"
	KindName        Kind = "NameError"
	KindType        Kind = "TypeError"
	KindReassign    Kind = "ReassignError"
	KindConstructor Kind = "ConstructorError"
	KindIndex       Kind = "IndexError"
	KindRefinement  Kind = "RefinementError"
	KindPlugin      Kind = "PluginError"
	KindExport      Kind = "ExportError"
	KindDeploy      Kind = "DeployError"
	KindInternal    Kind = "InternalError"
)

// Error codes narrowing a kind for programmatic handling.
const (
	CodeNotFound          = "NOT_FOUND"
	CodeCyclic            = "CYCLIC_IMPORT"
	CodeVersionMismatch   = "VERSION_MISMATCH"
	CodeMismatch          = "TYPE_MISMATCH"
	CodeNotCoercible      = "NOT_COERCIBLE"
	CodeAmbiguous         = "AMBIGUOUS"
	CodeDuplicate         = "DUPLICATE_INDEX"
	CodeUnindexable       = "UNINDEXABLE"
	CodeUser              = "PLUGIN_USER"
	CodeInternal          = "PLUGIN_INTERNAL"
	CodeCycle             = "DEPENDENCY_CYCLE"
	CodeHandlerFailed     = "HANDLER_FAILED"
	CodePromiseUnresolved = "PROMISE_UNRESOLVED"
	CodeTimeout           = "TIMEOUT"
	CodeCancelled         = "CANCELLED"
)

// Error is a classified error carrying the source spans it relates to.
// The first span always points at the user's source.
type Error struct {
	// Kind is the error classification.
	Kind Kind `json:"kind"`

	// Code optionally narrows the kind.
	Code string `json:"code,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Spans anchors the error to source locations, most specific first.
	Spans []source.Span `json:"spans,omitempty"`

	// Err is the underlying error, if any.
	Err error `json:"-"`

	// Trace optionally carries a host stack trace for plugin internal
	// errors; only surfaced when plugin stack traces are enabled.
	Trace string `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Code != "" {
		fmt.Fprintf(&b, "(%s)", e.Code)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Spans) > 0 && !e.Spans[0].IsZero() {
		fmt.Fprintf(&b, " (%s)", e.Spans[0])
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by kind and code so sentinel comparison works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" && e.Code != t.Code {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithSpan appends a source span to the error.
func (e *Error) WithSpan(span source.Span) *Error {
	e.Spans = append(e.Spans, span)
	return e
}

// WithCode attaches a code to the error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithTrace attaches a host stack trace.
func (e *Error) WithTrace(trace string) *Error {
	e.Trace = trace
	return e
}

// Span returns the primary span, or the zero span.
func (e *Error) Span() source.Span {
	if len(e.Spans) == 0 {
		return source.Span{}
	}
	return e.Spans[0]
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsCompile reports whether err was raised before deployment started.
func IsCompile(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind != KindDeploy
}

// IsDeploy reports whether err was raised during deployment.
func IsDeploy(err error) bool {
	return IsKind(err, KindDeploy)
}
