package vm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/funvibe/runevm/internal/ast"
)

// Panic kinds. A *Panic matches its kind with errors.Is.
var (
	ErrTypeMismatch     = errors.New("type mismatch")
	ErrMissingField     = errors.New("missing field")
	ErrIndexOutOfBounds = errors.New("index out of bounds")
	ErrMatchError       = errors.New("no pattern matched")
	ErrDivideByZero     = errors.New("division by zero")
	ErrOverflow         = errors.New("integer overflow")
	ErrStackOverflow    = errors.New("stack overflow")
	ErrMissingFunction  = errors.New("missing function")
	ErrArityMismatch    = errors.New("arity mismatch")
	ErrDeadlock         = errors.New("deadlock")
	ErrFutureCompleted  = errors.New("future already completed")
	ErrGeneratorDone    = errors.New("generator already completed")
	ErrGeneratorRunning = errors.New("generator already running")
	ErrCancelled        = errors.New("execution cancelled")
	ErrSuspend          = errors.New("cannot suspend here")
	ErrNative           = errors.New("native function failed")
	ErrUserPanic        = errors.New("panicked")
)

// Internal invariant breaks inside the interpreter loop. They are raised with
// panic() and recovered at the step boundary.
var (
	errTruncatedBytecode    = errors.New("truncated bytecode")
	errStackUnderflow       = errors.New("stack underflow")
	errInvalidConstantIndex = errors.New("invalid constant index")
)

// TraceFrame is one frame of a panic's stack trace.
type TraceFrame struct {
	Function string
	Offset   int
	Span     ast.Span
	Locals   []string
}

// Panic is a runtime error raised while executing a unit.
type Panic struct {
	Kind     error
	Message  string
	IP       int
	Span     ast.Span
	Function string
	UnitID   uuid.UUID
	Trace    []TraceFrame // innermost first
	Cause    error
}

func newPanic(kind error, format string, args ...interface{}) *Panic {
	return &Panic{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Raise creates a panic of the given kind. Native functions return it to
// fail with a specific kind instead of ErrNative.
func Raise(kind error, format string, args ...interface{}) *Panic {
	return newPanic(kind, format, args...)
}

func (p *Panic) Error() string {
	var sb strings.Builder
	sb.WriteString("runtime error: ")
	sb.WriteString(p.Kind.Error())
	if p.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(p.Message)
	}
	if p.Function != "" {
		sb.WriteString(fmt.Sprintf(" (at %s %s, ip %04d)", p.Function, p.Span, p.IP))
	}
	return sb.String()
}

// Is reports whether target is the panic's kind.
func (p *Panic) Is(target error) bool {
	return target == p.Kind
}

func (p *Panic) Unwrap() error {
	return p.Cause
}

// StackTrace renders the trace the way the CLI prints it.
func (p *Panic) StackTrace() string {
	var sb strings.Builder
	sb.WriteString("Stack trace:")
	for _, f := range p.Trace {
		sb.WriteString(fmt.Sprintf("\n  at %s:%s (ip %04d)", f.Function, f.Span, f.Offset))
		if len(f.Locals) > 0 {
			sb.WriteString(" locals: ")
			sb.WriteString(strings.Join(f.Locals, ", "))
		}
	}
	return sb.String()
}

// Compile error kinds.
var (
	ErrUnresolvedName     = errors.New("unresolved name")
	ErrDuplicateBinding   = errors.New("duplicate binding")
	ErrPatternArity       = errors.New("invalid pattern arity")
	ErrUnsupportedLiteral = errors.New("unsupported literal")
	ErrCompileArity       = errors.New("arity mismatch")
	ErrInvalidContext     = errors.New("invalid context")
	ErrUnknownType        = errors.New("unknown type")
	ErrDuplicateItem      = errors.New("duplicate item")
	ErrUnsupported        = errors.New("unsupported construct")
)

// CompileError rejects a program before execution.
type CompileError struct {
	Kind    error
	Message string
	Span    ast.Span
	File    string
}

func (e *CompileError) Error() string {
	loc := e.Span.String()
	if e.File != "" {
		loc = e.File + ":" + loc
	}
	return fmt.Sprintf("%s: compile error: %s: %s", loc, e.Kind, e.Message)
}

func (e *CompileError) Is(target error) bool {
	return target == e.Kind
}
