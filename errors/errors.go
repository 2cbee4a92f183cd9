package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseCompile     Phase = "compile"     // source decoding and validation
	PhaseLink        Phase = "link"        // import resolution and binding
	PhaseInstantiate Phase = "instantiate" // instance construction
	PhaseCall        Phase = "call"        // guest execution
	PhaseMarshal     Phase = "marshal"     // host <-> wasm value conversion
	PhaseMemory      Phase = "memory"      // linear memory access
	PhaseConfig      Phase = "config"      // instance configuration
	PhaseHost        Phase = "host"        // host function execution
	PhaseParse       Phase = "parse"       // binary/format-string parsing
)

// Kind categorizes the error
type Kind string

const (
	KindParse             Kind = "parse"
	KindValidation        Kind = "validation"
	KindIncompatible      Kind = "incompatible"
	KindUnresolvedImport  Kind = "unresolved_import"
	KindReservedImport    Kind = "reserved_import"
	KindSignatureMismatch Kind = "signature_mismatch"
	KindInstantiation     Kind = "instantiation"
	KindResourceLimit     Kind = "resource_limit"
	KindMissingCapability Kind = "missing_capability"
	KindTrap              Kind = "trap"
	KindTimeout           Kind = "timeout"
	KindHostError         Kind = "host_error"
	KindExhausted         Kind = "exhausted"
	KindTypeMismatch      Kind = "type_mismatch"
	KindArity             Kind = "arity"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindInvalidValue      Kind = "invalid_value"
	KindInvalidInput      Kind = "invalid_input"
	KindNotFound          Kind = "not_found"
	KindUnsupported       Kind = "unsupported"
	KindClosed            Kind = "closed"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Expected string
	Actual   string
	Detail   string
	Path     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Expected != "" || e.Actual != "" {
		b.WriteString(": ")
		switch {
		case e.Expected != "" && e.Actual != "":
			b.WriteString("expected ")
			b.WriteString(e.Expected)
			b.WriteString(", got ")
			b.WriteString(e.Actual)
		case e.Expected != "":
			b.WriteString("expected ")
			b.WriteString(e.Expected)
		default:
			b.WriteString("got ")
			b.WriteString(e.Actual)
		}
	}

	if e.Detail != "" {
		if e.Expected != "" || e.Actual != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target with an empty Kind matches any error of the same phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return e.Phase == t.Phase
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Message returns the human-readable part of the error without the phase prefix.
// It is what diagnostic notifications carry.
func (e *Error) Message() string {
	if e.Detail == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	if e.Cause != nil {
		return e.Detail + ": " + e.Cause.Error()
	}
	if e.Detail != "" {
		return e.Detail
	}
	return string(e.Kind)
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the path to the offending item
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Expected sets the expected kind or signature
func (b *Builder) Expected(s string) *Builder {
	b.err.Expected = s
	return b
}

// Actual sets the actual kind or signature
func (b *Builder) Actual(s string) *Builder {
	b.err.Actual = s
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Sentinels for errors.Is checks.
var (
	ErrCompile           = &Error{Phase: PhaseCompile}
	ErrParse             = &Error{Phase: PhaseCompile, Kind: KindParse}
	ErrValidation        = &Error{Phase: PhaseCompile, Kind: KindValidation}
	ErrIncompatible      = &Error{Phase: PhaseCompile, Kind: KindIncompatible}
	ErrUnresolvedImport  = &Error{Phase: PhaseLink, Kind: KindUnresolvedImport}
	ErrReservedImport    = &Error{Phase: PhaseLink, Kind: KindReservedImport}
	ErrSignatureMismatch = &Error{Phase: PhaseLink, Kind: KindSignatureMismatch}
	ErrInstantiation     = &Error{Phase: PhaseInstantiate}
	ErrResourceLimit     = &Error{Phase: PhaseInstantiate, Kind: KindResourceLimit}
	ErrCall              = &Error{Phase: PhaseCall}
	ErrTrap              = &Error{Phase: PhaseCall, Kind: KindTrap}
	ErrTimeout           = &Error{Phase: PhaseCall, Kind: KindTimeout}
	ErrHostError         = &Error{Phase: PhaseCall, Kind: KindHostError}
	ErrExhausted         = &Error{Phase: PhaseCall, Kind: KindExhausted}
	ErrClosed            = &Error{Phase: PhaseCall, Kind: KindClosed}
	ErrNotFound          = &Error{Phase: PhaseCall, Kind: KindNotFound}
	ErrMarshal           = &Error{Phase: PhaseMarshal}
	ErrTypeMismatch      = &Error{Phase: PhaseMarshal, Kind: KindTypeMismatch}
	ErrMemoryAccess      = &Error{Phase: PhaseMemory, Kind: KindOutOfBounds}
	ErrConfig            = &Error{Phase: PhaseConfig, Kind: KindInvalidValue}
)

// TypeMismatch creates a marshal error naming expected and actual kinds
func TypeMismatch(path []string, expected, actual string) *Error {
	return &Error{
		Phase:    PhaseMarshal,
		Kind:     KindTypeMismatch,
		Path:     path,
		Expected: expected,
		Actual:   actual,
	}
}

// Arity creates an argument/result count mismatch error
func Arity(what string, expected, actual int) *Error {
	return &Error{
		Phase:    PhaseMarshal,
		Kind:     KindArity,
		Expected: fmt.Sprintf("%d %s", expected, what),
		Actual:   fmt.Sprintf("%d", actual),
	}
}

// OutOfBounds creates a memory access error for the range [ptr, ptr+length)
func OutOfBounds(ptr, length uint64, size uint64) *Error {
	return &Error{
		Phase:  PhaseMemory,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("range [%d, %d+%d) exceeds memory size %d", ptr, ptr, length, size),
		Value:  ptr,
	}
}

// Parse creates a parse failure in the given phase
func Parse(phase Phase, what string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindParse,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}

// Validation creates a module validation error
func Validation(cause error) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindValidation,
		Detail: "validate module",
		Cause:  cause,
	}
}

// ReservedImport creates an error for an imports map key that names a reserved namespace
func ReservedImport(name string) *Error {
	return &Error{
		Phase:  PhaseLink,
		Kind:   KindReservedImport,
		Path:   []string{name},
		Detail: fmt.Sprintf("import name %q is reserved", name),
	}
}

// UnresolvedImport creates an error for an import that a supplied module does not export
func UnresolvedImport(module, name, detail string) *Error {
	return &Error{
		Phase:  PhaseLink,
		Kind:   KindUnresolvedImport,
		Path:   []string{module, name},
		Detail: detail,
	}
}

// SignatureMismatch creates an import binding error naming both signatures
func SignatureMismatch(module, name, expected, actual string) *Error {
	return &Error{
		Phase:    PhaseLink,
		Kind:     KindSignatureMismatch,
		Path:     []string{module, name},
		Expected: expected,
		Actual:   actual,
	}
}

// Instantiation creates an instantiation error
func Instantiation(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindInstantiation,
		Detail: detail,
		Cause:  cause,
	}
}

// ResourceLimit creates an instantiation error for a declared size over a configured cap
func ResourceLimit(what string, declared, limit uint64) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindResourceLimit,
		Detail: fmt.Sprintf("%s initial size %d exceeds limit %d", what, declared, limit),
		Value:  declared,
	}
}

// MissingCapability creates an error for a requested capability without a binding
func MissingCapability(what string) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindMissingCapability,
		Detail: what,
	}
}

// Trap creates a guest trap error
func Trap(function string, cause error) *Error {
	return &Error{
		Phase: PhaseCall,
		Kind:  KindTrap,
		Path:  []string{function},
		Cause: cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidConfig creates a configuration error naming the offending key
func InvalidConfig(key string, cause error) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindInvalidValue,
		Path:   []string{key},
		Detail: fmt.Sprintf("invalid value for %q", key),
		Cause:  cause,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingImport represents a single import the caller left unbound
type MissingImport struct {
	Module string
	Name   string
}

// MissingImportsError is returned when instantiation finds host imports with no binding
type MissingImportsError struct {
	Imports []MissingImport
}

// NewMissingImportsError creates an error from a list of "module#name" strings
func NewMissingImportsError(imports []string) *MissingImportsError {
	result := &MissingImportsError{
		Imports: make([]MissingImport, 0, len(imports)),
	}
	for _, imp := range imports {
		mod, name, _ := strings.Cut(imp, "#")
		result.Imports = append(result.Imports, MissingImport{Module: mod, Name: name})
	}
	return result
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[link] unresolved_import: no imports specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "missing %d host function(s):\n", len(e.Imports))

	byModule := make(map[string][]string)
	var order []string
	for _, imp := range e.Imports {
		if _, exists := byModule[imp.Module]; !exists {
			order = append(order, imp.Module)
		}
		byModule[imp.Module] = append(byModule[imp.Module], imp.Name)
	}

	for _, mod := range order {
		b.WriteString("\n  ")
		b.WriteString(mod)
		b.WriteString(":\n")
		for _, fn := range byModule[mod] {
			b.WriteString("    - ")
			b.WriteString(fn)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type.
// It also matches the unresolved-import sentinel.
func (e *MissingImportsError) Is(target error) bool {
	switch t := target.(type) {
	case *MissingImportsError:
		return true
	case *Error:
		return t.Phase == PhaseLink && (t.Kind == "" || t.Kind == KindUnresolvedImport)
	}
	return false
}
