package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhasePlatform Phase = "platform" // process-wide init/dispose
	PhaseIsolate  Phase = "isolate"  // isolate lifecycle and locking
	PhaseScope    Phase = "scope"    // handle/isolate scope discipline
	PhaseContext  Phase = "context"  // context lifecycle and private data
	PhaseCompile  Phase = "compile"  // script/module compilation
	PhaseExecute  Phase = "execute"  // script run and function calls
	PhaseConvert  Phase = "convert"  // value conversion at the boundary
	PhaseCallback Phase = "callback" // native callback registration/invocation
	PhasePersist  Phase = "persist"  // persistent roots
	PhasePromise  Phase = "promise"  // promise/resolver operations
	PhaseModule   Phase = "module"   // module instantiation/evaluation
	PhaseLoad     Phase = "load"     // module source loading
)

// Kind categorizes the error
type Kind string

const (
	KindTypeMismatch       Kind = "type_mismatch"
	KindOutOfBounds        Kind = "out_of_bounds"
	KindInvalidInput       Kind = "invalid_input"
	KindNilPointer         Kind = "nil_pointer"
	KindNotFound           Kind = "not_found"
	KindNotInitialized     Kind = "not_initialized"
	KindAlreadyInitialized Kind = "already_initialized"
	KindDisposed           Kind = "disposed"
	KindScopeClosed        Kind = "scope_closed"
	KindScopeOrder         Kind = "scope_order"
	KindNoActiveScope      Kind = "no_active_scope"
	KindNotLocked          Kind = "not_locked"
	KindWrongIsolate       Kind = "wrong_isolate"
	KindWrongContext       Kind = "wrong_context"
	KindDoubleFree         Kind = "double_free"
	KindSyntax             Kind = "syntax"
	KindException          Kind = "exception"
	KindTerminated         Kind = "terminated"
	KindOutOfMemory        Kind = "out_of_memory"
	KindFatal              Kind = "fatal"
	KindMissingImport      Kind = "missing_import"
	KindInstantiation      Kind = "instantiation"
	KindRegistration       Kind = "registration"
	KindAllocation         Kind = "allocation"
	KindUnsupported        Kind = "unsupported"
)

// Error is the structured error type used throughout the library
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	GoType string
	JSType string
	Detail string
	Path   []string
}

// Error formats as "[phase] kind at path: types - detail (caused by: ...)",
// leaving out the parts that are empty.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Phase, e.Kind)

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	var types []string
	if e.GoType != "" {
		types = append(types, "Go type "+e.GoType)
	}
	if e.JSType != "" {
		types = append(types, "JS type "+e.JSType)
	}
	sep := ": "
	if len(types) > 0 {
		b.WriteString(sep)
		b.WriteString(strings.Join(types, ", "))
		sep = " - "
	}
	if e.Detail != "" {
		b.WriteString(sep)
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target with an empty Phase matches on Kind alone.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Phase == "" {
			return e.Kind == t.Kind
		}
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// As is errors.As from the standard library.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HasKind reports whether err's chain contains an *Error of the given kind.
func HasKind(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
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

// Path sets the property path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// JSType sets the engine-side type name
func (b *Builder) JSType(t string) *Builder {
	b.err.JSType = t
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

// Convenience constructors for common error patterns

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, goType, jsType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Path:   path,
		GoType: goType,
		JSType: jsType,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// NilPointer creates a nil pointer error
func NilPointer(phase Phase, path []string, goType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNilPointer,
		Path:   path,
		GoType: goType,
		Detail: "nil pointer",
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

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", what),
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

// Disposed creates an error for use of an already disposed object
func Disposed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindDisposed,
		Detail: fmt.Sprintf("%s already disposed", what),
	}
}

// ScopeClosed creates an error for use of a handle after its scope closed
func ScopeClosed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindScopeClosed,
		Detail: fmt.Sprintf("%s used after its scope was closed", what),
	}
}

// ScopeOrder creates an error for a non-LIFO scope close
func ScopeOrder(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindScopeOrder,
		Detail: fmt.Sprintf("%s closed while an inner scope is still open", what),
	}
}

// NoActiveScope creates an error for an operation that needs an open scope
func NoActiveScope(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNoActiveScope,
		Detail: fmt.Sprintf("%s requires an active scope", what),
	}
}

// NotLocked creates an error for an operation on an isolate whose lock is not held
func NotLocked(phase Phase, isolateID uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotLocked,
		Detail: fmt.Sprintf("isolate %d lock not held", isolateID),
		Value:  isolateID,
	}
}

// DoubleFree creates an error for releasing something twice
func DoubleFree(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindDoubleFree,
		Detail: fmt.Sprintf("%s released twice", what),
	}
}

// Syntax creates a compile failure error
func Syntax(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindSyntax,
		Path:   []string{name},
		Detail: "compile failed",
		Cause:  cause,
	}
}

// Exception creates an error for a value thrown by script
func Exception(phase Phase, message string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindException,
		Detail: message,
	}
}

// Terminated creates an error for host-initiated termination
func Terminated(phase Phase) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTerminated,
		Detail: "execution terminated",
	}
}

// OutOfMemory creates an error for an exhausted heap limit
func OutOfMemory(phase Phase, limit uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfMemory,
		Detail: fmt.Sprintf("heap limit of %d bytes exceeded", limit),
		Value:  limit,
	}
}

// Registration creates a native callback registration error
func Registration(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseCallback,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s", name),
		Cause:  cause,
	}
}

// Instantiation creates a module instantiation error
func Instantiation(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseModule,
		Kind:   KindInstantiation,
		Detail: fmt.Sprintf("instantiate module %q", name),
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindNotFound,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingImport represents a single unresolved import
type MissingImport struct {
	Referrer  string // e.g., "app/main.js"
	Specifier string // e.g., "./util.js"
}

// MissingImportsError is returned when module instantiation fails because
// the load callback could not resolve one or more specifiers
type MissingImportsError struct {
	Imports []MissingImport
}

// NewMissingImportsError creates an error from a list of "referrer#specifier" strings
func NewMissingImportsError(imports []string) *MissingImportsError {
	result := &MissingImportsError{
		Imports: make([]MissingImport, 0, len(imports)),
	}
	for _, imp := range imports {
		ref, spec := parseImportKey(imp)
		result.Imports = append(result.Imports, MissingImport{
			Referrer:  ref,
			Specifier: spec,
		})
	}
	return result
}

// ImportKey joins a referrer and specifier into the form NewMissingImportsError accepts.
func ImportKey(referrer, specifier string) string {
	return referrer + "#" + specifier
}

func parseImportKey(key string) (referrer, specifier string) {
	ref, spec, found := strings.Cut(key, "#")
	if found {
		return ref, spec
	}
	return "", key
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[module] missing_import: no imports specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("unresolved %d import(s):\n", len(e.Imports)))

	// Group by referrer for cleaner output
	byRef := make(map[string][]string)
	var refOrder []string
	for _, imp := range e.Imports {
		ref := imp.Referrer
		if ref == "" {
			ref = "<anonymous>"
		}
		if _, exists := byRef[ref]; !exists {
			refOrder = append(refOrder, ref)
		}
		byRef[ref] = append(byRef[ref], imp.Specifier)
	}

	for _, ref := range refOrder {
		specs := byRef[ref]
		sort.Strings(specs)
		b.WriteString("\n  ")
		b.WriteString(ref)
		b.WriteString(":\n")
		for _, s := range specs {
			b.WriteString("    - ")
			b.WriteString(s)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingImportsError) Is(target error) bool {
	if _, ok := target.(*MissingImportsError); ok {
		return true
	}
	if t, ok := target.(*Error); ok {
		return t.Kind == KindMissingImport && (t.Phase == "" || t.Phase == PhaseModule)
	}
	return false
}
