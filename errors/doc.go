// Package errors provides structured error types for the js-runtime library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: a path (property or specifier chain),
// Go/JS type names, the offending value, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseConvert, errors.KindTypeMismatch).
//		Path("config", "port").
//		GoType("*vm.Array").
//		JSType("string").
//		Detail("value is not an array").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.ScopeClosed(errors.PhaseScope, "handle scope")
//	err := errors.DoubleFree(errors.PhasePersist, "persistent value")
//
// Contract violations (use after close, double release, scope order) are
// reported with their own kinds so tests can assert on them instead of
// crashing. All errors implement the standard error interface and support
// errors.Is/As.
package errors
