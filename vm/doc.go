// Package vm implements isolates, scopes, contexts and values on top of
// goja, enforcing the lifetime rules of the host boundary.
//
// # Scopes
//
// Every operation runs inside a stack of scopes owned by one goroutine:
//
//	s := iso.Enter()              // IsolateScope: takes the isolate lock
//	hs, _ := vm.NewHandleScope(s) // HandleScope: owns local values
//	cs, _ := ctx.Enter(hs)        // ContextScope: selects the realm
//	...
//	cs.Exit(); hs.Close(); s.Exit()
//
// Scopes close in reverse order. Closing out of order, closing twice, or
// using a Value after its HandleScope closed returns an error and counts a
// contract violation (Isolate.Violations) instead of touching the engine.
//
// # Execution
//
// A top-level Run or Call executes on a helper goroutine. The goroutine
// holding the lock stays in a loop that dispatches RequestInterrupt
// callbacks and samples the heap until the script returns. Calls made
// from native callbacks run inline.
//
// TerminateExecution aborts running script with a KindTerminated error
// that script cannot catch. When the sampled heap passes the limit and the
// near-heap-limit handler does not raise it, the script is aborted with
// KindOutOfMemory and the isolate refuses further execution.
//
// # Native Callbacks
//
// NewFunction, FunctionTemplate.ToFunction, NewExternal and host-created
// array buffers register a record in the isolate's registry. The record is
// retired exactly once: after the Go collector finds the engine wrapper
// unreachable (checked at safe points such as scope exits and
// CollectGarbage) or when the isolate is disposed. Its destructor runs at
// retirement.
//
// # Modules
//
// CompileModule lowers ES module syntax to a function body and records the
// imported specifiers. Instantiate resolves them through a
// LoadModuleCallback; Evaluate runs dependencies first and returns the
// module namespace.
package vm
