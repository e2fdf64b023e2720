// Package engine provides the process-wide platform beneath the vm package.
//
// It owns everything that exists once per process rather than once per
// isolate: initialization state, the isolate id counter, the fatal and
// out-of-memory handlers, the boundary allocator and the logger. It also
// holds the pieces that talk to goja directly without any scope
// discipline: the realm factory, the console bridge and the module source
// transform.
//
// # Platform Lifecycle
//
//	engine.Initialize(engine.Config{...})  // once
//	... create isolates via vm.NewIsolate ...
//	engine.Dispose()                        // Initialize allowed again
//
// # Fatal Errors
//
// Contract violations that cannot be reported as an error (disposing an
// isolate with open scopes, for example) go through Fatal. The default
// handler logs at error level and panics with a *errors.Error of kind
// fatal. A custom FatalErrorHandler that returns turns the violation into
// an ordinary error for the caller.
//
// # Module Sources
//
// goja runs scripts, not ES modules. TransformModule lowers module syntax
// with esbuild to a CommonJS body wrapped in
//
//	(function(exports, require, module) { ... })
//
// and scans the result for require calls. The vm package resolves those
// specifiers through the host load callback and wires require to the
// resulting module namespaces. Positions in thrown errors are mapped back
// to the module source with the source map esbuild produces.
//
// # Heap Sampling
//
// Realms allocate on the Go heap, so heap statistics are process-wide
// samples from runtime/metrics. Per-isolate limits compare against these
// samples and are therefore approximate.
package engine
