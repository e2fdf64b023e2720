// Package jsruntime provides a host-side safety layer for embedding a
// garbage-collected JavaScript engine in Go.
//
// The engine (goja) owns its heap and collector. This library owns everything
// on the host side of the boundary: which handles are valid, how long native
// callbacks stay registered, and when host data attached to engine objects is
// released.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	jsruntime/   Root package with the boundary Allocator interface
//	├── engine/    Process-wide platform: init/dispose, handlers, logger, realms
//	├── vm/        Isolates, scopes, contexts, values, callbacks, promises, modules
//	├── resource/  Generation-checked handle table for host-owned roots
//	├── loader/    Module load callbacks (filesystem, in-memory)
//	├── errors/    Structured error types for debugging
//	└── cmd/run/   Script runner and interactive REPL
//
// # Quick Start
//
//	if err := engine.Initialize(engine.Config{}); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Dispose()
//
//	iso, err := vm.NewIsolate()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer iso.Dispose()
//
//	s := iso.Enter()
//	defer s.Exit()
//
//	err = vm.WithHandleScope(s, func(hs *vm.HandleScope) error {
//	    ctx, err := vm.NewContext(s, nil)
//	    if err != nil {
//	        return err
//	    }
//	    defer ctx.Dispose(s)
//
//	    cs, err := ctx.Enter(hs)
//	    if err != nil {
//	        return err
//	    }
//	    defer cs.Exit()
//
//	    script, err := cs.Compile("1+1", "sum.js")
//	    if err != nil {
//	        return err
//	    }
//	    res, err := cs.Run(script)
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(res.String()) // "2"
//	    return nil
//	})
//
// # Lifetimes
//
// Local values live until their HandleScope closes. Persistent values live
// until Release. Native callbacks live until the engine can no longer reach
// the function wrapper or the isolate is disposed, whichever comes first.
package jsruntime
