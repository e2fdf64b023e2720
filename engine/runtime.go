package engine

import (
	"github.com/dop251/goja"
)

// DefaultMaxCallStackSize bounds script recursion depth per realm.
const DefaultMaxCallStackSize = 8192

// RuntimeOptions configures a new engine realm.
type RuntimeOptions struct {
	// FieldNameMapper controls how Go struct fields and methods appear to
	// script. Nil uses json tags with uncapitalized method names.
	FieldNameMapper goja.FieldNameMapper

	// MaxCallStackSize overrides DefaultMaxCallStackSize when positive.
	MaxCallStackSize int

	// Console installs a console object writing to this printer.
	Console Printer
}

// NewRuntime creates the engine realm backing one context.
func NewRuntime(opts RuntimeOptions) *goja.Runtime {
	rt := goja.New()

	mapper := opts.FieldNameMapper
	if mapper == nil {
		mapper = goja.TagFieldNameMapper("json", true)
	}
	rt.SetFieldNameMapper(mapper)

	size := opts.MaxCallStackSize
	if size <= 0 {
		size = DefaultMaxCallStackSize
	}
	rt.SetMaxCallStackSize(size)

	if opts.Console != nil {
		InstallConsole(rt, opts.Console)
	}
	return rt
}
