package vm

import (
	"fmt"
	"strconv"

	"github.com/dlclark/regexp2"
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wippyai/js-runtime/engine"
	"github.com/wippyai/js-runtime/errors"
)

// Private-data slots below slotOffset are internal.
const (
	slotInternal = 0
	slotReserved = 1
	slotOffset   = 2
)

// contextRecord is the internal embedded-data record kept in slot 0.
type contextRecord struct {
	modules map[int]*moduleRecord
}

// Context is an isolated global environment (realm) within an isolate.
type Context struct {
	iso      *Isolate
	rt       *goja.Runtime
	setProto *goja.Object
	// resolverKey names the hidden property holding a host promise's
	// resolving functions.
	resolverKey *goja.Symbol
	slots       []any
	entered     int
	disposed    bool
}

// NewContext creates a context on the isolate entered by s. A handle scope
// must be open. tmpl, if non-nil, is installed on the global object.
func NewContext(s *IsolateScope, tmpl *ObjectTemplate) (*Context, error) {
	if err := s.check(errors.PhaseContext); err != nil {
		return nil, err
	}
	iso := s.iso
	hs := iso.currentHandleScope()
	if hs == nil {
		return nil, iso.violation(errors.NoActiveScope(errors.PhaseContext, "handle scope"))
	}

	rt := engine.NewRuntime(engine.RuntimeOptions{
		FieldNameMapper:  goja.TagFieldNameMapper("json", true),
		MaxCallStackSize: iso.opts.maxCallStackSize,
		Console:          iso.opts.console,
	})

	ctx := &Context{
		iso:         iso,
		rt:          rt,
		resolverKey: goja.NewSymbol("resolver"),
		slots:       make([]any, slotOffset),
	}
	if ctor, ok := rt.Get("Set").(*goja.Object); ok {
		ctx.setProto, _ = ctor.Get("prototype").(*goja.Object)
	}
	ctx.slots[slotInternal] = &contextRecord{
		modules: make(map[int]*moduleRecord),
	}

	iso.contexts[ctx] = struct{}{}
	iso.stats.contexts.Add(1)

	if tmpl != nil {
		cs, err := ctx.Enter(hs)
		if err != nil {
			ctx.drop()
			return nil, err
		}
		err = tmpl.apply(cs, rt.GlobalObject())
		if exitErr := cs.Exit(); err == nil {
			err = exitErr
		}
		if err != nil {
			ctx.drop()
			return nil, err
		}
	}

	iso.log.Debug("context created", zap.Int("contexts", len(iso.contexts)))
	return ctx, nil
}

// Isolate returns the owning isolate.
func (ctx *Context) Isolate() *Isolate { return ctx.iso }

// Disposed reports whether the context has been disposed.
func (ctx *Context) Disposed() bool { return ctx.disposed }

// Entered reports how many context scopes are open on ctx.
func (ctx *Context) Entered() int { return ctx.entered }

// Enter opens a context scope. hs must be open and belong to the same
// isolate. Nested entries are allowed; exits must balance.
func (ctx *Context) Enter(hs *HandleScope) (*ContextScope, error) {
	if err := hs.check(errors.PhaseContext); err != nil {
		return nil, err
	}
	if hs.iso != ctx.iso {
		return nil, hs.iso.violation(errors.New(errors.PhaseContext, errors.KindWrongIsolate).
			Detail("context belongs to isolate %d, handle scope to isolate %d", ctx.iso.id, hs.iso.id).
			Build())
	}
	if ctx.disposed {
		return nil, ctx.iso.violation(errors.Disposed(errors.PhaseContext, "context"))
	}

	cs := &ContextScope{ctx: ctx, hs: hs, holder: hs.holder}
	ctx.iso.push(cs)
	ctx.entered++
	return cs, nil
}

// Dispose releases the context. With a nil s the isolate lock is taken and
// released internally, waiting for any current holder; otherwise the lock
// held by s is re-entered. The lock is not reentrant by goroutine: a caller
// that already holds it must pass its scope, or Dispose blocks forever.
func (ctx *Context) Dispose(s *IsolateScope) error {
	iso := ctx.iso
	if ctx.disposed {
		return iso.violation(errors.Disposed(errors.PhaseContext, "context"))
	}

	var scope *IsolateScope
	if s == nil {
		scope = iso.Enter()
	} else {
		nested, err := s.Enter()
		if err != nil {
			return err
		}
		scope = nested
	}
	if err := scope.check(errors.PhaseContext); err != nil {
		return err
	}
	defer scope.Exit()

	return WithHandleScope(scope, func(*HandleScope) error {
		if ctx.disposed {
			return iso.violation(errors.Disposed(errors.PhaseContext, "context"))
		}
		if ctx.entered > 0 {
			return iso.violation(errors.InvalidInput(errors.PhaseContext, "context is entered"))
		}
		ctx.drop()
		iso.log.Debug("context disposed")
		return nil
	})
}

// drop unlinks ctx from its isolate and releases it.
func (ctx *Context) drop() {
	delete(ctx.iso.contexts, ctx)
	ctx.release()
}

// release clears private data and releases the realm. Registrations made
// in this context stay in the isolate registry until collected or drained.
func (ctx *Context) release() {
	if ctx.disposed {
		return
	}
	ctx.disposed = true
	clear(ctx.slots)
	ctx.slots = nil
	ctx.rt = nil
	ctx.iso.stats.contexts.Add(-1)
}

func (ctx *Context) record() *contextRecord {
	if ctx.disposed {
		return nil
	}
	rec, _ := ctx.slots[slotInternal].(*contextRecord)
	return rec
}

// checkData validates a private-data access.
func (ctx *Context) checkData(index int) (int, error) {
	iso := ctx.iso
	if ctx.disposed {
		return 0, iso.violation(errors.Disposed(errors.PhaseContext, "context"))
	}
	if iso.holder.Load() == nil {
		return 0, iso.violation(errors.NotLocked(errors.PhaseContext, iso.id))
	}
	if index < 0 {
		return 0, iso.violation(errors.OutOfBounds(errors.PhaseContext, nil, index, len(ctx.slots)-slotOffset))
	}
	return index + slotOffset, nil
}

// SetPrivateData stores data at index. Ownership stays with the caller.
func (ctx *Context) SetPrivateData(index int, data any) error {
	slot, err := ctx.checkData(index)
	if err != nil {
		return err
	}
	if data == nil {
		return ctx.iso.violation(errors.NilPointer(errors.PhaseContext, []string{strconv.Itoa(index)}, "private data"))
	}
	if slot >= len(ctx.slots) {
		grown := make([]any, slot+1)
		copy(grown, ctx.slots)
		ctx.slots = grown
	}
	ctx.slots[slot] = data
	return nil
}

// GetPrivateData returns the data stored at index.
func (ctx *Context) GetPrivateData(index int) (any, bool) {
	slot, err := ctx.checkData(index)
	if err != nil || slot >= len(ctx.slots) {
		return nil, false
	}
	v := ctx.slots[slot]
	return v, v != nil
}

// ResetPrivateData clears index.
func (ctx *Context) ResetPrivateData(index int) error {
	slot, err := ctx.checkData(index)
	if err != nil {
		return err
	}
	if slot < len(ctx.slots) {
		ctx.slots[slot] = nil
	}
	return nil
}

// SetPrivateDataScoped stores data and returns a guard that resets the slot.
func (ctx *Context) SetPrivateDataScoped(index int, data any) (*DataGuard, error) {
	if err := ctx.SetPrivateData(index, data); err != nil {
		return nil, err
	}
	return &DataGuard{src: ctx, index: index}, nil
}

// PrivateDataSource is implemented by Context and ContextScope.
type PrivateDataSource interface {
	GetPrivateData(index int) (any, bool)
}

// PrivateData returns the data at index typed as T.
func PrivateData[T any](src PrivateDataSource, index int) (T, bool) {
	var zero T
	v, ok := src.GetPrivateData(index)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// DataGuard resets a private-data slot on Release.
type DataGuard struct {
	src      *Context
	index    int
	released bool
}

// Release resets the slot. Calling it twice is a violation.
func (g *DataGuard) Release() error {
	if g.released {
		return g.src.iso.violation(errors.DoubleFree(errors.PhaseContext, "private data guard"))
	}
	g.released = true
	return g.src.ResetPrivateData(g.index)
}

// positionPattern matches "name:line:column" locations in engine messages.
var positionPattern = regexp2.MustCompile(`([^\s()]+):(\d+):(\d+)`, regexp2.None)

// mapPositions rewrites locations inside compiled modules to positions in
// the module source.
func (ctx *Context) mapPositions(s string) string {
	if ctx == nil {
		return s
	}
	rec := ctx.record()
	if rec == nil || len(rec.modules) == 0 {
		return s
	}
	byName := make(map[string]*moduleRecord, len(rec.modules))
	for _, m := range rec.modules {
		if m.source.HasSourceMap() {
			byName[m.name] = m
		}
	}
	if len(byName) == 0 {
		return s
	}

	out, err := positionPattern.ReplaceFunc(s, func(m regexp2.Match) string {
		groups := m.Groups()
		mod, ok := byName[groups[1].String()]
		if !ok {
			return m.String()
		}
		line, _ := strconv.Atoi(groups[2].String())
		col, _ := strconv.Atoi(groups[3].String())
		_, origLine, origCol, ok := mod.source.MapPosition(line, col)
		if !ok {
			return m.String()
		}
		return fmt.Sprintf("%s:%d:%d", mod.name, origLine, origCol)
	}, -1, -1)
	if err != nil {
		return s
	}
	return out
}
