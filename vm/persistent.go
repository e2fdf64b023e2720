package vm

import (
	"github.com/dop251/goja"

	"github.com/wippyai/js-runtime/errors"
	"github.com/wippyai/js-runtime/resource"
)

// Root kinds stored in the isolate's persistent table.
const (
	rootValue uint32 = iota + 1
	rootScript
	rootModule
)

// root is one persistent root. It keeps its referent reachable until
// released or until the isolate is disposed.
type root struct {
	value any
	ctx   *Context
}

func newRoots(table *resource.Table) map[uint32]*resource.Typed[*root] {
	return map[uint32]*resource.Typed[*root]{
		rootValue:  resource.NewTyped[*root](table, rootValue),
		rootScript: resource.NewTyped[*root](table, rootScript),
		rootModule: resource.NewTyped[*root](table, rootModule),
	}
}

// persistent is the handle shared by every persisted kind.
type persistent struct {
	iso    *Isolate
	roots  *resource.Typed[*root]
	handle resource.Handle
	name   string
}

func (iso *Isolate) persistRoot(kind uint32, r *root, name string) (persistent, error) {
	roots := iso.roots[kind]
	h := roots.Insert(r)
	if h == 0 {
		return persistent{}, errors.Disposed(errors.PhasePersist, "isolate")
	}
	return persistent{iso: iso, roots: roots, handle: h, name: name}, nil
}

// persist roots a compiled program.
func (iso *Isolate) persist(prg *goja.Program, name string) (persistent, error) {
	return iso.persistRoot(rootScript, &root{value: prg}, name)
}

// get returns the referent for use in hs.
func (p *persistent) get(hs *HandleScope) (any, error) {
	if err := hs.check(errors.PhasePersist); err != nil {
		return nil, err
	}
	if hs.iso != p.iso {
		return nil, hs.iso.violation(errors.New(errors.PhasePersist, errors.KindWrongIsolate).
			Detail("persistent belongs to isolate %d", p.iso.id).
			Build())
	}
	r, ok := p.roots.Get(p.handle)
	if !ok {
		return nil, p.iso.violation(errors.Disposed(errors.PhasePersist, "persistent"))
	}
	return r.value, nil
}

func (p *persistent) context() *Context {
	r, ok := p.roots.Get(p.handle)
	if !ok {
		return nil
	}
	return r.ctx
}

// Release drops the root. Releasing twice is a violation.
func (p *persistent) Release() error {
	if p.iso == nil {
		return errors.NilPointer(errors.PhasePersist, nil, "persistent")
	}
	if p.iso.disposed.Load() {
		return errors.Disposed(errors.PhasePersist, "isolate")
	}
	if _, ok := p.roots.Retire(p.handle, resource.RetireExplicit); !ok {
		return p.iso.violation(errors.DoubleFree(errors.PhasePersist, "persistent"))
	}
	return nil
}

// Released reports whether the root is gone, by Release or isolate disposal.
func (p *persistent) Released() bool {
	_, ok := p.roots.Get(p.handle)
	return !ok
}

// PersistentValue is an engine value rooted independently of handle scopes.
type PersistentValue struct {
	persistent
}

// Persist roots the value beyond its handle scope.
func (v *Value) Persist() (*PersistentValue, error) {
	gv, err := v.gojaValue(errors.PhasePersist)
	if err != nil {
		return nil, err
	}
	p, err := v.hs.iso.persistRoot(rootValue, &root{value: gv, ctx: v.ctx}, v.kind.String())
	if err != nil {
		return nil, err
	}
	return &PersistentValue{persistent: p}, nil
}

// ToLocal returns a local handle to the value in hs.
func (p *PersistentValue) ToLocal(hs *HandleScope) (*Value, error) {
	v, err := p.get(hs)
	if err != nil {
		return nil, err
	}
	ctx := p.context()
	if ctx != nil && ctx.disposed {
		return nil, p.iso.violation(errors.Disposed(errors.PhasePersist, "context"))
	}
	return hs.newValue(ctx, v.(goja.Value)), nil
}
