package vm

import (
	"fmt"
	"strings"
	"testing"

	"github.com/wippyai/js-runtime/errors"
)

// compileAll compiles sources keyed by name and returns a loader over them
// that counts calls per (specifier, referrer) pair.
func compileAll(t *testing.T, cs *ContextScope, sources map[string]string) (map[string]*Module, LoadModuleCallback, map[string]int) {
	t.Helper()
	mods := make(map[string]*Module, len(sources))
	for name, src := range sources {
		m, err := cs.CompileModule(name, src)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		mods[name] = m
	}
	calls := make(map[string]int)
	load := func(_ *ContextScope, specifier string, referrer int) *Module {
		calls[fmt.Sprintf("%s@%d", specifier, referrer)]++
		return mods[strings.TrimPrefix(specifier, "./")]
	}
	return mods, load, calls
}

func TestModule_GraphEvaluation(t *testing.T) {
	iso := newTestIsolate(t)
	withContext(t, iso, func(_ *IsolateScope, _ *HandleScope, cs *ContextScope) {
		run(t, cs, "globalThis.evaluations = []")
		mods, load, calls := compileAll(t, cs, map[string]string{
			"math.js": `globalThis.evaluations.push("math");
export const square = (x) => x * x;
`,
			"util.js": `import { square } from "./math.js";
globalThis.evaluations.push("util");
export default function area(r) { return square(r) * 3; }
`,
			"main.js": `import area from "./util.js";
import { square } from "./math.js";
globalThis.evaluations.push("main");
export const result = area(2) + square(3);
`,
		})
		main := mods["main.js"]

		if got := main.RequestedModules(); len(got) != 2 || got[0] != "./util.js" || got[1] != "./math.js" {
			t.Errorf("requested modules = %q", got)
		}
		if main.Status() != ModuleUninstantiated {
			t.Errorf("status = %s", main.Status())
		}

		if err := main.Instantiate(cs, load); err != nil {
			t.Fatalf("instantiate: %v", err)
		}
		if len(calls) != 3 {
			t.Errorf("load calls = %v, want 3 distinct pairs", calls)
		}
		for key, n := range calls {
			if n != 1 {
				t.Errorf("load(%s) called %d times", key, n)
			}
		}
		util, math := mods["util.js"], mods["math.js"]
		for _, key := range []string{
			fmt.Sprintf("./util.js@%d", main.IdentityHash()),
			fmt.Sprintf("./math.js@%d", main.IdentityHash()),
			fmt.Sprintf("./math.js@%d", util.IdentityHash()),
		} {
			if calls[key] != 1 {
				t.Errorf("load(%s) called %d times, want 1 (calls %v)", key, calls[key], calls)
			}
		}
		if n := calls[fmt.Sprintf("./math.js@%d", math.IdentityHash())]; n != 0 {
			t.Errorf("math.js reported as its own referrer")
		}
		for name, m := range mods {
			if m.Status() != ModuleInstantiated {
				t.Errorf("%s status = %s, want instantiated", name, m.Status())
			}
		}

		ns, err := main.Evaluate(cs)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		obj, err := ns.AsObject()
		if err != nil {
			t.Fatalf("namespace: %v", err)
		}
		result, err := obj.Get("result")
		if err != nil {
			t.Fatalf("get result: %v", err)
		}
		if n, _ := result.Long(); n != 21 {
			t.Errorf("result = %d, want 21", n)
		}
		if order := run(t, cs, "evaluations.join(',')").String(); order != "math,util,main" {
			t.Errorf("evaluation order = %q", order)
		}

		// Evaluating again returns the cached namespace.
		if _, err := main.Evaluate(cs); err != nil {
			t.Fatalf("evaluate again: %v", err)
		}
		if n := run(t, cs, "evaluations.length").String(); n != "3" {
			t.Errorf("modules evaluated more than once: %s", n)
		}
		if main.Status() != ModuleEvaluated {
			t.Errorf("status = %s, want evaluated", main.Status())
		}
	})
}

func TestModule_MissingImports(t *testing.T) {
	iso := newTestIsolate(t)
	withContext(t, iso, func(_ *IsolateScope, _ *HandleScope, cs *ContextScope) {
		mods, load, _ := compileAll(t, cs, map[string]string{
			"main.js": `import "./present.js";
import { x } from "./absent.js";
import y from "./gone.js";
export default x + y;
`,
			"present.js": `export const ok = true;`,
		})
		main := mods["main.js"]

		err := main.Instantiate(cs, load)
		wantKind(t, err, errors.KindMissingImport)
		wantKind(t, err, errors.KindInstantiation)

		var missing *errors.MissingImportsError
		if !errors.As(err, &missing) {
			t.Fatalf("error %v is not a MissingImportsError", err)
		}
		if len(missing.Imports) != 2 {
			t.Fatalf("missing = %+v, want 2 entries", missing.Imports)
		}
		for _, imp := range missing.Imports {
			if imp.Referrer != "main.js" {
				t.Errorf("referrer = %q", imp.Referrer)
			}
		}

		if main.Status() != ModuleUninstantiated {
			t.Errorf("status = %s, want uninstantiated", main.Status())
		}
		_, err = main.Evaluate(cs)
		wantKind(t, err, errors.KindInstantiation)
	})
}

func TestModule_EvaluationErrorIsSticky(t *testing.T) {
	iso := newTestIsolate(t)
	withContext(t, iso, func(s *IsolateScope, _ *HandleScope, cs *ContextScope) {
		mods, load, _ := compileAll(t, cs, map[string]string{
			"bad.js": `globalThis.badRuns = (globalThis.badRuns || 0) + 1;
export const before = 1;
function fail() {
  throw new Error("bad module");
}
fail();
`,
		})
		bad := mods["bad.js"]
		if err := bad.Instantiate(cs, load); err != nil {
			t.Fatalf("instantiate: %v", err)
		}

		tc, _ := NewTryCatch(s)
		defer tc.Close()

		_, err := bad.Evaluate(cs)
		wantKind(t, err, errors.KindException)
		if !strings.Contains(tc.StackTrace(), "bad.js:4:") {
			t.Errorf("stack trace not mapped to module source:\n%s", tc.StackTrace())
		}
		if bad.Status() != ModuleErrored {
			t.Errorf("status = %s, want errored", bad.Status())
		}

		_, again := bad.Evaluate(cs)
		wantKind(t, again, errors.KindException)

		if err := bad.Instantiate(cs, load); err != nil {
			t.Fatalf("instantiate errored module: %v", err)
		}
		if bad.Status() != ModuleErrored {
			t.Errorf("status after instantiate = %s, want errored", bad.Status())
		}
		_, third := bad.Evaluate(cs)
		wantKind(t, third, errors.KindException)
		if n := run(t, cs, "badRuns").String(); n != "1" {
			t.Errorf("module body ran %s times, want 1", n)
		}
	})
}

func TestModule_ImportLikeTextIsNotRequested(t *testing.T) {
	iso := newTestIsolate(t)
	withContext(t, iso, func(_ *IsolateScope, _ *HandleScope, cs *ContextScope) {
		m, err := cs.CompileModule("main.js", `// import "commented";
export const s = 'call require("nope") later';
export const tpl = `+"`"+`import x from "also-nope"`+"`"+`;
`)
		if err != nil {
			t.Fatalf("compile: %v", err)
		}
		if got := m.RequestedModules(); len(got) != 0 {
			t.Fatalf("requested modules = %q, want none", got)
		}
		load := func(_ *ContextScope, specifier string, _ int) *Module {
			t.Errorf("load called for %q", specifier)
			return nil
		}
		if err := m.Instantiate(cs, load); err != nil {
			t.Fatalf("instantiate: %v", err)
		}
		ns, err := m.Evaluate(cs)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		obj, err := ns.AsObject()
		if err != nil {
			t.Fatalf("namespace: %v", err)
		}
		s, err := obj.Get("s")
		if err != nil {
			t.Fatalf("get s: %v", err)
		}
		if s.String() != `call require("nope") later` {
			t.Errorf("s = %q", s.String())
		}
	})
}

func TestModule_SyntaxError(t *testing.T) {
	iso := newTestIsolate(t)
	withContext(t, iso, func(_ *IsolateScope, _ *HandleScope, cs *ContextScope) {
		_, err := cs.CompileModule("broken.js", "export const = 1;")
		wantKind(t, err, errors.KindSyntax)
	})
}

func TestModule_IdentityHash(t *testing.T) {
	iso := newTestIsolate(t)
	withContext(t, iso, func(_ *IsolateScope, _ *HandleScope, cs *ContextScope) {
		a, _ := cs.CompileModule("a.js", "export default 1")
		b, _ := cs.CompileModule("a.js", "export default 1")
		if a.IdentityHash() == 0 || a.IdentityHash() == b.IdentityHash() {
			t.Errorf("hashes %d and %d should be distinct and non-zero", a.IdentityHash(), b.IdentityHash())
		}
		if a.Name() != "a.js" {
			t.Errorf("name = %q", a.Name())
		}
	})
}

func TestModule_NilLoader(t *testing.T) {
	iso := newTestIsolate(t)
	withContext(t, iso, func(_ *IsolateScope, _ *HandleScope, cs *ContextScope) {
		m, _ := cs.CompileModule("m.js", "export default 1")
		wantKind(t, m.Instantiate(cs, nil), errors.KindNilPointer)
	})
}

func TestModule_PersistAcrossScopes(t *testing.T) {
	iso := newTestIsolate(t)
	s := iso.Enter()
	defer s.Exit()

	err := WithHandleScope(s, func(outer *HandleScope) error {
		ctx, err := NewContext(s, nil)
		if err != nil {
			return err
		}
		defer ctx.Dispose(s)

		var persisted *PersistedModule
		err = WithHandleScope(s, func(hs *HandleScope) error {
			cs, err := ctx.Enter(hs)
			if err != nil {
				return err
			}
			defer cs.Exit()
			m, err := cs.CompileModule("answer.js", "export const answer = 42;")
			if err != nil {
				return err
			}
			persisted, err = m.Persist()
			return err
		})
		if err != nil {
			return err
		}
		defer persisted.Release()

		cs, err := ctx.Enter(outer)
		if err != nil {
			return err
		}
		defer cs.Exit()
		m, err := persisted.ToLocal(outer)
		if err != nil {
			return err
		}
		if err := m.Instantiate(cs, func(*ContextScope, string, int) *Module { return nil }); err != nil {
			return err
		}
		ns, err := m.Evaluate(cs)
		if err != nil {
			return err
		}
		obj, err := ns.AsObject()
		if err != nil {
			t.Fatalf("as object: %v", err)
		}
		if v, _ := obj.Get("answer"); v.String() != "42" {
			t.Errorf("answer = %s", v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
}
