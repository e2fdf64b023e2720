package vm

import (
	stderrors "errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/wippyai/js-runtime/errors"
)

func TestNewFunction_Call(t *testing.T) {
	iso := newTestIsolate(t)
	withContext(t, iso, func(_ *IsolateScope, _ *HandleScope, cs *ContextScope) {
		add, err := cs.NewFunction("add", func(info *CallbackInfo) (*Value, error) {
			a, err := info.Arg(0).Number()
			if err != nil {
				return nil, err
			}
			b, err := info.Arg(1).Number()
			if err != nil {
				return nil, err
			}
			return info.HandleScope().NewNumber(a + b)
		}, nil)
		if err != nil {
			t.Fatalf("new function: %v", err)
		}

		global, err := cs.Global()
		if err != nil {
			t.Fatalf("global: %v", err)
		}
		if err := global.Set("add", add); err != nil {
			t.Fatalf("set add: %v", err)
		}

		if got := run(t, cs, "add(2, 3)").String(); got != "5" {
			t.Errorf("add(2, 3) = %q, want 5", got)
		}
		if got := run(t, cs, "add.name").String(); got != "add" {
			t.Errorf("add.name = %q, want add", got)
		}

		// Call from the host side.
		two, _ := cs.locals().NewInteger(2)
		forty, _ := cs.locals().NewInteger(40)
		res, err := add.Call(cs, nil, two, forty)
		if err != nil {
			t.Fatalf("call: %v", err)
		}
		if n, _ := res.Long(); n != 42 {
			t.Errorf("host call = %d, want 42", n)
		}
	})
}

func TestCallbackInfo_Arguments(t *testing.T) {
	iso := newTestIsolate(t)
	withContext(t, iso, func(_ *IsolateScope, _ *HandleScope, cs *ContextScope) {
		var (
			n        int
			missing  bool
			thisKind ValueKind
		)
		fn, err := cs.NewFunction("inspect", func(info *CallbackInfo) (*Value, error) {
			n = info.Len()
			missing = info.Arg(5).IsUndefined()
			thisKind = info.This().Kind()
			if info.ContextScope().Context() != cs.Context() {
				t.Error("callback entered a different context")
			}
			return nil, nil
		}, nil)
		if err != nil {
			t.Fatalf("new function: %v", err)
		}
		global, _ := cs.Global()
		_ = global.Set("inspect", fn)

		res := run(t, cs, "({ m: inspect }).m(1, 'a', null)")
		if !res.IsUndefined() {
			t.Errorf("nil result should be undefined, got %s", res.Kind())
		}
		if n != 3 {
			t.Errorf("Len = %d, want 3", n)
		}
		if !missing {
			t.Error("out-of-range argument should be undefined")
		}
		if thisKind != KindObject {
			t.Errorf("this kind = %s, want Object", thisKind)
		}
	})
}

func TestCallback_ErrorsAreThrown(t *testing.T) {
	iso := newTestIsolate(t)
	withContext(t, iso, func(_ *IsolateScope, hs *HandleScope, cs *ContextScope) {
		global, _ := cs.Global()

		fail, _ := cs.NewFunction("fail", func(*CallbackInfo) (*Value, error) {
			return nil, stderrors.New("host says no")
		}, nil)
		_ = global.Set("fail", fail)

		throw42, _ := cs.NewFunction("throw42", func(info *CallbackInfo) (*Value, error) {
			v, _ := info.HandleScope().NewInteger(42)
			return nil, Throw(v)
		}, nil)
		_ = global.Set("throw42", throw42)

		boom, _ := cs.NewFunction("boom", func(*CallbackInfo) (*Value, error) {
			panic("kaboom")
		}, nil)
		_ = global.Set("boom", boom)

		msg := run(t, cs, "try { fail() } catch (e) { e.message }").String()
		if !strings.Contains(msg, "host says no") {
			t.Errorf("error message = %q", msg)
		}
		if got := run(t, cs, "try { throw42() } catch (e) { e === 42 }").String(); got != "true" {
			t.Errorf("thrown value mismatch: %s", got)
		}
		msg = run(t, cs, "try { boom() } catch (e) { String(e) }").String()
		if !strings.Contains(msg, "kaboom") {
			t.Errorf("panic message = %q", msg)
		}

		// Uncaught callback errors fail the run.
		_, err := cs.RunString("fail()", "uncaught.js")
		wantKind(t, err, errors.KindException)
	})
}

func TestCallback_NestedExecution(t *testing.T) {
	iso := newTestIsolate(t)
	withContext(t, iso, func(s *IsolateScope, _ *HandleScope, cs *ContextScope) {
		twice, _ := cs.NewFunction("twice", func(info *CallbackInfo) (*Value, error) {
			cb := info.Arg(0)
			first, err := cb.Call(info.ContextScope(), nil, info.Arg(1))
			if err != nil {
				return nil, err
			}
			return cb.Call(info.ContextScope(), nil, first)
		}, nil)
		global, _ := cs.Global()
		_ = global.Set("twice", twice)

		if got := run(t, cs, "twice(x => x * 3, 2)").String(); got != "18" {
			t.Errorf("twice = %q, want 18", got)
		}

		// A nested failure caught by script never reaches the host TryCatch.
		tc, _ := NewTryCatch(s)
		defer tc.Close()
		got := run(t, cs, "try { twice(() => { throw new Error('inner') }, 0) } catch (e) { e.message }").String()
		if !strings.Contains(got, "inner") {
			t.Errorf("nested error = %q", got)
		}
		if tc.HasCaught() {
			t.Error("outer TryCatch captured an exception script handled")
		}
	})
	if v := iso.Violations(); v != 0 {
		t.Errorf("violations = %d, want 0", v)
	}
}

func TestCallback_LeftOpenScopesAreUnwound(t *testing.T) {
	iso := newTestIsolate(t)
	withContext(t, iso, func(s *IsolateScope, _ *HandleScope, cs *ContextScope) {
		leaky, _ := cs.NewFunction("leaky", func(info *CallbackInfo) (*Value, error) {
			_, err := NewHandleScope(info.IsolateScope())
			return nil, err
		}, nil)
		global, _ := cs.Global()
		_ = global.Set("leaky", leaky)

		before := iso.Stats().OpenScopes
		run(t, cs, "leaky()")
		if got := iso.Stats().OpenScopes; got != before {
			t.Errorf("open scopes = %d, want %d", got, before)
		}
	})
	if iso.Violations() != 1 {
		t.Errorf("violations = %d, want 1", iso.Violations())
	}
}

func TestCallback_DestructorOnCollection(t *testing.T) {
	iso := newTestIsolate(t)
	var destroyed atomic.Int32

	s := iso.Enter()
	collected := false
	err := WithHandleScope(s, func(hs *HandleScope) error {
		ctx, err := NewContext(s, nil)
		if err != nil {
			return err
		}
		defer ctx.Dispose(s)

		// Create the function in an inner scope so nothing keeps it.
		err = WithHandleScope(s, func(inner *HandleScope) error {
			cs, err := ctx.Enter(inner)
			if err != nil {
				return err
			}
			defer cs.Exit()
			_, err = cs.NewFunction("temp", func(*CallbackInfo) (*Value, error) {
				return nil, nil
			}, func() { destroyed.Add(1) })
			return err
		})
		if err != nil {
			return err
		}

		collected = eventually(t, s, func() bool { return destroyed.Load() == 1 })
		return nil
	})
	if exitErr := s.Exit(); exitErr != nil {
		t.Fatalf("exit: %v", exitErr)
	}
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	if !collected {
		t.Fatalf("destructor calls = %d, want 1", destroyed.Load())
	}
	if err := iso.Dispose(); err != nil {
		t.Fatalf("dispose: %v", err)
	}
	if destroyed.Load() != 1 {
		t.Errorf("destructor ran %d times, want exactly 1", destroyed.Load())
	}
	st := iso.Stats()
	if st.RetiredCollected != 1 || st.RetiredDrained != 0 {
		t.Errorf("retired collected=%d drained=%d, want 1/0", st.RetiredCollected, st.RetiredDrained)
	}
}

func TestCallback_ReachableFunctionSurvivesCollection(t *testing.T) {
	iso := newTestIsolate(t)
	var destroyed atomic.Int32
	withContext(t, iso, func(s *IsolateScope, _ *HandleScope, cs *ContextScope) {
		fn, _ := cs.NewFunction("kept", func(*CallbackInfo) (*Value, error) {
			return nil, nil
		}, func() { destroyed.Add(1) })
		global, _ := cs.Global()
		_ = global.Set("kept", fn)

		for range 5 {
			if err := s.CollectGarbage(); err != nil {
				t.Fatalf("collect garbage: %v", err)
			}
		}
		if destroyed.Load() != 0 {
			t.Fatal("reachable function was retired")
		}
		run(t, cs, "kept()")
	})
}

func TestDispose_RunsEachDestructorOnce(t *testing.T) {
	iso, err := NewIsolate()
	if err != nil {
		t.Fatalf("new isolate: %v", err)
	}

	const n = 10
	var destroyed atomic.Int32
	var externals atomic.Int32

	s := iso.Enter()
	err = WithHandleScope(s, func(hs *HandleScope) error {
		ctx, err := NewContext(s, nil)
		if err != nil {
			return err
		}
		cs, err := ctx.Enter(hs)
		if err != nil {
			return err
		}
		defer cs.Exit()

		arr, err := cs.NewArray()
		if err != nil {
			return err
		}
		a, err := arr.AsArray()
		if err != nil {
			t.Fatalf("as array: %v", err)
		}
		for i := 0; i < n; i++ {
			fn, err := cs.NewFunction("f", func(*CallbackInfo) (*Value, error) {
				return nil, nil
			}, func() { destroyed.Add(1) })
			if err != nil {
				return err
			}
			if _, err := a.Push(fn); err != nil {
				return err
			}
		}
		ext, err := cs.NewExternal("payload", func(any) { externals.Add(1) })
		if err != nil {
			return err
		}
		if _, err := a.Push(ext); err != nil {
			return err
		}

		global, _ := cs.Global()
		return global.Set("keep", arr)
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := s.Exit(); err != nil {
		t.Fatalf("exit: %v", err)
	}

	if got := iso.Stats().Registrations; got != n+1 {
		t.Fatalf("registrations = %d, want %d", got, n+1)
	}
	if err := iso.Dispose(); err != nil {
		t.Fatalf("dispose: %v", err)
	}
	if destroyed.Load() != n {
		t.Errorf("destructors ran %d times, want %d", destroyed.Load(), n)
	}
	if externals.Load() != 1 {
		t.Errorf("external destructor ran %d times, want 1", externals.Load())
	}
	st := iso.Stats()
	if st.Registrations != 0 {
		t.Errorf("registry not empty after dispose: %d", st.Registrations)
	}
	if st.RetiredDrained != n+1 {
		t.Errorf("drained = %d, want %d", st.RetiredDrained, n+1)
	}
}

func TestFunctionTemplate(t *testing.T) {
	iso := newTestIsolate(t)
	var destroyed atomic.Int32

	s := iso.Enter()
	tmpl, err := NewFunctionTemplate(s, func(info *CallbackInfo) (*Value, error) {
		return info.HandleScope().NewString("hello")
	}, func() { destroyed.Add(1) })
	if err != nil {
		t.Fatalf("new function template: %v", err)
	}
	if err := s.Exit(); err != nil {
		t.Fatalf("exit: %v", err)
	}

	global := NewObjectTemplate().
		Set("greet", tmpl).
		Set("config", NewObjectTemplate().Set("version", 3).Set("name", "demo")).
		Set("debug", false)

	s = iso.Enter()
	err = WithHandleScope(s, func(hs *HandleScope) error {
		ctx, err := NewContext(s, global)
		if err != nil {
			return err
		}
		defer ctx.Dispose(s)
		cs, err := ctx.Enter(hs)
		if err != nil {
			return err
		}
		defer cs.Exit()

		got := run(t, cs, "greet() + ' ' + config.name + ' ' + config.version + ' ' + debug").String()
		if got != "hello demo 3 false" {
			t.Errorf("got %q", got)
		}
		if name := run(t, cs, "greet.name").String(); name != "greet" {
			t.Errorf("greet.name = %q", name)
		}

		fn, err := tmpl.SetName("again").ToFunction(cs)
		if err != nil {
			return err
		}
		if !fn.IsFunction() {
			t.Errorf("ToFunction kind = %s", fn.Kind())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	_ = s.Exit()

	if err := iso.Dispose(); err != nil {
		t.Fatalf("dispose: %v", err)
	}
	if got := destroyed.Load(); got != 2 {
		t.Errorf("template destructor ran %d times, want once per instance (2)", got)
	}
}

func TestObjectTemplate_RejectsUnsupportedValue(t *testing.T) {
	iso := newTestIsolate(t)
	s := iso.Enter()
	defer s.Exit()

	err := WithHandleScope(s, func(*HandleScope) error {
		_, err := NewContext(s, NewObjectTemplate().Set("bad", struct{}{}))
		return err
	})
	wantKind(t, err, errors.KindTypeMismatch)
	if got := iso.Stats().Contexts; got != 0 {
		t.Errorf("contexts = %d, want 0 after failed creation", got)
	}
}
