package vm

import (
	"testing"
	"weak"

	"github.com/dop251/goja"

	"github.com/wippyai/js-runtime/errors"
)

func TestResolver_SettlesOnce(t *testing.T) {
	iso := newTestIsolate(t)
	withContext(t, iso, func(_ *IsolateScope, hs *HandleScope, cs *ContextScope) {
		r, err := cs.NewResolver()
		if err != nil {
			t.Fatalf("new resolver: %v", err)
		}
		p, err := r.Promise()
		if err != nil {
			t.Fatalf("promise: %v", err)
		}
		if st, _ := p.State(); st != PromisePending {
			t.Fatalf("state = %s, want pending", st)
		}

		v, _ := hs.NewString("done")
		if err := r.Resolve(v); err != nil {
			t.Fatalf("resolve: %v", err)
		}
		reason, _ := hs.NewString("late")
		if err := r.Reject(reason); err != nil {
			t.Fatalf("reject after resolve: %v", err)
		}

		if st, _ := p.State(); st != PromiseFulfilled {
			t.Errorf("state = %s, want fulfilled", st)
		}
		res, err := p.Result()
		if err != nil {
			t.Fatalf("result: %v", err)
		}
		if res.String() != "done" {
			t.Errorf("result = %q", res.String())
		}
	})
}

func TestResolver_RejectRunsScriptHandlers(t *testing.T) {
	iso := newTestIsolate(t)
	withContext(t, iso, func(_ *IsolateScope, hs *HandleScope, cs *ContextScope) {
		r, _ := cs.NewResolver()
		global, _ := cs.Global()
		_ = global.Set("pending", r.Value)
		run(t, cs, "globalThis.seen = 'none'; pending.catch(e => { globalThis.seen = e })")

		reason, _ := hs.NewString("boom")
		if err := r.Reject(reason); err != nil {
			t.Fatalf("reject: %v", err)
		}
		if seen, _ := global.GetString("seen"); seen != "boom" {
			t.Errorf("catch handler saw %q, want boom", seen)
		}
	})
}

func TestResolver_FromScriptValue(t *testing.T) {
	iso := newTestIsolate(t)
	withContext(t, iso, func(_ *IsolateScope, hs *HandleScope, cs *ContextScope) {
		r, _ := cs.NewResolver()
		global, _ := cs.Global()
		_ = global.Set("p", r.Value)

		back, err := run(t, cs, "p").AsResolver()
		if err != nil {
			t.Fatalf("as resolver: %v", err)
		}
		n, _ := hs.NewInteger(7)
		if err := back.Resolve(n); err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if got := run(t, cs, "let out; p.then(v => { out = v }); out").String(); got != "undefined" {
			t.Errorf("reaction ran synchronously: %s", got)
		}
		if got := run(t, cs, "out").String(); got != "7" {
			t.Errorf("out = %s, want 7", got)
		}

		// Settled promises no longer map back to a resolver.
		_, err = run(t, cs, "p").AsResolver()
		wantKind(t, err, errors.KindTypeMismatch)
		_, err = run(t, cs, "Promise.resolve(1)").AsResolver()
		wantKind(t, err, errors.KindTypeMismatch)
	})
}

func TestPromise_Then(t *testing.T) {
	iso := newTestIsolate(t)
	withContext(t, iso, func(_ *IsolateScope, _ *HandleScope, cs *ContextScope) {
		p, err := run(t, cs, "Promise.resolve(20)").AsPromise()
		if err != nil {
			t.Fatalf("as promise: %v", err)
		}

		var rejected bool
		derived, err := p.Then(cs, func(info *CallbackInfo) (*Value, error) {
			n, err := info.Arg(0).Number()
			if err != nil {
				return nil, err
			}
			return info.HandleScope().NewNumber(n + 1)
		}, func(*CallbackInfo) (*Value, error) {
			rejected = true
			return nil, nil
		})
		if err != nil {
			t.Fatalf("then: %v", err)
		}
		if err := cs.PerformMicrotaskCheckpoint(); err != nil {
			t.Fatalf("microtask checkpoint: %v", err)
		}

		if st, _ := derived.State(); st != PromiseFulfilled {
			t.Fatalf("derived state = %s", st)
		}
		res, _ := derived.Result()
		if n, _ := res.Long(); n != 21 {
			t.Errorf("derived result = %d, want 21", n)
		}
		if rejected {
			t.Error("rejection handler ran for a fulfilled promise")
		}
	})
}

func TestPromise_RejectedState(t *testing.T) {
	iso := newTestIsolate(t)
	withContext(t, iso, func(_ *IsolateScope, _ *HandleScope, cs *ContextScope) {
		p, err := run(t, cs, "const r = Promise.reject(new Error('nope')); r.catch(() => {}); r").AsPromise()
		if err != nil {
			t.Fatalf("as promise: %v", err)
		}
		if st, _ := p.State(); st != PromiseRejected {
			t.Errorf("state = %s, want rejected", st)
		}
		res, _ := p.Result()
		obj, err := res.AsObject()
		if err != nil {
			t.Fatalf("reason: %v", err)
		}
		if msg, _ := obj.GetString("message"); msg != "nope" {
			t.Errorf("reason message = %q", msg)
		}

		async, err := run(t, cs, "(async () => { throw 1 })()").AsPromise()
		if err != nil {
			t.Fatalf("async result: %v", err)
		}
		if st, _ := async.State(); st != PromiseRejected {
			t.Errorf("async state = %s, want rejected", st)
		}
	})
}

func TestPromise_NotAPromise(t *testing.T) {
	iso := newTestIsolate(t)
	withContext(t, iso, func(_ *IsolateScope, _ *HandleScope, cs *ContextScope) {
		_, err := run(t, cs, "({ then() {} })").AsPromise()
		wantKind(t, err, errors.KindTypeMismatch)
	})
}

func TestResolver_PendingPromiseIsCollected(t *testing.T) {
	iso := newTestIsolate(t)

	s := iso.Enter()
	collected := false
	err := WithHandleScope(s, func(hs *HandleScope) error {
		ctx, err := NewContext(s, nil)
		if err != nil {
			return err
		}
		defer ctx.Dispose(s)

		var held weak.Pointer[goja.Object]
		err = WithHandleScope(s, func(inner *HandleScope) error {
			cs, err := ctx.Enter(inner)
			if err != nil {
				return err
			}
			defer cs.Exit()
			r, err := cs.NewResolver()
			if err != nil {
				return err
			}
			held = weak.Make(r.val.(*goja.Object))
			return nil
		})
		if err != nil {
			return err
		}

		collected = eventually(t, s, func() bool { return held.Value() == nil })
		return nil
	})
	if exitErr := s.Exit(); exitErr != nil {
		t.Fatalf("exit: %v", exitErr)
	}
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	if !collected {
		t.Fatal("unsettled resolver promise was never collected")
	}
}

func TestResolver_HiddenFromScript(t *testing.T) {
	iso := newTestIsolate(t)
	withContext(t, iso, func(_ *IsolateScope, _ *HandleScope, cs *ContextScope) {
		r, err := cs.NewResolver()
		if err != nil {
			t.Fatalf("new resolver: %v", err)
		}
		global, err := cs.Global()
		if err != nil {
			t.Fatalf("global: %v", err)
		}
		if err := global.Set("p", r.Value); err != nil {
			t.Fatalf("set p: %v", err)
		}

		src := `
			const keys = Reflect.ownKeys(p);
			const removed = keys.every(k => delete p[k]);
			String(Object.keys(p).length) + '/' + removed`
		if got := run(t, cs, src).String(); got != "0/false" {
			t.Errorf("script view = %q, want 0/false", got)
		}
		if _, err := run(t, cs, "p").AsResolver(); err != nil {
			t.Fatalf("as resolver after script access: %v", err)
		}
	})
}
