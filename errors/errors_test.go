package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseConvert,
				Kind:   KindTypeMismatch,
				Path:   []string{"config", "server", "port"},
				GoType: "*vm.Array",
				JSType: "string",
				Detail: "cannot convert",
			},
			contains: []string{"[convert]", "type_mismatch", "config.server.port", "*vm.Array", "string", "cannot convert"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseScope,
				Kind:  KindScopeClosed,
			},
			contains: []string{"[scope]", "scope_closed"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseCompile,
				Kind:   KindSyntax,
				Detail: "compile failed",
				Cause:  errors.New("unexpected token"),
			},
			contains: []string{"[compile]", "syntax", "compile failed", "caused by", "unexpected token"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseExecute,
		Kind:  KindException,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhasePersist,
		Kind:  KindDoubleFree,
	}

	if !err.Is(&Error{Phase: PhasePersist, Kind: KindDoubleFree}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseScope, Kind: KindDoubleFree}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhasePersist, Kind: KindScopeClosed}) {
		t.Error("Is should not match different kind")
	}
	if !err.Is(&Error{Kind: KindDoubleFree}) {
		t.Error("Is should match kind-only target")
	}

	wrapped := fmt.Errorf("release: %w", err)
	if !errors.Is(wrapped, &Error{Phase: PhasePersist, Kind: KindDoubleFree}) {
		t.Error("errors.Is should match through wrapping")
	}
	if !HasKind(wrapped, KindDoubleFree) {
		t.Error("HasKind should match through wrapping")
	}
	if KindOf(wrapped) != KindDoubleFree {
		t.Errorf("KindOf = %q", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("KindOf of a plain error should be empty")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseConvert, KindTypeMismatch).
		Path("user", "name").
		GoType("string").
		JSType("object").
		Value(42).
		Cause(cause).
		Detail("expected %s, got %s", "string", "object").
		Build()

	if err.Phase != PhaseConvert {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseConvert)
	}
	if err.Kind != KindTypeMismatch {
		t.Errorf("Kind = %v, want %v", err.Kind, KindTypeMismatch)
	}
	if len(err.Path) != 2 || err.Path[0] != "user" || err.Path[1] != "name" {
		t.Errorf("Path = %v, want [user name]", err.Path)
	}
	if err.GoType != "string" || err.JSType != "object" {
		t.Errorf("GoType=%v JSType=%v", err.GoType, err.JSType)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected string, got object" {
		t.Errorf("Detail = %v", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		kind Kind
	}{
		{"TypeMismatch", TypeMismatch(PhaseConvert, []string{"v"}, "*vm.Object", "number"), KindTypeMismatch},
		{"OutOfBounds", OutOfBounds(PhaseConvert, []string{"arr"}, 10, 5), KindOutOfBounds},
		{"NilPointer", NilPointer(PhaseContext, []string{"slot"}, "any"), KindNilPointer},
		{"Unsupported", Unsupported(PhaseModule, "top-level await"), KindUnsupported},
		{"NotInitialized", NotInitialized(PhasePlatform, "platform"), KindNotInitialized},
		{"NotFound", NotFound(PhaseLoad, "module", "x"), KindNotFound},
		{"InvalidInput", InvalidInput(PhaseIsolate, "bad"), KindInvalidInput},
		{"Disposed", Disposed(PhaseIsolate, "isolate"), KindDisposed},
		{"ScopeClosed", ScopeClosed(PhaseScope, "value"), KindScopeClosed},
		{"ScopeOrder", ScopeOrder(PhaseScope, "handle scope"), KindScopeOrder},
		{"NoActiveScope", NoActiveScope(PhaseScope, "NewContext"), KindNoActiveScope},
		{"NotLocked", NotLocked(PhaseIsolate, 3), KindNotLocked},
		{"DoubleFree", DoubleFree(PhasePersist, "persistent value"), KindDoubleFree},
		{"Syntax", Syntax("a.js", errors.New("x")), KindSyntax},
		{"Exception", Exception(PhaseExecute, "Error: x"), KindException},
		{"Terminated", Terminated(PhaseExecute), KindTerminated},
		{"OutOfMemory", OutOfMemory(PhaseExecute, 1024), KindOutOfMemory},
		{"Registration", Registration("print", errors.New("closed")), KindRegistration},
		{"Instantiation", Instantiation("main", errors.New("x")), KindInstantiation},
		{"Load", Load("read", errors.New("x")), KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
			if tt.err.Error() == "" {
				t.Error("empty message")
			}
		})
	}

	if err := OutOfBounds(PhaseConvert, nil, 10, 5); err.Value != 10 {
		t.Errorf("OutOfBounds Value = %v, want 10", err.Value)
	}
	if err := OutOfMemory(PhaseExecute, 1024); !strings.Contains(err.Detail, "1024") {
		t.Errorf("OutOfMemory Detail = %q, should contain limit", err.Detail)
	}
}

func TestMissingImportsError(t *testing.T) {
	t.Run("single import", func(t *testing.T) {
		err := NewMissingImportsError([]string{ImportKey("main.js", "./util.js")})
		if len(err.Imports) != 1 {
			t.Fatalf("expected 1 import, got %d", len(err.Imports))
		}
		if err.Imports[0].Referrer != "main.js" {
			t.Errorf("referrer = %q, want main.js", err.Imports[0].Referrer)
		}
		if err.Imports[0].Specifier != "./util.js" {
			t.Errorf("specifier = %q, want ./util.js", err.Imports[0].Specifier)
		}
	})

	t.Run("grouped by referrer", func(t *testing.T) {
		err := NewMissingImportsError([]string{
			"main.js#./b.js",
			"lib.js#./c.js",
			"main.js#./a.js",
		})
		msg := err.Error()
		for _, s := range []string{"unresolved 3", "main.js:", "lib.js:", "./a.js", "./c.js"} {
			if !strings.Contains(msg, s) {
				t.Errorf("message %q does not contain %q", msg, s)
			}
		}
		if strings.Index(msg, "./a.js") > strings.Index(msg, "./b.js") {
			t.Error("specifiers should be sorted within a referrer")
		}
	})

	t.Run("no referrer", func(t *testing.T) {
		err := NewMissingImportsError([]string{"./x.js"})
		if !strings.Contains(err.Error(), "<anonymous>") {
			t.Errorf("got %q", err.Error())
		}
	})

	t.Run("empty imports", func(t *testing.T) {
		err := NewMissingImportsError(nil)
		if !strings.Contains(err.Error(), "no imports specified") {
			t.Errorf("empty error should have specific message, got: %s", err.Error())
		}
	})

	t.Run("errors.Is", func(t *testing.T) {
		err := fmt.Errorf("instantiate: %w", NewMissingImportsError([]string{"a#b"}))
		if !errors.Is(err, &MissingImportsError{}) {
			t.Error("errors.Is should match MissingImportsError")
		}
		if !HasKind(err, KindMissingImport) {
			t.Error("HasKind should match missing_import")
		}
	})
}
