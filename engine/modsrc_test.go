package engine

import (
	"reflect"
	"strings"
	"testing"

	"github.com/dop251/goja"

	"github.com/wippyai/js-runtime/errors"
)

func TestScanRequests(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{"import", `import { a } from "./a.js"; export const b = a;`, []string{"./a.js"}},
		{"source order and dedup", `import "y"; import x from "x"; import { z } from "y"; export default x + z;`, []string{"y", "x"}},
		{"re-exports", `export * from "./all.js"; export { one } from "./one.js";`, []string{"./all.js", "./one.js"}},
		{"dynamic import", `export const load = () => import("./lazy.js");`, []string{"./lazy.js"}},
		{"require call", `const legacy = require("legacy"); export default legacy;`, []string{"legacy"}},
		{"string literal", `export const s = 'call require("nope") later';`, nil},
		{"template literal", "export const s = `import x from \"nope\"`;", nil},
		{"comment", `// import "nope"
/* require("nope") */
export const n = 1;`, nil},
		{"member call", `const obj = { require() {} }; obj.require("nope"); export {};`, nil},
		{"none", `export const x = 1;`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ScanRequests("main.js", tt.src)
			if err != nil {
				t.Fatalf("ScanRequests failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestScanRequests_SyntaxError(t *testing.T) {
	if _, err := ScanRequests("bad.js", "import from ;"); err == nil {
		t.Fatal("expected an error")
	}
}

func TestTransformModule(t *testing.T) {
	src := `import { a } from "./a.js";
export const b = a + 1;
`
	ms, err := TransformModule("main.js", src)
	if err != nil {
		t.Fatalf("TransformModule failed: %v", err)
	}

	if !strings.HasPrefix(ms.Code, ModuleWrapperPrefix) {
		t.Errorf("code not wrapped: %q", ms.Code[:40])
	}
	if !reflect.DeepEqual(ms.Requests, []string{"./a.js"}) {
		t.Errorf("Requests = %q", ms.Requests)
	}
	if !ms.HasSourceMap() {
		t.Error("expected a source map")
	}

	rt := goja.New()
	fnv, err := rt.RunString(ms.Code)
	if err != nil {
		t.Fatalf("wrapped code did not compile: %v", err)
	}
	fn, ok := goja.AssertFunction(fnv)
	if !ok {
		t.Fatal("wrapped code is not a function")
	}

	module := rt.NewObject()
	exports := rt.NewObject()
	_ = module.Set("exports", exports)
	require := func(call goja.FunctionCall) goja.Value {
		if call.Argument(0).String() != "./a.js" {
			panic(rt.NewTypeError("unexpected specifier"))
		}
		dep := rt.NewObject()
		_ = dep.Set("a", 41)
		return dep
	}

	if _, err := fn(goja.Undefined(), exports, rt.ToValue(require), module); err != nil {
		t.Fatalf("module body failed: %v", err)
	}

	ns := module.Get("exports").ToObject(rt)
	if got := ns.Get("b").ToInteger(); got != 42 {
		t.Errorf("b = %d, want 42", got)
	}
}

func TestTransformModule_SyntaxError(t *testing.T) {
	_, err := TransformModule("bad.js", "export const = ;")
	if err == nil {
		t.Fatal("expected syntax error")
	}
	if !errors.HasKind(err, errors.KindSyntax) {
		t.Errorf("unexpected error: %v", err)
	}
	if !strings.Contains(err.Error(), "bad.js") {
		t.Errorf("error should name the module: %v", err)
	}
}

func TestModuleSource_MapPosition(t *testing.T) {
	src := "export function f() {\n  throw new Error(\"x\");\n}\n"
	ms, err := TransformModule("thrower.js", src)
	if err != nil {
		t.Fatal(err)
	}

	line := -1
	for i, l := range strings.Split(ms.Code, "\n") {
		if strings.Contains(l, "throw new Error") {
			line = i + 1
			col := strings.Index(l, "throw") + 1
			source, origLine, _, ok := ms.MapPosition(line, col)
			if !ok {
				t.Fatal("no mapping for throw statement")
			}
			if source != "thrower.js" {
				t.Errorf("source = %q", source)
			}
			if origLine != 2 {
				t.Errorf("line = %d, want 2", origLine)
			}
		}
	}
	if line < 0 {
		t.Fatal("throw statement not found in output")
	}

	var nilSrc *ModuleSource
	if _, _, _, ok := nilSrc.MapPosition(1, 1); ok {
		t.Error("nil source should not map")
	}
}
