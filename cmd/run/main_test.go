package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/js-runtime/engine"
	"github.com/wippyai/js-runtime/errors"
)

func TestMain(m *testing.M) {
	if err := engine.Initialize(engine.Config{}); err != nil {
		panic(err)
	}
	code := m.Run()
	engine.Dispose()
	os.Exit(code)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	p := writeFile(t, t.TempDir(), "run.yaml", `
file: app.js
timeout: 2s
max_heap_mb: 64
verbose: true
`)
	cfg, err := loadConfig(p)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.File != "app.js" || cfg.Timeout != 2*time.Second || cfg.MaxHeapMB != 64 || !cfg.Verbose {
		t.Fatalf("config = %+v", cfg)
	}

	cfg.merge(config{Timeout: time.Second, Verbose: false, File: "ignored.js"},
		map[string]bool{"timeout": true, "v": true})
	if cfg.Timeout != time.Second || cfg.Verbose {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.File != "app.js" {
		t.Errorf("unset flag overrode file: %q", cfg.File)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	p := writeFile(t, t.TempDir(), "bad.yaml", "timeout: [1, 2\n")
	if _, err := loadConfig(p); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected read error")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  config
		ok   bool
	}{
		{"eval", config{Eval: "1"}, true},
		{"interactive", config{Interactive: true}, true},
		{"nothing", config{}, false},
		{"two sources", config{File: "a.js", Module: "b.js"}, false},
		{"negative timeout", config{Eval: "1", Timeout: -time.Second}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if (err == nil) != tt.ok {
				t.Errorf("validate() = %v", err)
			}
		})
	}
}

func newTestSession(t *testing.T, cfg config) (*session, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	s, err := newSession(cfg, zap.NewNop(), &out, &out)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close session: %v", err)
		}
	})
	return s, &out
}

func TestSession_Eval(t *testing.T) {
	s, out := newTestSession(t, config{})

	tests := []struct {
		src, want string
	}{
		{`1 + 2`, "3"},
		{`"hi"`, `"hi"`},
		{`({a: [1, 2], b: null})`, `{"a":[1,2],"b":null}`},
		{`let counter = 1`, "undefined"},
		{`counter + 1`, "2"},
		{`(function named() {})`, "[Function]"},
		{`Promise.resolve(1)`, "Promise {fulfilled}"},
	}
	for _, tt := range tests {
		r := s.eval(tt.src, "test.js")
		if r.err != nil {
			t.Fatalf("eval %q: %v", tt.src, r.err)
		}
		if r.text != tt.want {
			t.Errorf("eval %q = %s, want %s", tt.src, r.text, tt.want)
		}
	}

	if r := s.eval(`console.log("from script")`, "log.js"); r.err != nil {
		t.Fatalf("console: %v", r.err)
	}
	if !strings.Contains(out.String(), "from script") {
		t.Errorf("console output = %q", out.String())
	}
	if got := s.iso.Stats().Violations; got != 0 {
		t.Errorf("violations = %d", got)
	}
}

func TestSession_EvalError(t *testing.T) {
	s, _ := newTestSession(t, config{})

	r := s.eval("function f() {\n  throw new TypeError('nope');\n}\nf();", "boom.js")
	if !errors.HasKind(r.err, errors.KindException) {
		t.Fatalf("expected exception, got %v", r.err)
	}
	if !strings.Contains(r.stack, "TypeError: nope") || !strings.Contains(r.stack, "boom.js") {
		t.Errorf("stack = %q", r.stack)
	}
	if got := formatError(r); got != r.stack {
		t.Errorf("formatError = %q", got)
	}

	if r := s.eval("1 +", "syntax.js"); r.err == nil {
		t.Error("expected syntax error")
	}
	if r := s.eval("40 + 2", "after.js"); r.err != nil || r.text != "42" {
		t.Errorf("session unusable after errors: %q, %v", r.text, r.err)
	}
}

func TestSession_Timeout(t *testing.T) {
	s, _ := newTestSession(t, config{Timeout: 50 * time.Millisecond})

	r := s.eval("for (;;) {}", "spin.js")
	if !errors.HasKind(r.err, errors.KindTerminated) {
		t.Fatalf("expected termination, got %v", r.err)
	}
	if !strings.Contains(r.err.Error(), "timeout 50ms") {
		t.Errorf("error = %v", r.err)
	}
	if r.stack != "" {
		t.Errorf("termination reported a stack: %q", r.stack)
	}

	if r := s.eval("'alive'", "after.js"); r.err != nil || r.text != `"alive"` {
		t.Errorf("after timeout: %q, %v", r.text, r.err)
	}
}

func TestSession_Interrupt(t *testing.T) {
	s, _ := newTestSession(t, config{})
	if s.Interrupt() {
		t.Error("interrupt reported success while idle")
	}
	if r := s.eval("1", "idle.js"); r.err != nil {
		t.Errorf("idle interrupt leaked into next run: %v", r.err)
	}
}

func TestSession_RunModule(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "main.js", `import { twice } from "./lib/math.js";
import label from "fmt@^1";
export const answer = twice(21);
export const tag = label;
`)
	writeFile(t, dir, "lib/math.js", `export const twice = (n) => n * 2;`)
	writeFile(t, dir, "deps/fmt/1.2.0/index.js", `export default "fmt-1.2";`)
	writeFile(t, dir, "deps/fmt/2.0.0/index.js", `export default "fmt-2";`)

	s, _ := newTestSession(t, config{})
	r := s.runModule(main, "deps")
	if r.err != nil {
		t.Fatalf("run module: %v", r.err)
	}
	if !strings.Contains(r.text, `"answer":42`) || !strings.Contains(r.text, `"tag":"fmt-1.2"`) {
		t.Errorf("namespace = %s", r.text)
	}
	if got := s.iso.Stats().Persistents; got != 0 {
		t.Errorf("loader left %d persistents", got)
	}
}

func TestSession_RunModuleMissingImport(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "main.js", `import "./absent.js";`)

	s, _ := newTestSession(t, config{})
	r := s.runModule(main, "")
	if !errors.HasKind(r.err, errors.KindMissingImport) {
		t.Fatalf("expected missing import, got %v", r.err)
	}
}

func TestRunLines(t *testing.T) {
	s, _ := newTestSession(t, config{})
	var w bytes.Buffer
	in := strings.NewReader("var x = 20\n\nx + 22\nthrow new Error('bad')\n")
	if err := runLines(s, in, &w); err != nil {
		t.Fatalf("run lines: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(w.String()), "\n")
	if len(lines) < 3 || lines[0] != "undefined" || lines[1] != "42" {
		t.Fatalf("output = %q", w.String())
	}
	if !strings.Contains(w.String(), "Error: bad") {
		t.Errorf("error not printed: %q", w.String())
	}
}

func TestRun_Require(t *testing.T) {
	engine.Dispose()
	defer func() {
		if err := engine.Initialize(engine.Config{}); err != nil {
			t.Fatalf("reinitialize: %v", err)
		}
	}()

	var out, errOut bytes.Buffer
	if err := run(config{Eval: "6 * 7", Require: ">= 0.0.0"}, &out, &errOut); err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(out.String()) != "42" {
		t.Errorf("output = %q", out.String())
	}
	if err := run(config{Eval: "1", Require: "< 0.0.1"}, &out, &errOut); err == nil {
		t.Error("expected unsatisfied requirement")
	}
	if err := run(config{Eval: "1", Require: "not a range"}, &out, &errOut); err == nil {
		t.Error("expected invalid constraint")
	}
}
