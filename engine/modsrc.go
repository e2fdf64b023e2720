package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/go-sourcemap/sourcemap"
	"go.uber.org/zap"

	"github.com/wippyai/js-runtime/errors"
)

// ModuleWrapperPrefix opens the function expression every module body is
// wrapped in. It shares the first line with the module code so that
// generated line numbers stay aligned with the transformed output.
const ModuleWrapperPrefix = "(function(exports, require, module) {"

const moduleWrapperSuffix = "\n})"

// ModuleTarget is the language level module code is lowered to.
var ModuleTarget = api.ES2017

// ModuleSource is a module body lowered to an engine-runnable function
// expression, plus the specifiers it requests.
type ModuleSource struct {
	Name     string
	Code     string
	Requests []string

	sourceMap *sourcemap.Consumer
}

// TransformModule lowers ES module syntax in source to a CommonJS body
// wrapped in a function expression and records the specifiers it requests.
// Syntax errors come back as a compile error naming the first location.
func TransformModule(name, source string) (*ModuleSource, error) {
	result := api.Transform(source, api.TransformOptions{
		Loader:     api.LoaderJS,
		Format:     api.FormatCommonJS,
		Target:     ModuleTarget,
		Sourcefile: name,
		Sourcemap:  api.SourceMapExternal,
	})

	if len(result.Errors) > 0 {
		return nil, errors.Syntax(name, transformError(result.Errors))
	}
	for _, w := range result.Warnings {
		Logger().Debug("module transform warning",
			zap.String("module", name),
			zap.String("text", w.Text))
	}

	code := string(result.Code)
	requests, err := ScanRequests(name, source)
	if err != nil {
		return nil, errors.Syntax(name, err)
	}

	ms := &ModuleSource{
		Name:     name,
		Code:     ModuleWrapperPrefix + code + moduleWrapperSuffix,
		Requests: requests,
	}

	if len(result.Map) > 0 {
		sm, err := sourcemap.Parse("", result.Map)
		if err != nil {
			Logger().Debug("module source map ignored",
				zap.String("module", name),
				zap.Error(err))
		} else {
			ms.sourceMap = sm
		}
	}
	return ms, nil
}

// externalAll leaves every import unresolved so the scan never touches
// the file system.
var externalAll = api.Plugin{
	Name: "external-all",
	Setup: func(build api.PluginBuild) {
		build.OnResolve(api.OnResolveOptions{Filter: ".*"},
			func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				return api.OnResolveResult{Path: args.Path, External: true}, nil
			})
	},
}

type metafile struct {
	Inputs map[string]struct {
		Imports []struct {
			Path string `json:"path"`
			Kind string `json:"kind"`
		} `json:"imports"`
	} `json:"inputs"`
}

// ScanRequests returns the distinct specifiers module source imports, in
// source order. Static imports, re-exports, dynamic imports with a literal
// specifier and require calls all count. The list comes from esbuild's
// import records, so text inside strings and comments is never mistaken
// for an import.
func ScanRequests(name, source string) ([]string, error) {
	result := api.Build(api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   source,
			Sourcefile: name,
			Loader:     api.LoaderJS,
		},
		Bundle:   true,
		Write:    false,
		Metafile: true,
		Format:   api.FormatCommonJS,
		Target:   ModuleTarget,
		Platform: api.PlatformNeutral,
		LogLevel: api.LogLevelSilent,
		Plugins:  []api.Plugin{externalAll},
	})
	if len(result.Errors) > 0 {
		return nil, transformError(result.Errors)
	}

	var meta metafile
	if err := json.Unmarshal([]byte(result.Metafile), &meta); err != nil {
		return nil, fmt.Errorf("decode metafile: %w", err)
	}

	var out []string
	seen := make(map[string]struct{})
	for _, in := range meta.Inputs {
		for _, imp := range in.Imports {
			if _, ok := seen[imp.Path]; ok {
				continue
			}
			seen[imp.Path] = struct{}{}
			out = append(out, imp.Path)
		}
	}
	return out, nil
}

// MapPosition maps a 1-based line and column in the wrapped code back to
// the original module source. ok is false when no mapping exists.
func (m *ModuleSource) MapPosition(line, column int) (source string, origLine, origColumn int, ok bool) {
	if m == nil || m.sourceMap == nil || line < 1 {
		return "", 0, 0, false
	}
	if line == 1 {
		column -= len(ModuleWrapperPrefix)
	}
	if column < 1 {
		column = 1
	}
	source, _, origLine, origColumn, ok = m.sourceMap.Source(line, column-1)
	if !ok {
		return "", 0, 0, false
	}
	return source, origLine, origColumn + 1, true
}

// HasSourceMap reports whether positions can be mapped.
func (m *ModuleSource) HasSourceMap() bool {
	return m != nil && m.sourceMap != nil
}

type transformErrors []api.Message

func (e transformErrors) Error() string {
	var b strings.Builder
	for i, msg := range e {
		if i > 0 {
			b.WriteString("; ")
		}
		if msg.Location != nil {
			fmt.Fprintf(&b, "%s:%d:%d: ", msg.Location.File, msg.Location.Line, msg.Location.Column+1)
		}
		b.WriteString(msg.Text)
	}
	return b.String()
}

func transformError(msgs []api.Message) error {
	return transformErrors(msgs)
}
