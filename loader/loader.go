package loader

import (
	"fmt"
	"io/fs"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/js-runtime/engine"
	"github.com/wippyai/js-runtime/errors"
	"github.com/wippyai/js-runtime/vm"
)

// DefaultRoot is the directory bare specifiers resolve under.
const DefaultRoot = "modules"

// Option configures a Loader.
type Option func(*Loader)

// WithRoot sets the directory bare specifiers resolve under.
func WithRoot(dir string) Option {
	return func(l *Loader) {
		l.root = dir
	}
}

// WithLogger sets the loader logger. Defaults to the engine logger named
// "loader".
func WithLogger(log *zap.Logger) Option {
	return func(l *Loader) {
		if log != nil {
			l.log = log
		}
	}
}

type cacheKey struct {
	ctx  *vm.Context
	path string
}

// Loader compiles modules from a source tree on demand. One Loader may
// serve several contexts of one isolate; modules are cached per context.
type Loader struct {
	src  source
	root string
	log  *zap.Logger

	mu      sync.Mutex
	paths   map[int]string // identity hash -> resolved path
	cache   map[cacheKey]*vm.PersistedModule
	lastErr error
	errs    error
}

// NewFS returns a Loader reading from fsys.
func NewFS(fsys fs.FS, opts ...Option) *Loader {
	return newLoader(fsSource{fsys: fsys}, opts)
}

// NewMap returns a Loader serving files, keyed by slash-separated path.
func NewMap(files map[string]string, opts ...Option) *Loader {
	return newLoader(newMapSource(files), opts)
}

func newLoader(src source, opts []Option) *Loader {
	l := &Loader{
		src:   src,
		root:  DefaultRoot,
		log:   engine.Logger().Named("loader"),
		paths: make(map[int]string),
		cache: make(map[cacheKey]*vm.PersistedModule),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load implements vm.LoadModuleCallback. Resolution failures return nil;
// the cause is available from LastError.
func (l *Loader) Load(cs *vm.ContextScope, specifier string, referrerHash int) *vm.Module {
	l.mu.Lock()
	defer l.mu.Unlock()

	referrer := l.paths[referrerHash]
	resolved, err := l.resolve(specifier, referrer)
	if err != nil {
		l.fail(specifier, referrer, err)
		return nil
	}
	m, err := l.module(cs, resolved)
	if err != nil {
		l.fail(specifier, referrer, err)
		return nil
	}
	return m
}

// Import compiles the module at name, resolved from the source root. The
// returned module still needs Instantiate with l.Load.
func (l *Loader) Import(cs *vm.ContextScope, name string) (*vm.Module, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	resolved, err := l.resolve(entrySpecifier(name), "")
	if err != nil {
		return nil, err
	}
	return l.module(cs, resolved)
}

// Run imports, instantiates and evaluates name, returning its namespace.
// Instantiation failures carry every load error seen during resolution.
func (l *Loader) Run(cs *vm.ContextScope, name string) (*vm.Value, error) {
	m, err := l.Import(cs, name)
	if err != nil {
		return nil, err
	}
	l.takeErrors()
	if err := m.Instantiate(cs, l.Load); err != nil {
		return nil, multierr.Append(err, l.takeErrors())
	}
	return m.Evaluate(cs)
}

// LastError returns the most recent resolution failure seen by Load.
func (l *Loader) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// Path returns the resolved path of the module with identity hash hash.
func (l *Loader) Path(hash int) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.paths[hash]
	return p, ok
}

// Close releases every cached module.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs error
	for key, p := range l.cache {
		if !key.ctx.Isolate().Disposed() {
			errs = multierr.Append(errs, p.Release())
		}
		delete(l.cache, key)
	}
	clear(l.paths)
	return errs
}

// module returns the module at path for the entered context, compiling it
// on first use.
func (l *Loader) module(cs *vm.ContextScope, resolved string) (*vm.Module, error) {
	l.prune()

	key := cacheKey{ctx: cs.Context(), path: resolved}
	if p, ok := l.cache[key]; ok {
		return p.ToLocal(cs.HandleScope())
	}

	code, err := l.src.readFile(resolved)
	if err != nil {
		return nil, errors.Load(fmt.Sprintf("read %q", resolved), err)
	}
	m, err := cs.CompileModule(resolved, string(code))
	if err != nil {
		return nil, err
	}
	p, err := m.Persist()
	if err != nil {
		return nil, err
	}
	l.cache[key] = p
	l.paths[m.IdentityHash()] = resolved

	l.log.Debug("module loaded",
		zap.String("path", resolved),
		zap.Int("hash", m.IdentityHash()))
	return m, nil
}

// prune releases cache entries of disposed contexts.
func (l *Loader) prune() {
	for key, p := range l.cache {
		if !key.ctx.Disposed() {
			continue
		}
		if !key.ctx.Isolate().Disposed() {
			_ = p.Release()
		}
		delete(l.cache, key)
	}
}

func (l *Loader) fail(specifier, referrer string, err error) {
	l.log.Debug("module resolution failed",
		zap.String("specifier", specifier),
		zap.String("referrer", referrer),
		zap.Error(err))
	l.lastErr = err
	l.errs = multierr.Append(l.errs, err)
}

func (l *Loader) takeErrors() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	errs := l.errs
	l.errs = nil
	return errs
}

// entrySpecifier makes a root-relative name resolve as a path rather than
// a package.
func entrySpecifier(name string) string {
	if name == "" || name[0] == '/' || name[0] == '.' {
		return name
	}
	return "./" + name
}
