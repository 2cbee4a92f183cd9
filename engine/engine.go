package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/bytecodealliance/wasmtime-go/v11"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/wasm"
)

// Import module names bound by the instance itself. They cannot be used as
// keys of a Compile imports map.
const (
	HostNamespace     = "host"
	ObjectV1Namespace = "godot_object_v1"
	ObjectV2Namespace = "godot_object_v2"
	WASIUnstable      = "wasi_unstable"
	WASIPreview0      = "wasi_snapshot_preview0"
	WASIPreview1      = "wasi_snapshot_preview1"
)

var reserved = map[string]bool{
	HostNamespace:     true,
	ObjectV1Namespace: true,
	ObjectV2Namespace: true,
	WASIUnstable:      true,
	WASIPreview0:      true,
	WASIPreview1:      true,
	EpochModule:       true,
}

// IsReserved reports whether name is an import namespace the bridge binds.
func IsReserved(name string) bool { return reserved[name] }

type options struct {
	cacheDir    string
	features    api.CoreFeatures
	interpreter bool
	parallelism int
}

// Option configures an Engine.
type Option func(*options)

// WithCacheDir persists compiled machine code under dir so it survives
// process restarts.
func WithCacheDir(dir string) Option {
	return func(o *options) { o.cacheDir = dir }
}

// WithCoreFeatures overrides the enabled core features. Defaults to
// api.CoreFeaturesV2.
func WithCoreFeatures(f api.CoreFeatures) Option {
	return func(o *options) { o.features = f }
}

// WithInterpreter selects the interpreter instead of the compiler.
func WithInterpreter() Option {
	return func(o *options) { o.interpreter = true }
}

// WithParallelism bounds the number of concurrent compilations in
// CompileAll. Defaults to GOMAXPROCS.
func WithParallelism(n int) Option {
	return func(o *options) { o.parallelism = n }
}

// Engine compiles modules and owns the machine code cache shared by every
// runtime created from RuntimeConfig. It is safe for concurrent use.
type Engine struct {
	cache     wazero.CompilationCache
	config    wazero.RuntimeConfig
	validator wazero.Runtime
	opts      options

	group     singleflight.Group
	mu        sync.RWMutex
	artifacts map[string]*artifact
	closed    bool
}

// New creates an Engine.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	o := options{features: api.CoreFeaturesV2, parallelism: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.parallelism < 1 {
		o.parallelism = 1
	}

	var cache wazero.CompilationCache
	if o.cacheDir != "" {
		c, err := wazero.NewCompilationCacheWithDir(o.cacheDir)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseCompile, errors.KindInvalidInput, err, "open compilation cache")
		}
		cache = c
	} else {
		cache = wazero.NewCompilationCache()
	}

	cfg := wazero.NewRuntimeConfig()
	if o.interpreter {
		cfg = wazero.NewRuntimeConfigInterpreter()
	}
	cfg = cfg.WithCoreFeatures(o.features).WithCompilationCache(cache)

	return &Engine{
		cache:     cache,
		config:    cfg,
		validator: wazero.NewRuntimeWithConfig(ctx, cfg),
		opts:      o,
		artifacts: make(map[string]*artifact),
	}, nil
}

// RuntimeConfig returns the configuration instance runtimes must derive
// from to share the engine's compiled code.
func (e *Engine) RuntimeConfig() wazero.RuntimeConfig { return e.config }

// Compile turns src into a Module. imports maps import module names to
// modules compiled earlier; imports from any other namespace are left for
// the host to satisfy at instantiation and are listed by HostImports.
func (e *Engine) Compile(ctx context.Context, src Source, imports map[string]*Module) (m *Module, err error) {
	if src == nil {
		return nil, errors.InvalidInput(errors.PhaseCompile, "nil source")
	}
	ctx, span := StartSpan(ctx, "engine.Compile",
		trace.WithAttributes(attribute.String("wasm.source", src.SourceKind())))
	defer span.End()
	defer func() { RecordError(span, err) }()

	if err := checkImportNames(imports); err != nil {
		return nil, err
	}

	var art *artifact
	switch s := src.(type) {
	case *Module:
		if len(imports) == 0 {
			return s, nil
		}
		art = s.art
	case Binary:
		art, err = e.load(ctx, s, false)
	case Text:
		bin, werr := wasmtime.Wat2Wasm(string(s))
		if werr != nil {
			return nil, errors.Parse(errors.PhaseCompile, "text module", werr)
		}
		art, err = e.load(ctx, bin, false)
	case Precompiled:
		bin, derr := decodeEnvelope(s)
		if derr != nil {
			return nil, derr
		}
		art, err = e.load(ctx, bin, true)
	default:
		return nil, errors.Unsupported(errors.PhaseCompile, fmt.Sprintf("source %T", src))
	}
	if err != nil {
		return nil, err
	}

	m, err = link(art, imports)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(semconv.CodeNamespace(m.ID()))
	return m, nil
}

// CompileAll compiles independent sources concurrently. Every failure is
// reported; the returned map holds the sources that compiled.
func (e *Engine) CompileAll(ctx context.Context, sources map[string]Source) (map[string]*Module, error) {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		out  = make(map[string]*Module, len(sources))
		errs error
	)
	g.SetLimit(e.opts.parallelism)

	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		name, src := name, sources[name]
		g.Go(func() error {
			m, err := e.Compile(ctx, src, nil)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
				return nil
			}
			out[name] = m
			return nil
		})
	}
	_ = g.Wait()
	return out, errs
}

func checkImportNames(imports map[string]*Module) error {
	names := make([]string, 0, len(imports))
	for name := range imports {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if reserved[name] {
			return errors.ReservedImport(name)
		}
		if imports[name] == nil {
			return errors.InvalidInput(errors.PhaseLink, fmt.Sprintf("import %q is nil", name))
		}
	}
	return nil
}

// load parses and validates bin, memoized by content hash.
func (e *Engine) load(ctx context.Context, bin []byte, trusted bool) (*artifact, error) {
	sum := sha256.Sum256(bin)
	id := hex.EncodeToString(sum[:])

	e.mu.RLock()
	closed := e.closed
	art, ok := e.artifacts[id]
	e.mu.RUnlock()
	if closed {
		return nil, errors.New(errors.PhaseCompile, errors.KindClosed).Detail("engine closed").Build()
	}
	if ok {
		Logger().Debug("module cache hit", zap.String("module", id[:12]))
		return art, nil
	}

	v, err, _ := e.group.Do(id, func() (any, error) {
		e.mu.RLock()
		art, ok := e.artifacts[id]
		e.mu.RUnlock()
		if ok {
			return art, nil
		}

		own := bytes.Clone(bin)
		parsed, err := wasm.Parse(own)
		if err != nil {
			return nil, errors.Parse(errors.PhaseCompile, "module", err)
		}
		art = newArtifact(id, own, parsed)
		art.trusted = trusted
		if !trusted {
			compiled, err := e.validator.CompileModule(ctx, own)
			if err != nil {
				return nil, errors.Validation(err)
			}
			art.compiled = compiled
		}

		e.mu.Lock()
		if !e.closed {
			e.artifacts[id] = art
		}
		e.mu.Unlock()

		Logger().Debug("compiled module",
			zap.String("module", id[:12]),
			zap.Int("exports", len(art.exports)),
			zap.Int("imports", len(art.imports)),
			zap.Bool("trusted", trusted))
		return art, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*artifact), nil
}

// link resolves art's imports against the supplied modules.
func link(art *artifact, imports map[string]*Module) (*Module, error) {
	m := &Module{art: art, deps: make(map[string]*Module)}
	var errs error

	for _, imp := range art.parsed.Imports {
		dep, ok := imports[imp.Module]
		if !ok {
			if imp.Kind == wasm.ExternFunc && int(imp.TypeIdx) < len(art.parsed.Types) {
				m.hostImports = append(m.hostImports, wasm.FuncImport{
					Module: imp.Module,
					Name:   imp.Name,
					Type:   art.parsed.Types[imp.TypeIdx],
				})
			}
			continue
		}
		m.deps[imp.Module] = dep

		kind, ok := dep.art.parsed.ExportKind(imp.Name)
		if !ok {
			errs = multierr.Append(errs, errors.UnresolvedImport(imp.Module, imp.Name,
				fmt.Sprintf("%s %q not exported by module %s", imp.Kind, imp.Name, imp.Module)))
			continue
		}
		if kind != imp.Kind {
			errs = multierr.Append(errs, errors.UnresolvedImport(imp.Module, imp.Name,
				fmt.Sprintf("export is a %s, import expects a %s", kind, imp.Kind)))
			continue
		}
		if kind != wasm.ExternFunc {
			continue
		}
		want := art.parsed.Types[imp.TypeIdx]
		got, _ := dep.Export(imp.Name)
		if !want.Equal(got) {
			errs = multierr.Append(errs, errors.SignatureMismatch(imp.Module, imp.Name, want.String(), got.String()))
		}
	}
	if errs != nil {
		return nil, errs
	}

	m.transitive = transitive(art.own, m.deps)
	return m, nil
}

// Close releases the compiled code. Modules compiled by e must not be
// instantiated afterwards.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.artifacts = nil
	e.mu.Unlock()

	return multierr.Combine(
		e.validator.Close(ctx),
		e.cache.Close(ctx),
	)
}
