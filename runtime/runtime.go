package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/config"
	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/host"
	"github.com/wippyai/wasm-bridge/resource"
	"github.com/wippyai/wasm-bridge/value"
	"github.com/wippyai/wasm-bridge/wasi"
	"github.com/wippyai/wasm-bridge/wasm"
)

// maxPages is the page count of a full 32-bit memory.
const maxPages = 65536

// Runtime creates instances of modules compiled by one Engine.
type Runtime struct {
	engine *engine.Engine
	clock  clock.Clock
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClock sets the clock the epoch deadline is measured on.
func WithClock(c clock.Clock) Option {
	return func(r *Runtime) { r.clock = c }
}

// New creates a Runtime over eng.
func New(eng *engine.Engine, opts ...Option) *Runtime {
	r := &Runtime{engine: eng, clock: clock.New()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Engine returns the engine instances are compiled with.
func (rt *Runtime) Engine() *engine.Engine { return rt.engine }

type instanceOptions struct {
	events Events
	v128   value.V128Encoding
}

// InstanceOption configures a single instance.
type InstanceOption func(*instanceOptions)

// WithEvents installs notification callbacks.
func WithEvents(e Events) InstanceOption {
	return func(o *instanceOptions) { o.events = e }
}

// WithV128Encoding selects how v128 results are returned.
func WithV128Encoding(enc value.V128Encoding) InstanceOption {
	return func(o *instanceOptions) { o.v128 = enc }
}

// InstantiateMap parses raw with config.Parse and calls Instantiate.
func (rt *Runtime) InstantiateMap(ctx context.Context, m *engine.Module, imports map[string]host.Descriptor, raw map[string]any, opts ...InstanceOption) (*Instance, error) {
	cfg, err := config.Parse(raw)
	if err != nil {
		return nil, err
	}
	return rt.Instantiate(ctx, m, imports, cfg, opts...)
}

// Instantiate builds a ready instance of m. imports binds the functions m
// and its dependencies import from the host namespace. On failure nothing
// is left allocated and no instance is returned.
func (rt *Runtime) Instantiate(ctx context.Context, m *engine.Module, imports map[string]host.Descriptor, cfg config.Config, opts ...InstanceOption) (inst *Instance, err error) {
	if m == nil {
		return nil, errors.InvalidInput(errors.PhaseInstantiate, "nil module")
	}
	var o instanceOptions
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.NewString()
	ctx, span := engine.StartSpan(ctx, "runtime.Instantiate", trace.WithAttributes(
		attribute.String("wasm.module", m.ID()),
		attribute.String("wasm.instance", id)))
	defer span.End()
	defer func() {
		if err != nil {
			o.events.errorHappened(message(err))
		}
		engine.RecordError(span, err)
	}()

	i := &Instance{
		id:       id,
		module:   m,
		cfg:      cfg,
		events:   o.events,
		frames:   &host.Frames{},
		registry: resource.NewRegistry(),
		externs:  resource.NewExterns(),
		memName:  cfg.Memory.ExportName,
		governor: newGovernor(rt.clock, cfg.Epoch),
	}
	if i.memName == "" {
		i.memName = config.DefaultMemoryExport
	}
	i.marshaler = value.Marshaler{Refs: i.externs, V128: o.v128}
	if limit, ok := cfg.MemoryBudget(); ok {
		i.budget = newMemoryBudget(limit)
	}

	rc := rt.engine.RuntimeConfig()
	if pages, ok := cfg.MemoryPageCap(); ok && pages > 0 {
		rc = rc.WithMemoryLimitPages(uint32(min(pages, maxPages)))
	}
	i.runtime = wazero.NewRuntimeWithConfig(ctx, rc)
	defer func() {
		if err != nil {
			_ = i.Close(context.WithoutCancel(ctx))
		}
	}()

	nodes := linkOrder(m, id)
	if err := i.bindCapabilities(ctx, nodes, imports); err != nil {
		return nil, err
	}
	mc, err := i.moduleConfig()
	if err != nil {
		return nil, err
	}

	if i.governor != nil {
		if err := i.governor.instantiate(ctx, i.runtime); err != nil {
			return nil, err
		}
	}
	for _, n := range nodes {
		mod, err := i.instantiate(ctx, n, mc)
		if err != nil {
			return nil, err
		}
		if n.mod == m {
			i.main = mod
		}
	}

	Logger().Debug("instance ready",
		zap.String("instance", id),
		zap.String("module", m.ID()[:12]),
		zap.Int("modules", len(nodes)),
		zap.Bool("epoch", i.governor != nil))
	return i, nil
}

type node struct {
	name string
	mod  *engine.Module
}

// linkOrder lists m and its dependencies, dependencies first. A name
// reached twice is instantiated once.
func linkOrder(m *engine.Module, mainName string) []node {
	var (
		out  []node
		seen = make(map[string]bool)
	)
	var walk func(deps map[string]*engine.Module)
	walk = func(deps map[string]*engine.Module) {
		names := lo.Keys(deps)
		sort.Strings(names)
		for _, name := range names {
			if seen[name] {
				continue
			}
			seen[name] = true
			walk(deps[name].Dependencies())
			out = append(out, node{name: name, mod: deps[name]})
		}
	}
	walk(m.Dependencies())
	return append(out, node{name: mainName, mod: m})
}

// bindCapabilities instantiates the host modules the linked modules
// import: caller functions, WASI and the object namespaces.
func (i *Instance) bindCapabilities(ctx context.Context, nodes []node, imports map[string]host.Descriptor) error {
	required := lo.FlatMap(nodes, func(n node, _ int) []wasm.FuncImport { return n.mod.HostImports() })
	byNamespace := lo.GroupBy(required, func(imp wasm.FuncImport) string { return imp.Module })
	namespaces := lo.Keys(byNamespace)
	sort.Strings(namespaces)

	binder := &host.Binder{
		Marshaler: i.marshaler,
		Frames:    i.frames,
		AfterCall: i.hostReturned,
	}
	for _, ns := range namespaces {
		switch ns {
		case engine.HostNamespace, engine.WASIPreview1, engine.WASIUnstable,
			engine.ObjectV1Namespace, engine.ObjectV2Namespace:
		case engine.WASIPreview0:
			return errors.MissingCapability(ns + " is reserved but not served; link against " + engine.WASIPreview1)
		default:
			imp := byNamespace[ns][0]
			return errors.UnresolvedImport(imp.Module, imp.Name, "no module or capability provides this namespace")
		}
	}

	if len(imports) > 0 || len(byNamespace[engine.HostNamespace]) > 0 {
		if _, err := binder.Bind(ctx, i.runtime, engine.HostNamespace, required, imports); err != nil {
			return err
		}
	}

	wasiNS := lo.Filter(namespaces, func(ns string, _ int) bool {
		return ns == engine.WASIPreview1 || ns == engine.WASIUnstable
	})
	if len(wasiNS) > 0 {
		if !i.cfg.WASI.Enable {
			return errors.MissingCapability(fmt.Sprintf("module imports %s but wasi is not enabled", wasiNS[0]))
		}
		if _, err := wasi.Instantiate(ctx, i.runtime, wasiNS); err != nil {
			return err
		}
	}

	return i.bindObjects(ctx, binder, required, byNamespace)
}

// moduleConfig is shared by every module of the instance so that WASI
// calls from dependencies reach the same streams.
func (i *Instance) moduleConfig() (wazero.ModuleConfig, error) {
	mc := wazero.NewModuleConfig().WithStartFunctions()
	if !i.cfg.WASI.Enable {
		return mc, nil
	}
	var wctx *wasi.Context
	if i.cfg.WASI.Context != nil {
		c, ok := i.cfg.WASI.Context.(*wasi.Context)
		if !ok {
			return nil, errors.InvalidConfig("wasi.context", fmt.Errorf("expected *wasi.Context, got %T", i.cfg.WASI.Context))
		}
		wctx = c
	}
	mc, stdio, err := wasi.Configure(mc, i.cfg.WASI, wctx, wasi.Sinks{
		Stdout:       i.events.StdoutEmit,
		Stderr:       i.events.StderrEmit,
		StdinRequest: i.events.StdinRequest,
	})
	if err != nil {
		return nil, err
	}
	i.stdio = stdio
	return mc, nil
}

// instantiate compiles one module with instrumentation and limits applied
// and runs its start function.
func (i *Instance) instantiate(ctx context.Context, n node, mc wazero.ModuleConfig) (api.Module, error) {
	bin, err := i.prepare(n.mod)
	if err != nil {
		return nil, err
	}
	compiled, err := i.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.Instantiation("compile "+n.name, err)
	}

	i.depth++
	defer func() { i.depth-- }()
	if i.governor != nil {
		i.governor.reset()
	}
	ictx := withInstance(ctx, i)
	if i.budget != nil {
		ictx = experimental.WithMemoryAllocator(ictx, i.budget)
	}
	mod, err := i.runtime.InstantiateModule(ictx, compiled, mc.WithName(n.name))
	if err == nil && i.budget != nil {
		if over := i.budget.takeOverdraft(); over > 0 {
			_ = mod.Close(ctx)
			return nil, errors.ResourceLimit("memories of "+n.name, i.budget.limit+over, i.budget.limit)
		}
	}
	if err != nil {
		if n.mod.Start() {
			return nil, errors.New(errors.PhaseInstantiate, errors.KindInstantiation).
				Path(n.name).
				Detail("start function failed").
				Cause(err).
				Build()
		}
		return nil, errors.Instantiation("instantiate "+n.name, err)
	}
	return mod, nil
}

// prepare applies epoch instrumentation and resource caps to the binary.
func (i *Instance) prepare(m *engine.Module) ([]byte, error) {
	bin := m.Binary()
	if i.governor != nil {
		instr, err := m.Instrumented()
		if err != nil {
			return nil, errors.Instantiation("epoch timeout requested for a module that cannot be preempted", err)
		}
		bin = instr.Binary
	}

	var caps wasm.LimitCaps
	caps.MemoryPages, caps.HasMemoryPages = i.cfg.MemoryPageCap()
	caps.TableEntries, caps.HasTableCap = i.cfg.TableEntryCap()
	patched, err := wasm.PatchLimits(bin, caps)
	if err != nil {
		var le *wasm.LimitError
		if stderrors.As(err, &le) {
			return nil, errors.ResourceLimit(fmt.Sprintf("%s %d", le.Kind, le.Index), le.Declared, le.Limit)
		}
		return nil, errors.Instantiation("apply resource limits", err)
	}
	return patched, nil
}
