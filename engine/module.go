package engine

import (
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"

	"github.com/wippyai/wasm-bridge/wasm"
)

// Deadline check import injected by instrumentation.
const (
	EpochModule   = "wasm_bridge"
	EpochFunc     = "epoch"
	EpochInterval = 1024
)

// Resources summarizes the memories and tables a module defines.
// Imported memories and tables are accounted to the module that defines them.
type Resources struct {
	Memories     int
	InitialPages uint64
	// MaxPages is meaningful only when PagesBounded is set.
	MaxPages     uint64
	PagesBounded bool

	Tables         int
	InitialEntries uint64
	// MaxEntries is meaningful only when EntriesBounded is set.
	MaxEntries     uint64
	EntriesBounded bool
}

func summarize(m *wasm.Module) Resources {
	r := Resources{PagesBounded: true, EntriesBounded: true}
	for _, l := range m.Memories {
		r.Memories++
		r.InitialPages += l.Min
		r.MaxPages += l.Max
		r.PagesBounded = r.PagesBounded && l.HasMax
	}
	for _, t := range m.Tables {
		r.Tables++
		r.InitialEntries += t.Limits.Min
		r.MaxEntries += t.Limits.Max
		r.EntriesBounded = r.EntriesBounded && t.Limits.HasMax
	}
	return r
}

// Add returns the combined requirements of r and o.
func (r Resources) Add(o Resources) Resources {
	return Resources{
		Memories:       r.Memories + o.Memories,
		InitialPages:   r.InitialPages + o.InitialPages,
		MaxPages:       r.MaxPages + o.MaxPages,
		PagesBounded:   r.PagesBounded && o.PagesBounded,
		Tables:         r.Tables + o.Tables,
		InitialEntries: r.InitialEntries + o.InitialEntries,
		MaxEntries:     r.MaxEntries + o.MaxEntries,
		EntriesBounded: r.EntriesBounded && o.EntriesBounded,
	}
}

// artifact is the validated, import-independent part of a module. Modules
// compiled from identical bytes share one artifact.
type artifact struct {
	id       string
	binary   []byte
	parsed   *wasm.Module
	exports  []wasm.FuncExport
	byName   map[string]wasm.FuncType
	imports  []wasm.FuncImport
	own      Resources
	trusted  bool
	compiled wazero.CompiledModule

	instrOnce sync.Once
	instr     *wasm.Instrumented
	instrErr  error
}

func newArtifact(id string, bin []byte, parsed *wasm.Module) *artifact {
	a := &artifact{
		id:      id,
		binary:  bin,
		parsed:  parsed,
		exports: parsed.FuncExports(),
		imports: parsed.FuncImports(),
		own:     summarize(parsed),
	}
	a.byName = make(map[string]wasm.FuncType, len(a.exports))
	for _, e := range a.exports {
		a.byName[e.Name] = e.Type
	}
	return a
}

// Module is an immutable compiled module. It is safe to share between
// goroutines and between instances.
type Module struct {
	art         *artifact
	deps        map[string]*Module
	hostImports []wasm.FuncImport
	transitive  Resources
}

// ID is the hex SHA-256 of the module binary.
func (m *Module) ID() string { return m.art.id }

// Binary returns the module bytes. Callers must not modify them.
func (m *Module) Binary() []byte { return m.art.binary }

// Parsed returns the decoded section view. Callers must not modify it.
func (m *Module) Parsed() *wasm.Module { return m.art.parsed }

// IsCoreModule reports whether m is a core module. Components are not
// supported, so it is always true.
func (m *Module) IsCoreModule() bool { return true }

// IsComponent always returns false.
func (m *Module) IsComponent() bool { return false }

// Trusted reports whether m was loaded from a precompiled artifact and
// skipped validation.
func (m *Module) Trusted() bool { return m.art.trusted }

// Exports returns the export signature table in declaration order.
func (m *Module) Exports() []wasm.FuncExport { return m.art.exports }

// Export returns the signature of the named function export.
func (m *Module) Export(name string) (wasm.FuncType, bool) {
	t, ok := m.art.byName[name]
	return t, ok
}

// ExportNames returns the function export names sorted.
func (m *Module) ExportNames() []string {
	names := make([]string, 0, len(m.art.byName))
	for n := range m.art.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Imports returns every function import with its signature.
func (m *Module) Imports() []wasm.FuncImport { return m.art.imports }

// HostImports returns the function imports not satisfied by the modules
// given to Compile. These must come from the host at instantiation.
func (m *Module) HostImports() []wasm.FuncImport { return m.hostImports }

// Dependencies returns the modules this one was linked against, keyed by
// import module name.
func (m *Module) Dependencies() map[string]*Module {
	out := make(map[string]*Module, len(m.deps))
	for k, v := range m.deps {
		out[k] = v
	}
	return out
}

// Resources returns the requirements of this module alone.
func (m *Module) Resources() Resources { return m.art.own }

// TransitiveResources returns the requirements of this module plus every
// module it imports, each import name counted once.
func (m *Module) TransitiveResources() Resources { return m.transitive }

// Start reports whether the module declares a start function.
func (m *Module) Start() bool { return m.art.parsed.Start != nil }

// HasMemoryExport reports whether the module exports a memory by name.
func (m *Module) HasMemoryExport(name string) bool {
	k, ok := m.art.parsed.ExportKind(name)
	return ok && k == wasm.ExternMemory
}

// CustomSections returns the module's custom sections keyed by name.
func (m *Module) CustomSections() (map[string][][]byte, error) {
	return wasm.CustomSections(m.art.binary)
}

// Instrumented returns the module rewritten with deadline checks. The
// rewrite runs once per module bytes. An error wrapping
// wasm.ErrUnsupported means the module cannot be preempted.
func (m *Module) Instrumented() (*wasm.Instrumented, error) {
	a := m.art
	a.instrOnce.Do(func() {
		a.instr, a.instrErr = wasm.Instrument(a.binary, wasm.InstrumentOptions{
			Module:   EpochModule,
			Name:     EpochFunc,
			Interval: EpochInterval,
		})
	})
	return a.instr, a.instrErr
}

// Preemptible reports whether deadline checks can be injected.
func (m *Module) Preemptible() bool {
	_, err := m.Instrumented()
	return err == nil
}

func transitive(own Resources, deps map[string]*Module) Resources {
	seen := make(map[string]bool)
	total := own
	var walk func(map[string]*Module)
	walk = func(ds map[string]*Module) {
		for name, d := range ds {
			if seen[name] {
				continue
			}
			seen[name] = true
			total = total.Add(d.art.own)
			walk(d.deps)
		}
	}
	walk(deps)
	return total
}
