// Package wasm reads, inspects and rewrites WebAssembly core module binaries.
//
// The package works at section granularity. Sections the bridge never needs
// to look inside are carried through as raw payloads, so a parse followed by
// an encode reproduces the input byte for byte.
//
// # Inspection
//
//	m, err := wasm.Parse(bin)
//	for _, exp := range m.FuncExports() {
//	    fmt.Println(exp.Name, exp.Type)
//	}
//
// # Rewriting
//
// Instrument injects a cooperative deadline check at every function entry and
// loop header. The check is an imported host function reached through a
// countdown global, so guest code only leaves the sandbox once per interval:
//
//	out, err := wasm.Instrument(bin, wasm.InstrumentOptions{
//	    Module: "wasm_bridge", Name: "epoch", Interval: 10000,
//	})
//
// PatchLimits clamps declared memory and table maxima to configured caps.
//
// # Custom sections
//
// CustomSections extracts every custom section payload keyed by name. It
// never panics on malformed input.
package wasm
