// Package engine compiles core WebAssembly modules into shareable Module
// values.
//
// An Engine owns a wazero compilation cache. Every instance runtime is
// built from Engine.RuntimeConfig so that machine code for a given binary is
// produced once per process, or once per cache directory when WithCacheDir
// is used.
//
// # Sources
//
// Compile accepts four source forms:
//
//	Binary       binary format, validated
//	Text         text format, converted with Wat2Wasm then validated
//	Precompiled  output of Serialize, trusted without validation
//	*Module      pass-through, re-linked when imports are given
//
// Detect picks the form from a byte header.
//
// # Linking
//
// The imports map passed to Compile names modules that satisfy imports ahead
// of instantiation. Each import against a supplied module must name an
// export of the same kind, and function imports must match its signature
// exactly. All failures are reported together. Imports from other
// namespaces are listed by Module.HostImports. The namespaces the bridge
// binds itself (see IsReserved) are rejected as map keys.
//
// # Preemption
//
// Module.Instrumented rewrites a module so that function entries and loop
// headers periodically call wasm_bridge.epoch. Modules using encodings the
// rewriter does not understand, such as GC types or exception handling, are
// not preemptible.
package engine
