// Package wasmbridge embeds WebAssembly modules in a Go host that speaks in
// dynamic values.
//
// The host side works with value.Variant: nil, bool, int, float, string,
// byte and numeric arrays, generic arrays and opaque objects. The bridge
// converts them to and from wasm's numeric types and externref, binds host
// callbacks as imports, and exposes guest linear memory.
//
// # Packages
//
//	wasmbridge/          Memory interfaces shared by the accessors
//	├── value/           Variant model and wasm value marshaling
//	├── config/          Instance configuration map parsing
//	├── engine/          Module compiler and content-addressed cache
//	├── wasm/            Binary reader/writer, limit patching, epoch instrumentation
//	├── host/            Host function descriptors and import binding
//	├── runtime/         Instances: calls, epoch governor, objects, stdio
//	├── memory/          Bounds-checked linear memory accessor
//	├── resource/        Object registry and externref heap
//	├── wasi/            WASI preview1 with host-controlled stdio
//	├── pool/            Worker pool and per-instance call queues
//	├── errors/          Structured errors with phase and kind
//	└── cmd/wasmbridge/  Command line front end
//
// # Quick Start
//
//	eng, err := engine.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	mod, err := eng.Compile(ctx, engine.Text(src), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	rt := runtime.New(eng)
//	inst, err := rt.InstantiateMap(ctx, mod, imports, map[string]any{
//	    "epoch.enable":  true,
//	    "epoch.timeout": 2,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close(ctx)
//
//	sum, err := inst.CallWasm(ctx, "add", value.Int(2), value.Int(3))
//
// # Thread Safety
//
// Engine and compiled modules are safe for concurrent use. An Instance runs
// one call chain at a time; use pool.Queue to serialize calls from several
// goroutines.
package wasmbridge
