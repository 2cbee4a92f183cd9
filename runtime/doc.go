// Package runtime creates and drives instances of compiled modules.
//
// A Runtime wraps an engine.Engine. Instantiate links a module with its
// dependencies and capabilities into an Instance that owns a private wazero
// runtime:
//
//	rt := runtime.New(eng)
//	inst, err := rt.Instantiate(ctx, mod, imports, cfg)
//	if err != nil {
//	    return err
//	}
//	defer inst.Close(ctx)
//
//	v, err := inst.CallWasm(ctx, "update", value.Float(dt))
//
// # Imports
//
// Modules may import from these namespaces:
//
//	host                     functions passed to Instantiate
//	<dependency name>        exports of a module given at compile time
//	wasi_snapshot_preview1   WASI, when wasi.enable is set
//	wasi_unstable            served by the preview1 implementation
//	godot_object_v1          registry-based objects, extern.bindMode compat or extern
//	godot_object_v2          externref objects, extern.bindMode extern
//
// Anything else fails instantiation with errors.ErrUnresolvedImport.
//
// # Host Callbacks
//
// A host callback receives the calling Instance through FromContext. It may
// call back into the instance, raise a guest trap with SignalError or push
// the epoch deadline with ResetEpoch.
//
// # Epoch Deadline
//
// With epoch.enable the module is instrumented to check a deadline
// periodically. The deadline is armed at instantiation and at every
// outermost CallWasm; epoch.useAutoreset also re-arms it after each host
// callback. The deadline is measured on the Runtime's clock, settable with
// WithClock.
//
// # Failures
//
// Every failed call or instantiation is also reported to
// Events.ErrorHappened. Traps and timeouts leave the instance usable. A
// module that exits through proc_exit is exhausted and every later call
// fails with errors.ErrExhausted.
package runtime
