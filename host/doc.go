// Package host binds host callables to module imports.
//
// A Descriptor declares the parameter and result types of one import and
// the Callable that serves it. Binder.Bind checks every descriptor against
// the signature the module declares and fails with a signature mismatch
// when arity or any slot kind differs. Nothing is padded or truncated at
// bind time.
//
// # Trampolines
//
// Each bound import runs through a trampoline that lifts the arguments,
// calls the Callable, and lowers its return value. A Callable returns a
// single Variant:
//
//	no results     the value is ignored
//	one result     the value, or the first element of an array
//	many results   an array with at least that many elements
//
// A shorter array traps with "Array too short".
//
// # Error signalling
//
// A Callable may ask for its guest caller to trap by calling Frames.Signal,
// and may withdraw the request with Frames.Cancel. The request lives in a
// slot pushed for that host call only. Nested calls back into the guest
// push their own slots, so a signal raised deeper in the chain is drained
// by the trampoline that owns it.
package host
