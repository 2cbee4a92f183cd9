// Package resource holds per-instance tables of host values that guest
// code refers to by number.
//
// # Object Registry
//
// The Registry maps small integer ids to Variants for the index-based
// object namespace. Id 0 always means nil:
//
//	reg := resource.NewRegistry()
//	id := reg.Register(value.String("hello")) // 1
//	v := reg.GetOrNil(id)
//	reg.Unregister(id)                        // id 1 may be handed out again
//
// Ids are scoped to one instance. Passing an id to another instance's
// registry resolves whatever that registry holds under the same number.
//
// # Extern Heap
//
// Externs backs externref values. Handles are 64-bit, never reused, and
// stay valid until released or the owning instance closes.
//
// # Observers
//
// Registry changes can be observed, e.g. for debug logging:
//
//	reg.Subscribe(resource.ObserverFunc(func(e resource.Event) {
//	    log.Printf("%s %d", e.Type, e.ID)
//	}))
package resource
