// Package memory provides bounds-checked access to a guest's linear memory.
//
// Every access validates [ptr, ptr+len) against the current memory size
// using 64-bit arithmetic, so a wrapping pointer sum is reported as an
// out-of-bounds error rather than touching memory:
//
//	acc := memory.New(mod.ExportedMemory("memory"))
//	v, err := acc.ReadU32(ptr)
//	if errors.Is(err, errors.ErrMemoryAccess) { ... }
//
// Besides raw bytes and little-endian scalars it offers bulk arrays and a
// packed struct mini-format (see ParseFormat) for reading guest structs
// without per-field calls:
//
//	vals, err := acc.ReadStruct("ii3xv2f", ptr)
package memory
