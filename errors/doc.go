// Package errors provides structured error types for the bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the value path, the expected and actual kinds, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseMarshal, errors.KindTypeMismatch).
//		Path("args", "0").
//		Expected("i32").
//		Actual("string").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.TypeMismatch(path, "i32", "string")
//	err := errors.OutOfBounds(ptr, 16, memSize)
//
// Sentinels such as ErrTimeout compare by Phase and Kind, so
// errors.Is(err, errors.ErrTimeout) holds for any call timeout.
package errors
