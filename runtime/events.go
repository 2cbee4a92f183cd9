package runtime

// Events are the notifications an instance raises. Every callback runs on
// the goroutine that caused it, usually inside CallWasm. Nil callbacks are
// skipped.
type Events struct {
	// ErrorHappened receives a readable message for every failed call,
	// trap or initialization error.
	ErrorHappened func(msg string)
	// StdoutEmit and StderrEmit receive output chunks of streams bound to
	// the instance.
	StdoutEmit func(chunk string)
	StderrEmit func(chunk string)
	// StdinRequest fires when the guest reads an empty instance-bound stdin.
	StdinRequest func()
}

func (e Events) errorHappened(msg string) {
	if e.ErrorHappened != nil {
		e.ErrorHappened(msg)
	}
}
