package host

// Frames is the stack of error slots for host calls in flight on one
// instance. Each trampoline pushes a slot on entry and drains it on exit,
// so a signal raised during a nested call never reaches an outer frame.
//
// Frames belongs to a single call chain and is not safe for concurrent use.
type Frames struct {
	slots []slot
}

type slot struct {
	msg string
	set bool
}

// Depth returns the number of host calls in flight.
func (f *Frames) Depth() int { return len(f.slots) }

// Signal asks the innermost host call to trap with msg when it returns.
// It returns the message it replaced, if any. Outside a host call it does
// nothing and reports false.
func (f *Frames) Signal(msg string) (prev string, ok bool) {
	if len(f.slots) == 0 {
		return "", false
	}
	top := &f.slots[len(f.slots)-1]
	prev = top.msg
	top.msg, top.set = msg, true
	return prev, true
}

// Cancel withdraws a pending signal of the innermost host call.
func (f *Frames) Cancel() bool {
	if len(f.slots) == 0 {
		return false
	}
	top := &f.slots[len(f.slots)-1]
	had := top.set
	*top = slot{}
	return had
}

// Pending reports the innermost frame's signal.
func (f *Frames) Pending() (string, bool) {
	if len(f.slots) == 0 {
		return "", false
	}
	top := f.slots[len(f.slots)-1]
	return top.msg, top.set
}

func (f *Frames) push() {
	f.slots = append(f.slots, slot{})
}

func (f *Frames) pop() (string, bool) {
	top := f.slots[len(f.slots)-1]
	f.slots = f.slots[:len(f.slots)-1]
	return top.msg, top.set
}
