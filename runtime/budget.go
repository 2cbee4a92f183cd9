package runtime

import (
	"sync"

	"github.com/tetratelabs/wazero/experimental"
)

// memoryBudget bounds the bytes every linear memory of one instance may
// allocate, dependencies included. Initial sizes and each memory.grow draw
// from the same budget; nothing is returned when a memory is freed.
type memoryBudget struct {
	mu        sync.Mutex
	limit     uint64
	remaining uint64
	// overdraft is the shortfall of initial allocations, which cannot be
	// refused once the module is being instantiated.
	overdraft uint64
}

func newMemoryBudget(limit uint64) *memoryBudget {
	return &memoryBudget{limit: limit, remaining: limit}
}

// Allocate implements experimental.MemoryAllocator.
func (b *memoryBudget) Allocate(capacity, _ uint64) experimental.LinearMemory {
	return &budgetedMemory{budget: b, buf: make([]byte, 0, capacity)}
}

func (b *memoryBudget) charge(delta uint64, initial bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if delta <= b.remaining {
		b.remaining -= delta
		return true
	}
	if initial {
		b.overdraft += delta - b.remaining
		b.remaining = 0
		return true
	}
	return false
}

// Remaining returns the unspent bytes.
func (b *memoryBudget) Remaining() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// takeOverdraft reports and clears the shortfall left by initial
// allocations.
func (b *memoryBudget) takeOverdraft() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := b.overdraft
	b.overdraft = 0
	return o
}

type budgetedMemory struct {
	budget    *memoryBudget
	buf       []byte
	allocated bool
}

// Reallocate grows the buffer to size bytes, or returns nil when the growth
// does not fit the budget. wazero asks for the declared minimum first.
func (m *budgetedMemory) Reallocate(size uint64) []byte {
	initial := !m.allocated
	m.allocated = true
	cur := uint64(len(m.buf))
	if size <= cur {
		return m.buf[:size]
	}
	if !m.budget.charge(size-cur, initial) {
		return nil
	}
	if size <= uint64(cap(m.buf)) {
		m.buf = m.buf[:size]
	} else {
		m.buf = append(m.buf, make([]byte, size-cur)...)
	}
	return m.buf
}

func (m *budgetedMemory) Free() {
	m.buf = nil
}
