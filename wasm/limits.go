package wasm

import (
	"fmt"
)

// LimitCaps holds optional ceilings for defined memories and tables.
// A zero-valued field with its Has flag unset leaves that kind untouched.
type LimitCaps struct {
	MemoryPages    uint64
	HasMemoryPages bool
	TableEntries   uint64
	HasTableCap    bool
}

// LimitError reports a declared initial size above a cap.
type LimitError struct {
	Kind     string
	Index    int
	Declared uint64
	Limit    uint64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s %d initial size %d exceeds limit %d", e.Kind, e.Index, e.Declared, e.Limit)
}

// PatchLimits rewrites the maximum of every defined memory and table to
// min(declared, cap). Imported memories and tables are bounded by the module
// that defines them. A declared minimum above the cap is a *LimitError.
func PatchLimits(bin []byte, caps LimitCaps) ([]byte, error) {
	if !caps.HasMemoryPages && !caps.HasTableCap {
		return bin, nil
	}
	m, err := Parse(bin)
	if err != nil {
		return nil, err
	}

	if caps.HasMemoryPages && len(m.Memories) > 0 {
		data := AppendUleb128(nil, uint64(len(m.Memories)))
		for i, l := range m.Memories {
			l, err := clamp("memory", i, l, caps.MemoryPages)
			if err != nil {
				return nil, err
			}
			m.Memories[i] = l
			data = appendLimits(data, l)
		}
		m.Sections = setSection(m.Sections, SectionMemory, data)
	}

	if caps.HasTableCap && len(m.Tables) > 0 {
		data := AppendUleb128(nil, uint64(len(m.Tables)))
		for i, t := range m.Tables {
			l, err := clamp("table", i, t.Limits, caps.TableEntries)
			if err != nil {
				return nil, err
			}
			m.Tables[i].Limits = l
			data = append(data, byte(t.Elem))
			data = appendLimits(data, l)
		}
		m.Sections = setSection(m.Sections, SectionTable, data)
	}

	return m.Encode(), nil
}

func clamp(kind string, index int, l Limits, limit uint64) (Limits, error) {
	if l.Min > limit {
		return l, &LimitError{Kind: kind, Index: index, Declared: l.Min, Limit: limit}
	}
	if !l.HasMax || l.Max > limit {
		l.Max = limit
		l.HasMax = true
	}
	return l, nil
}
