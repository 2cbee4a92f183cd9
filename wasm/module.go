package wasm

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrUnsupported is returned for encodings outside the feature set the
// rewriter understands (GC types, exception handling, typed function tables).
var ErrUnsupported = errors.New("unsupported encoding")

// Module is a section-level view of a core module binary.
type Module struct {
	Sections []Section

	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // type index of each defined function
	Tables   []TableType
	Memories []Limits
	Globals  []GlobalType
	Exports  []Export
	Start    *uint32

	NumImportedFuncs    uint32
	NumImportedTables   uint32
	NumImportedMemories uint32
	NumImportedGlobals  uint32
}

// Parse decodes the module preamble and the sections that carry interface
// information. Code, data and element payloads stay raw.
func Parse(bin []byte) (*Module, error) {
	if len(bin) < len(Magic) || !bytes.Equal(bin[:4], Magic[:4]) {
		return nil, errors.New("missing wasm magic header")
	}
	if !bytes.Equal(bin[4:8], Magic[4:8]) {
		return nil, fmt.Errorf("unsupported binary version %x", bin[4:8])
	}

	m := &Module{}
	r := newReader(bin[len(Magic):])
	lastOrder := 0
	for r.len() > 0 {
		id, err := r.byte()
		if err != nil {
			return nil, err
		}
		size, err := r.u32()
		if err != nil {
			return nil, fmt.Errorf("section %d size: %w", id, err)
		}
		payload, err := r.bytes(int(size))
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", id, err)
		}

		sec := Section{ID: id, Data: payload}
		if id == SectionCustom {
			pr := newReader(payload)
			name, err := pr.name()
			if err != nil {
				return nil, fmt.Errorf("custom section name: %w", err)
			}
			sec.Name = name
			sec.Data = payload[pr.pos:]
		} else {
			order := sectionOrder(id)
			if order == 100 {
				return nil, fmt.Errorf("unknown section id %d", id)
			}
			if order <= lastOrder {
				return nil, fmt.Errorf("section %d out of order", id)
			}
			lastOrder = order
			if err := m.decodeSection(id, payload); err != nil {
				return nil, fmt.Errorf("section %d: %w", id, err)
			}
		}
		m.Sections = append(m.Sections, sec)
	}

	if len(m.Funcs) > 0 && m.Section(SectionCode) == nil {
		return nil, errors.New("function section without code section")
	}
	return m, nil
}

// sectionOrder returns the canonical ordering for a section ID.
// The spec requires sections in an order that differs from their IDs.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionTag:
		return 6
	case SectionGlobal:
		return 7
	case SectionExport:
		return 8
	case SectionStart:
		return 9
	case SectionElement:
		return 10
	case SectionDataCount:
		return 11
	case SectionCode:
		return 12
	case SectionData:
		return 13
	default:
		return 100
	}
}

func (m *Module) decodeSection(id byte, payload []byte) error {
	r := newReader(payload)
	var err error
	switch id {
	case SectionType:
		err = m.decodeTypes(r)
	case SectionImport:
		err = m.decodeImports(r)
	case SectionFunction:
		err = vec(r, func() error {
			idx, err := r.u32()
			m.Funcs = append(m.Funcs, idx)
			return err
		})
	case SectionTable:
		err = vec(r, func() error {
			t, err := readTableType(r)
			m.Tables = append(m.Tables, t)
			return err
		})
	case SectionMemory:
		err = vec(r, func() error {
			l, err := readLimits(r)
			m.Memories = append(m.Memories, l)
			return err
		})
	case SectionGlobal:
		err = vec(r, func() error {
			g, err := readGlobalType(r)
			if err != nil {
				return err
			}
			m.Globals = append(m.Globals, g)
			return skipConstExpr(r)
		})
	case SectionExport:
		err = vec(r, func() error {
			name, err := r.name()
			if err != nil {
				return err
			}
			kind, err := r.byte()
			if err != nil {
				return err
			}
			idx, err := r.u32()
			m.Exports = append(m.Exports, Export{Name: name, Kind: ExternKind(kind), Index: idx})
			return err
		})
	case SectionStart:
		idx, serr := r.u32()
		if serr != nil {
			return serr
		}
		m.Start = &idx
	default:
		return nil
	}
	if err != nil {
		return err
	}
	if r.len() != 0 {
		return fmt.Errorf("%d trailing bytes", r.len())
	}
	return nil
}

func (m *Module) decodeTypes(r *reader) error {
	return vec(r, func() error {
		form, err := r.byte()
		if err != nil {
			return err
		}
		if form != 0x60 {
			return fmt.Errorf("%w: type form 0x%02x", ErrUnsupported, form)
		}
		var ft FuncType
		if ft.Params, err = readValTypes(r); err != nil {
			return err
		}
		if ft.Results, err = readValTypes(r); err != nil {
			return err
		}
		m.Types = append(m.Types, ft)
		return nil
	})
}

func (m *Module) decodeImports(r *reader) error {
	return vec(r, func() error {
		var imp Import
		var err error
		if imp.Module, err = r.name(); err != nil {
			return err
		}
		if imp.Name, err = r.name(); err != nil {
			return err
		}
		kind, err := r.byte()
		if err != nil {
			return err
		}
		imp.Kind = ExternKind(kind)
		switch imp.Kind {
		case ExternFunc:
			imp.TypeIdx, err = r.u32()
			m.NumImportedFuncs++
		case ExternTable:
			imp.Table, err = readTableType(r)
			m.NumImportedTables++
		case ExternMemory:
			imp.Memory, err = readLimits(r)
			m.NumImportedMemories++
		case ExternGlobal:
			imp.Global, err = readGlobalType(r)
			m.NumImportedGlobals++
		case ExternTag:
			if _, err = r.byte(); err == nil {
				imp.TypeIdx, err = r.u32()
			}
		default:
			return fmt.Errorf("import kind 0x%02x", kind)
		}
		m.Imports = append(m.Imports, imp)
		return err
	})
}

func vec(r *reader, each func() error) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		if err := each(); err != nil {
			return err
		}
	}
	return nil
}

func readValType(r *reader) (ValType, error) {
	b, err := r.byte()
	if err != nil {
		return 0, err
	}
	switch ValType(b) {
	case ValI32, ValI64, ValF32, ValF64, ValV128, ValFuncRef, ValExternRef:
		return ValType(b), nil
	}
	return 0, fmt.Errorf("%w: value type 0x%02x", ErrUnsupported, b)
}

func readValTypes(r *reader) ([]ValType, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if int(n) > r.len() {
		return nil, ErrTruncated
	}
	if n == 0 {
		return nil, nil
	}
	ts := make([]ValType, n)
	for i := range ts {
		if ts[i], err = readValType(r); err != nil {
			return nil, err
		}
	}
	return ts, nil
}

func readLimits(r *reader) (Limits, error) {
	flags, err := r.byte()
	if err != nil {
		return Limits{}, err
	}
	if flags > 0x07 {
		return Limits{}, fmt.Errorf("limits flags 0x%02x", flags)
	}
	l := Limits{
		HasMax: flags&0x01 != 0,
		Shared: flags&0x02 != 0,
		Is64:   flags&0x04 != 0,
	}
	if l.Min, err = r.u64(); err != nil {
		return Limits{}, err
	}
	if l.HasMax {
		if l.Max, err = r.u64(); err != nil {
			return Limits{}, err
		}
		if l.Min > l.Max {
			return Limits{}, fmt.Errorf("limits min (%d) exceeds max (%d)", l.Min, l.Max)
		}
	}
	return l, nil
}

func appendLimits(dst []byte, l Limits) []byte {
	var flags byte
	if l.HasMax {
		flags |= 0x01
	}
	if l.Shared {
		flags |= 0x02
	}
	if l.Is64 {
		flags |= 0x04
	}
	dst = append(dst, flags)
	dst = AppendUleb128(dst, l.Min)
	if l.HasMax {
		dst = AppendUleb128(dst, l.Max)
	}
	return dst
}

func readTableType(r *reader) (TableType, error) {
	b, err := r.peek()
	if err != nil {
		return TableType{}, err
	}
	if b == 0x40 {
		return TableType{}, fmt.Errorf("%w: table with initializer", ErrUnsupported)
	}
	elem, err := readValType(r)
	if err != nil {
		return TableType{}, err
	}
	l, err := readLimits(r)
	return TableType{Elem: elem, Limits: l}, err
}

func readGlobalType(r *reader) (GlobalType, error) {
	t, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.byte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("global mutability 0x%02x", mut)
	}
	return GlobalType{Type: t, Mutable: mut == 1}, nil
}

// Section returns the first non-custom section with the given ID, or nil.
func (m *Module) Section(id byte) *Section {
	for i := range m.Sections {
		if m.Sections[i].ID == id && id != SectionCustom {
			return &m.Sections[i]
		}
	}
	return nil
}

// FuncType returns the signature of a function by index across imports and definitions.
func (m *Module) FuncType(idx uint32) (FuncType, bool) {
	var typeIdx uint32
	if idx < m.NumImportedFuncs {
		n := uint32(0)
		for _, imp := range m.Imports {
			if imp.Kind != ExternFunc {
				continue
			}
			if n == idx {
				typeIdx = imp.TypeIdx
				break
			}
			n++
		}
	} else {
		def := idx - m.NumImportedFuncs
		if int(def) >= len(m.Funcs) {
			return FuncType{}, false
		}
		typeIdx = m.Funcs[def]
	}
	if int(typeIdx) >= len(m.Types) {
		return FuncType{}, false
	}
	return m.Types[typeIdx], true
}

// FuncImports returns all function imports with their signatures in declaration order.
func (m *Module) FuncImports() []FuncImport {
	var out []FuncImport
	for _, imp := range m.Imports {
		if imp.Kind != ExternFunc || int(imp.TypeIdx) >= len(m.Types) {
			continue
		}
		out = append(out, FuncImport{Module: imp.Module, Name: imp.Name, Type: m.Types[imp.TypeIdx]})
	}
	return out
}

// FuncExports returns all function exports with their signatures in declaration order.
func (m *Module) FuncExports() []FuncExport {
	var out []FuncExport
	for _, exp := range m.Exports {
		if exp.Kind != ExternFunc {
			continue
		}
		ft, ok := m.FuncType(exp.Index)
		if !ok {
			continue
		}
		out = append(out, FuncExport{Name: exp.Name, Type: ft})
	}
	return out
}

// MemoryLimits returns the limits of every memory, imported first.
func (m *Module) MemoryLimits() []Limits {
	var out []Limits
	for _, imp := range m.Imports {
		if imp.Kind == ExternMemory {
			out = append(out, imp.Memory)
		}
	}
	return append(out, m.Memories...)
}

// TableLimits returns the limits of every table, imported first.
func (m *Module) TableLimits() []Limits {
	var out []Limits
	for _, imp := range m.Imports {
		if imp.Kind == ExternTable {
			out = append(out, imp.Table.Limits)
		}
	}
	for _, t := range m.Tables {
		out = append(out, t.Limits)
	}
	return out
}

// ExportKind reports the kind of the named export.
func (m *Module) ExportKind(name string) (ExternKind, bool) {
	for _, exp := range m.Exports {
		if exp.Name == name {
			return exp.Kind, true
		}
	}
	return 0, false
}
