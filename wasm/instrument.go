package wasm

import (
	"fmt"
)

// InstrumentOptions configures deadline-check injection.
type InstrumentOptions struct {
	// Module and Name identify the imported check function, typed () -> ().
	Module string
	Name   string
	// Interval is the number of function entries and loop iterations between checks.
	Interval int32
}

// Instrumented describes the result of Instrument.
type Instrumented struct {
	Binary []byte
	// CheckFunc is the function index of the injected import.
	CheckFunc uint32
	// Counter is the global index of the injected countdown.
	Counter uint32
}

// Instrument rewrites bin so that every function entry and every loop header
// decrements a countdown global and calls the imported check function when it
// reaches zero. Defined function indices shift by one to make room for the
// import; all references to them are renumbered. The "name" custom section is
// dropped because its indices would be stale.
func Instrument(bin []byte, opts InstrumentOptions) (*Instrumented, error) {
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("instrument interval must be positive, got %d", opts.Interval)
	}
	m, err := Parse(bin)
	if err != nil {
		return nil, err
	}

	checkFunc := m.NumImportedFuncs
	shift := func(idx uint32) uint32 {
		if idx >= checkFunc {
			return idx + 1
		}
		return idx
	}
	counter := m.NumImportedGlobals + uint32(len(m.Globals))

	typeIdx, err := m.ensureVoidType()
	if err != nil {
		return nil, err
	}
	if err := m.appendFuncImport(opts.Module, opts.Name, typeIdx); err != nil {
		return nil, err
	}
	if err := m.appendCounterGlobal(opts.Interval, shift); err != nil {
		return nil, err
	}
	if err := m.shiftExports(shift); err != nil {
		return nil, err
	}
	if m.Start != nil {
		start := shift(*m.Start)
		m.Sections = setSection(m.Sections, SectionStart, AppendUleb128(nil, uint64(start)))
		m.Start = &start
	}
	if err := m.shiftElements(shift); err != nil {
		return nil, err
	}

	tick := tickSequence(counter, checkFunc, opts.Interval)
	if err := m.instrumentCode(shift, tick); err != nil {
		return nil, err
	}

	kept := m.Sections[:0]
	for _, s := range m.Sections {
		if s.ID == SectionCustom && s.Name == "name" {
			continue
		}
		kept = append(kept, s)
	}
	m.Sections = kept

	return &Instrumented{Binary: m.Encode(), CheckFunc: checkFunc, Counter: counter}, nil
}

// tickSequence is:
//
//	global.get $c; i32.eqz
//	if
//	  i32.const interval; global.set $c; call $check
//	else
//	  global.get $c; i32.const 1; i32.sub; global.set $c
//	end
func tickSequence(counter, check uint32, interval int32) []byte {
	var b []byte
	b = append(b, OpGlobalGet)
	b = AppendUleb128(b, uint64(counter))
	b = append(b, OpI32Eqz, OpIf, BlockTypeEmpty, OpI32Const)
	b = AppendSleb128(b, int64(interval))
	b = append(b, OpGlobalSet)
	b = AppendUleb128(b, uint64(counter))
	b = append(b, OpCall)
	b = AppendUleb128(b, uint64(check))
	b = append(b, OpElse, OpGlobalGet)
	b = AppendUleb128(b, uint64(counter))
	b = append(b, OpI32Const, 0x01, OpI32Sub, OpGlobalSet)
	b = AppendUleb128(b, uint64(counter))
	return append(b, OpEnd)
}

func (m *Module) ensureVoidType() (uint32, error) {
	for i, t := range m.Types {
		if len(t.Params) == 0 && len(t.Results) == 0 {
			return uint32(i), nil
		}
	}
	var body []byte
	if s := m.Section(SectionType); s != nil {
		_, entries, err := vecBody(s.Data)
		if err != nil {
			return 0, err
		}
		body = entries
	}
	idx := uint32(len(m.Types))
	data := AppendUleb128(nil, uint64(idx+1))
	data = append(data, body...)
	data = append(data, 0x60, 0x00, 0x00)
	m.Sections = setSection(m.Sections, SectionType, data)
	m.Types = append(m.Types, FuncType{})
	return idx, nil
}

func (m *Module) appendFuncImport(module, name string, typeIdx uint32) error {
	var body []byte
	if s := m.Section(SectionImport); s != nil {
		_, entries, err := vecBody(s.Data)
		if err != nil {
			return err
		}
		body = entries
	}
	data := AppendUleb128(nil, uint64(len(m.Imports)+1))
	data = append(data, body...)
	data = appendName(data, module)
	data = appendName(data, name)
	data = append(data, byte(ExternFunc))
	data = AppendUleb128(data, uint64(typeIdx))
	m.Sections = setSection(m.Sections, SectionImport, data)
	m.Imports = append(m.Imports, Import{Module: module, Name: name, Kind: ExternFunc, TypeIdx: typeIdx})
	m.NumImportedFuncs++
	return nil
}

func (m *Module) appendCounterGlobal(interval int32, shift func(uint32) uint32) error {
	data := AppendUleb128(nil, uint64(len(m.Globals)+1))
	if s := m.Section(SectionGlobal); s != nil {
		r := newReader(s.Data)
		err := vec(r, func() error {
			start := r.pos
			if _, err := readGlobalType(r); err != nil {
				return err
			}
			data = append(data, r.since(start)...)
			var err error
			data, err = rewriteConstExpr(r, data, shift)
			return err
		})
		if err != nil {
			return fmt.Errorf("global section: %w", err)
		}
	}
	data = append(data, byte(ValI32), 0x01, OpI32Const)
	data = AppendSleb128(data, int64(interval))
	data = append(data, OpEnd)
	m.Sections = setSection(m.Sections, SectionGlobal, data)
	m.Globals = append(m.Globals, GlobalType{Type: ValI32, Mutable: true})
	return nil
}

func (m *Module) shiftExports(shift func(uint32) uint32) error {
	s := m.Section(SectionExport)
	if s == nil {
		return nil
	}
	data := AppendUleb128(nil, uint64(len(m.Exports)))
	for i, exp := range m.Exports {
		if exp.Kind == ExternFunc {
			m.Exports[i].Index = shift(exp.Index)
		}
		data = appendName(data, exp.Name)
		data = append(data, byte(exp.Kind))
		data = AppendUleb128(data, uint64(m.Exports[i].Index))
	}
	s.Data = data
	return nil
}

func (m *Module) shiftElements(shift func(uint32) uint32) error {
	s := m.Section(SectionElement)
	if s == nil {
		return nil
	}
	r := newReader(s.Data)
	n, err := r.u32()
	if err != nil {
		return err
	}
	data := AppendUleb128(nil, uint64(n))

	copyU32 := func() error {
		start := r.pos
		_, err := r.u32()
		data = append(data, r.since(start)...)
		return err
	}
	funcIndices := func() error {
		return vecCopy(r, &data, func() error {
			idx, err := r.u32()
			data = AppendUleb128(data, uint64(shift(idx)))
			return err
		})
	}
	exprs := func() error {
		return vecCopy(r, &data, func() error {
			var err error
			data, err = rewriteConstExpr(r, data, shift)
			return err
		})
	}
	offset := func() error {
		var err error
		data, err = rewriteConstExpr(r, data, shift)
		return err
	}
	kindByte := func() error {
		b, err := r.byte()
		data = append(data, b)
		return err
	}
	refType := func() error {
		t, err := readValType(r)
		data = append(data, byte(t))
		return err
	}

	for i := uint32(0); i < n; i++ {
		flags, err := r.u32()
		if err != nil {
			return err
		}
		data = AppendUleb128(data, uint64(flags))
		var steps []func() error
		switch flags {
		case 0:
			steps = []func() error{offset, funcIndices}
		case 1, 3:
			steps = []func() error{kindByte, funcIndices}
		case 2:
			steps = []func() error{copyU32, offset, kindByte, funcIndices}
		case 4:
			steps = []func() error{offset, exprs}
		case 5, 7:
			steps = []func() error{refType, exprs}
		case 6:
			steps = []func() error{copyU32, offset, refType, exprs}
		default:
			return fmt.Errorf("element segment flags %d", flags)
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return fmt.Errorf("element segment %d: %w", i, err)
			}
		}
	}
	if r.len() != 0 {
		return fmt.Errorf("element section: %d trailing bytes", r.len())
	}
	s.Data = data
	return nil
}

func vecCopy(r *reader, data *[]byte, each func() error) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	*data = AppendUleb128(*data, uint64(n))
	for i := uint32(0); i < n; i++ {
		if err := each(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) instrumentCode(shift func(uint32) uint32, tick []byte) error {
	s := m.Section(SectionCode)
	if s == nil {
		return nil
	}
	r := newReader(s.Data)
	n, err := r.u32()
	if err != nil {
		return err
	}
	if int(n) != len(m.Funcs) {
		return fmt.Errorf("code section has %d bodies for %d functions", n, len(m.Funcs))
	}
	data := AppendUleb128(make([]byte, 0, len(s.Data)+int(n)*len(tick)*2), uint64(n))
	var body []byte
	for i := uint32(0); i < n; i++ {
		size, err := r.u32()
		if err != nil {
			return err
		}
		raw, err := r.bytes(int(size))
		if err != nil {
			return err
		}
		body, err = instrumentBody(body[:0], raw, shift, tick)
		if err != nil {
			return fmt.Errorf("function %d: %w", i+m.NumImportedFuncs-1, err)
		}
		data = AppendUleb128(data, uint64(len(body)))
		data = append(data, body...)
	}
	s.Data = data
	return nil
}

func instrumentBody(dst, raw []byte, shift func(uint32) uint32, tick []byte) ([]byte, error) {
	r := newReader(raw)
	err := vec(r, func() error {
		if _, err := r.u32(); err != nil {
			return err
		}
		_, err := readValType(r)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("locals: %w", err)
	}
	dst = append(dst, raw[:r.pos]...)
	dst = append(dst, tick...)

	w := exprRewriter{
		r:       r,
		out:     dst,
		funcIdx: shift,
		afterLoop: func(out []byte) []byte {
			return append(out, tick...)
		},
	}
	if err := w.run(); err != nil {
		return nil, err
	}
	if r.len() != 0 {
		return nil, fmt.Errorf("%d bytes after function end", r.len())
	}
	return w.out, nil
}
