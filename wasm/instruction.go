package wasm

import (
	"fmt"
)

// Opcodes the rewriter treats specially.
const (
	OpUnreachable        byte = 0x00
	OpBlock              byte = 0x02
	OpLoop               byte = 0x03
	OpIf                 byte = 0x04
	OpElse               byte = 0x05
	OpEnd                byte = 0x0b
	OpBr                 byte = 0x0c
	OpBrIf               byte = 0x0d
	OpBrTable            byte = 0x0e
	OpCall               byte = 0x10
	OpCallIndirect       byte = 0x11
	OpReturnCall         byte = 0x12
	OpReturnCallIndirect byte = 0x13
	OpCallRef            byte = 0x14
	OpReturnCallRef      byte = 0x15
	OpSelectT            byte = 0x1c
	OpLocalGet           byte = 0x20
	OpGlobalGet          byte = 0x23
	OpGlobalSet          byte = 0x24
	OpI32Const           byte = 0x41
	OpI64Const           byte = 0x42
	OpF32Const           byte = 0x43
	OpF64Const           byte = 0x44
	OpI32Eqz             byte = 0x45
	OpI32Sub             byte = 0x6b
	OpRefNull            byte = 0xd0
	OpRefFunc            byte = 0xd2
	OpRefAsNonNull       byte = 0xd4
	OpBrOnNull           byte = 0xd5
	OpBrOnNonNull        byte = 0xd6
	OpPrefixMisc         byte = 0xfc
	OpPrefixSIMD         byte = 0xfd
	OpPrefixAtomic       byte = 0xfe

	BlockTypeEmpty byte = 0x40
)

// exprRewriter copies an expression from r to out instruction by instruction,
// renumbering function indices and letting a hook emit code after loop headers.
type exprRewriter struct {
	r   *reader
	out []byte

	// funcIdx maps an old function index to the new one.
	funcIdx func(uint32) uint32
	// afterLoop, when set, appends code right after each loop block type.
	afterLoop func([]byte) []byte
}

// run processes instructions until the end opcode that closes the expression.
func (w *exprRewriter) run() error {
	depth := 0
	for {
		op, err := w.r.byte()
		if err != nil {
			return err
		}
		w.out = append(w.out, op)

		switch {
		case op == OpBlock || op == OpIf:
			if err := w.copyBlockType(); err != nil {
				return err
			}
			depth++
		case op == OpLoop:
			if err := w.copyBlockType(); err != nil {
				return err
			}
			if w.afterLoop != nil {
				w.out = w.afterLoop(w.out)
			}
			depth++
		case op == OpEnd:
			if depth == 0 {
				return nil
			}
			depth--
		case op == OpCall || op == OpReturnCall || op == OpRefFunc:
			idx, err := w.r.u32()
			if err != nil {
				return err
			}
			if w.funcIdx != nil {
				idx = w.funcIdx(idx)
			}
			w.out = AppendUleb128(w.out, uint64(idx))
		default:
			if err := w.copyImmediates(op); err != nil {
				return err
			}
		}
	}
}

func (w *exprRewriter) copyU32(n int) error {
	for i := 0; i < n; i++ {
		start := w.r.pos
		if _, err := w.r.u32(); err != nil {
			return err
		}
		w.out = append(w.out, w.r.since(start)...)
	}
	return nil
}

func (w *exprRewriter) copyRaw(n int) error {
	b, err := w.r.bytes(n)
	if err != nil {
		return err
	}
	w.out = append(w.out, b...)
	return nil
}

func (w *exprRewriter) copySleb(bits uint) error {
	start := w.r.pos
	if _, err := w.r.sleb(bits); err != nil {
		return err
	}
	w.out = append(w.out, w.r.since(start)...)
	return nil
}

func (w *exprRewriter) copyBlockType() error {
	b, err := w.r.peek()
	if err != nil {
		return err
	}
	if b == 0x63 || b == 0x64 {
		return fmt.Errorf("%w: typed reference block type", ErrUnsupported)
	}
	return w.copySleb(33)
}

func (w *exprRewriter) copyMemArg() error {
	start := w.r.pos
	align, err := w.r.u32()
	if err != nil {
		return err
	}
	if align&0x40 != 0 {
		if _, err := w.r.u32(); err != nil {
			return err
		}
	}
	if _, err := w.r.u64(); err != nil {
		return err
	}
	w.out = append(w.out, w.r.since(start)...)
	return nil
}

func (w *exprRewriter) copyImmediates(op byte) error {
	switch {
	case op == OpUnreachable || op == 0x01 || op == OpElse || op == 0x0f || op == 0x1a || op == 0x1b:
		return nil
	case op == OpBr || op == OpBrIf || op == OpBrOnNull || op == OpBrOnNonNull:
		return w.copyU32(1)
	case op == OpBrTable:
		start := w.r.pos
		n, err := w.r.u32()
		if err != nil {
			return err
		}
		w.out = append(w.out, w.r.since(start)...)
		return w.copyU32(int(n) + 1)
	case op == OpCallIndirect || op == OpReturnCallIndirect:
		return w.copyU32(2)
	case op == OpCallRef || op == OpReturnCallRef:
		return w.copyU32(1)
	case op == OpSelectT:
		start := w.r.pos
		n, err := w.r.u32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			if _, err := readValType(w.r); err != nil {
				return err
			}
		}
		w.out = append(w.out, w.r.since(start)...)
		return nil
	case op >= OpLocalGet && op <= 0x26:
		return w.copyU32(1)
	case op >= 0x28 && op <= 0x3e:
		return w.copyMemArg()
	case op == 0x3f || op == 0x40:
		return w.copyU32(1)
	case op == OpI32Const:
		return w.copySleb(32)
	case op == OpI64Const:
		return w.copySleb(64)
	case op == OpF32Const:
		return w.copyRaw(4)
	case op == OpF64Const:
		return w.copyRaw(8)
	case op >= OpI32Eqz && op <= 0xc4:
		return nil
	case op == OpRefNull:
		return w.copySleb(33)
	case op == 0xd1 || op == 0xd3 || op == OpRefAsNonNull:
		return nil
	case op == OpPrefixMisc:
		return w.copyMisc()
	case op == OpPrefixSIMD:
		return w.copySIMD()
	case op == OpPrefixAtomic:
		return w.copyAtomic()
	}
	return fmt.Errorf("%w: opcode 0x%02x", ErrUnsupported, op)
}

func (w *exprRewriter) readSubOp() (uint32, error) {
	start := w.r.pos
	sub, err := w.r.u32()
	if err != nil {
		return 0, err
	}
	w.out = append(w.out, w.r.since(start)...)
	return sub, nil
}

func (w *exprRewriter) copyMisc() error {
	sub, err := w.readSubOp()
	if err != nil {
		return err
	}
	switch {
	case sub <= 7:
		return nil
	case sub == 8, sub == 10, sub == 12, sub == 14:
		return w.copyU32(2)
	case sub == 9, sub == 11, sub == 13, sub >= 15 && sub <= 17:
		return w.copyU32(1)
	}
	return fmt.Errorf("%w: misc opcode %d", ErrUnsupported, sub)
}

func (w *exprRewriter) copySIMD() error {
	sub, err := w.readSubOp()
	if err != nil {
		return err
	}
	switch {
	case sub <= 11:
		return w.copyMemArg()
	case sub == 12 || sub == 13:
		return w.copyRaw(16)
	case sub >= 21 && sub <= 34:
		return w.copyRaw(1)
	case sub >= 84 && sub <= 91:
		if err := w.copyMemArg(); err != nil {
			return err
		}
		return w.copyRaw(1)
	case sub == 92 || sub == 93:
		return w.copyMemArg()
	}
	return nil
}

func (w *exprRewriter) copyAtomic() error {
	sub, err := w.readSubOp()
	if err != nil {
		return err
	}
	if sub == 0x03 {
		return w.copyRaw(1)
	}
	return w.copyMemArg()
}

// skipConstExpr advances r past a constant expression.
func skipConstExpr(r *reader) error {
	w := exprRewriter{r: r}
	return w.run()
}

// rewriteConstExpr copies a constant expression with function indices renumbered.
func rewriteConstExpr(r *reader, dst []byte, funcIdx func(uint32) uint32) ([]byte, error) {
	w := exprRewriter{r: r, out: dst, funcIdx: funcIdx}
	err := w.run()
	return w.out, err
}
