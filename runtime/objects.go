package runtime

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-bridge/config"
	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/host"
	"github.com/wippyai/wasm-bridge/memory"
	"github.com/wippyai/wasm-bridge/value"
	"github.com/wippyai/wasm-bridge/wasm"
)

var (
	tI32 = wasm.ValI32
	tI64 = wasm.ValI64
	tF64 = wasm.ValF64
	tRef = wasm.ValExternRef
)

// bindObjects wires the object namespaces the modules import. v1 needs
// extern.bindMode compat or extern; v2 needs extern.
func (i *Instance) bindObjects(ctx context.Context, b *host.Binder, required []wasm.FuncImport, byNamespace map[string][]wasm.FuncImport) error {
	mode := i.cfg.Extern.BindMode
	if len(byNamespace[engine.ObjectV1Namespace]) > 0 {
		if mode == config.ExternNone {
			return errors.MissingCapability(fmt.Sprintf("module imports %s but extern.bindMode is %s", engine.ObjectV1Namespace, mode))
		}
		if _, err := b.Bind(ctx, i.runtime, engine.ObjectV1Namespace, required, i.objectsV1()); err != nil {
			return err
		}
	}
	if len(byNamespace[engine.ObjectV2Namespace]) > 0 {
		if mode != config.ExternNative {
			return errors.MissingCapability(fmt.Sprintf("module imports %s but extern.bindMode is %s", engine.ObjectV2Namespace, mode))
		}
		if _, err := b.Bind(ctx, i.runtime, engine.ObjectV2Namespace, required, i.objectsV2()); err != nil {
			return err
		}
	}
	return nil
}

func fn(params, results []wasm.ValType, f host.CallableFunc) host.Descriptor {
	return host.Descriptor{Params: params, Results: results, Callable: f}
}

func vals(ts ...wasm.ValType) []wasm.ValType { return ts }

func arg32(args []value.Variant, n int) uint32 {
	v, _ := value.AsInt(args[n])
	return uint32(v)
}

func flag(b bool) value.Variant {
	if b {
		return value.Int(1)
	}
	return value.Int(0)
}

func expect(v value.Variant, k value.Kind) error {
	if got := value.KindOf(v); got != k {
		return errors.TypeMismatch(nil, k.String(), got.String())
	}
	return nil
}

// guestMemory is the memory of the module whose import is running. Nil
// when it exports none.
func (i *Instance) guestMemory(ctx context.Context) *memory.Accessor {
	mod := host.Caller(ctx)
	if mod == nil {
		return nil
	}
	m := mod.ExportedMemory(i.memName)
	if m == nil {
		return nil
	}
	return memory.New(m)
}

// scalar describes a value kind that has get/set/new and read/write
// functions.
type scalar struct {
	name   string
	kind   value.Kind
	typ    wasm.ValType
	size   uint32
	toWasm func(value.Variant) value.Variant
	from   func(value.Variant) value.Variant
	encode func(value.Variant) []byte
	decode func([]byte) value.Variant
}

var scalars = []scalar{
	{
		name: "bool", kind: value.KindBool, typ: tI32, size: 1,
		toWasm: func(v value.Variant) value.Variant { return flag(bool(v.(value.Bool))) },
		from: func(v value.Variant) value.Variant {
			n, _ := value.AsInt(v)
			return value.Bool(int32(n) != 0)
		},
		encode: func(v value.Variant) []byte {
			if v.(value.Bool) {
				return []byte{1}
			}
			return []byte{0}
		},
		decode: func(b []byte) value.Variant { return value.Bool(b[0] != 0) },
	},
	{
		name: "int", kind: value.KindInt, typ: tI64, size: 8,
		toWasm: func(v value.Variant) value.Variant { return v },
		from:   func(v value.Variant) value.Variant { return v },
		encode: func(v value.Variant) []byte {
			return binary.LittleEndian.AppendUint64(nil, uint64(v.(value.Int)))
		},
		decode: func(b []byte) value.Variant { return value.Int(int64(binary.LittleEndian.Uint64(b))) },
	},
	{
		name: "float", kind: value.KindFloat, typ: tF64, size: 8,
		toWasm: func(v value.Variant) value.Variant { return v },
		from: func(v value.Variant) value.Variant {
			f, _ := value.AsFloat(v)
			return value.Float(f)
		},
		encode: func(v value.Variant) []byte {
			return binary.LittleEndian.AppendUint64(nil, math.Float64bits(float64(v.(value.Float))))
		},
		decode: func(b []byte) value.Variant {
			return value.Float(math.Float64frombits(binary.LittleEndian.Uint64(b)))
		},
	},
}

// blob describes a value kind stored as bytes in guest memory.
type blob struct {
	name  string
	kind  value.Kind
	data  func(value.Variant) []byte
	build func([]byte) (value.Variant, error)
}

var blobs = []blob{
	{
		name: "string", kind: value.KindString,
		data: func(v value.Variant) []byte { return []byte(v.(value.String)) },
		build: func(b []byte) (value.Variant, error) {
			if !utf8.Valid(b) {
				return nil, errors.InvalidInput(errors.PhaseHost, "string is not valid UTF-8")
			}
			return value.String(b), nil
		},
	},
	{
		name: "byte_array", kind: value.KindBytes,
		data:  func(v value.Variant) []byte { return v.(value.Bytes) },
		build: func(b []byte) (value.Variant, error) { return value.Bytes(b), nil },
	},
}

// objectsV1 is the index-based namespace over the registry. Id 0 is nil.
// Functions touching guest memory return 0 when the guest exports none.
func (i *Instance) objectsV1() map[string]host.Descriptor {
	reg := i.registry
	d := map[string]host.Descriptor{
		"delete": fn(vals(tI32), vals(tI32), func(_ context.Context, a []value.Variant) (value.Variant, error) {
			_, ok := reg.Unregister(arg32(a, 0))
			return flag(ok), nil
		}),
		"delete_many": fn(vals(tI32, tI32), vals(tI32), func(ctx context.Context, a []value.Variant) (value.Variant, error) {
			m := i.guestMemory(ctx)
			if m == nil {
				return value.Int(0), nil
			}
			p, n := arg32(a, 0), arg32(a, 1)
			if err := m.Check(p, uint64(n)*4); err != nil {
				return nil, err
			}
			removed := 0
			for k := uint32(0); k < n; k++ {
				id, err := m.ReadU32(p + 4*k)
				if err != nil {
					return nil, err
				}
				if _, ok := reg.Unregister(id); ok {
					removed++
				}
			}
			return value.Int(removed), nil
		}),
		"duplicate": fn(vals(tI32), vals(tI32), func(_ context.Context, a []value.Variant) (value.Variant, error) {
			return value.Int(reg.Register(value.Duplicate(reg.GetOrNil(arg32(a, 0))))), nil
		}),
		"copy": fn(vals(tI32, tI32), vals(tI32), func(_ context.Context, a []value.Variant) (value.Variant, error) {
			_, ok := reg.Replace(arg32(a, 1), value.Duplicate(reg.GetOrNil(arg32(a, 0))))
			return flag(ok), nil
		}),
		"variant_type": fn(vals(tI32), vals(tI32), func(_ context.Context, a []value.Variant) (value.Variant, error) {
			return value.Int(value.KindOf(reg.GetOrNil(arg32(a, 0)))), nil
		}),
		"null.is": fn(vals(tI32), vals(tI32), func(_ context.Context, a []value.Variant) (value.Variant, error) {
			_, ok := reg.Get(arg32(a, 0))
			return flag(!ok), nil
		}),
		"null.is_not": fn(vals(tI32), vals(tI32), func(_ context.Context, a []value.Variant) (value.Variant, error) {
			_, ok := reg.Get(arg32(a, 0))
			return flag(ok), nil
		}),
	}

	for k := value.KindBool; k <= value.KindObject; k++ {
		kind := k
		d[kind.String()+".is"] = fn(vals(tI32), vals(tI32), func(_ context.Context, a []value.Variant) (value.Variant, error) {
			v, ok := reg.Get(arg32(a, 0))
			return flag(ok && value.KindOf(v) == kind), nil
		})
	}

	for _, s := range scalars {
		s := s
		d[s.name+".get"] = fn(vals(tI32), vals(s.typ), func(_ context.Context, a []value.Variant) (value.Variant, error) {
			v := reg.GetOrNil(arg32(a, 0))
			if err := expect(v, s.kind); err != nil {
				return nil, err
			}
			return s.toWasm(v), nil
		})
		d[s.name+".set"] = fn(vals(tI32, s.typ), nil, func(_ context.Context, a []value.Variant) (value.Variant, error) {
			reg.Replace(arg32(a, 0), s.from(a[1]))
			return value.Nil{}, nil
		})
		d[s.name+".new"] = fn(vals(s.typ), vals(tI32), func(_ context.Context, a []value.Variant) (value.Variant, error) {
			return value.Int(reg.Register(s.from(a[0]))), nil
		})
		d[s.name+".read"] = fn(vals(tI32, tI32), vals(tI32), func(ctx context.Context, a []value.Variant) (value.Variant, error) {
			v := reg.GetOrNil(arg32(a, 0))
			if err := expect(v, s.kind); err != nil {
				return nil, err
			}
			m := i.guestMemory(ctx)
			if m == nil {
				return value.Int(0), nil
			}
			if err := m.Write(arg32(a, 1), s.encode(v)); err != nil {
				return nil, err
			}
			return value.Int(1), nil
		})
		d[s.name+".write"] = fn(vals(tI32, tI32), vals(tI32), func(ctx context.Context, a []value.Variant) (value.Variant, error) {
			m := i.guestMemory(ctx)
			if m == nil {
				return value.Int(0), nil
			}
			b, err := m.Read(arg32(a, 1), s.size)
			if err != nil {
				return nil, err
			}
			reg.Replace(arg32(a, 0), s.decode(b))
			return value.Int(1), nil
		})
		d[s.name+".write_new"] = fn(vals(tI32), vals(tI32), func(ctx context.Context, a []value.Variant) (value.Variant, error) {
			m := i.guestMemory(ctx)
			if m == nil {
				return value.Int(0), nil
			}
			b, err := m.Read(arg32(a, 0), s.size)
			if err != nil {
				return nil, err
			}
			return value.Int(reg.Register(s.decode(b))), nil
		})
	}

	for _, bl := range blobs {
		bl := bl
		d[bl.name+".len"] = fn(vals(tI32), vals(tI32), func(_ context.Context, a []value.Variant) (value.Variant, error) {
			v := reg.GetOrNil(arg32(a, 0))
			if err := expect(v, bl.kind); err != nil {
				return nil, err
			}
			return value.Int(len(bl.data(v))), nil
		})
		d[bl.name+".read"] = fn(vals(tI32, tI32), vals(tI32), func(ctx context.Context, a []value.Variant) (value.Variant, error) {
			v := reg.GetOrNil(arg32(a, 0))
			if err := expect(v, bl.kind); err != nil {
				return nil, err
			}
			m := i.guestMemory(ctx)
			if m == nil {
				return value.Int(0), nil
			}
			if err := m.Write(arg32(a, 1), bl.data(v)); err != nil {
				return nil, err
			}
			return value.Int(1), nil
		})
		d[bl.name+".write"] = fn(vals(tI32, tI32, tI32), vals(tI32), func(ctx context.Context, a []value.Variant) (value.Variant, error) {
			m := i.guestMemory(ctx)
			if m == nil {
				return value.Int(0), nil
			}
			v, err := readBlob(m, bl, arg32(a, 1), arg32(a, 2))
			if err != nil {
				return nil, err
			}
			reg.Replace(arg32(a, 0), v)
			return value.Int(1), nil
		})
		d[bl.name+".write_new"] = fn(vals(tI32, tI32), vals(tI32), func(ctx context.Context, a []value.Variant) (value.Variant, error) {
			m := i.guestMemory(ctx)
			if m == nil {
				return value.Int(0), nil
			}
			v, err := readBlob(m, bl, arg32(a, 0), arg32(a, 1))
			if err != nil {
				return nil, err
			}
			return value.Int(reg.Register(v)), nil
		})
	}
	return d
}

func readBlob(m *memory.Accessor, bl blob, p, n uint32) (value.Variant, error) {
	b, err := m.Read(p, n)
	if err != nil {
		return nil, err
	}
	return bl.build(b)
}

// objectsV2 is the reference-based namespace. Values travel as externref
// handles from the instance's extern heap; handles stay valid until
// released or until the instance closes.
func (i *Instance) objectsV2() map[string]host.Descriptor {
	reg := i.registry
	d := map[string]host.Descriptor{
		"variant_type": fn(vals(tRef), vals(tI32), func(_ context.Context, a []value.Variant) (value.Variant, error) {
			return value.Int(value.KindOf(a[0])), nil
		}),
		"is_null": fn(vals(tRef), vals(tI32), func(_ context.Context, a []value.Variant) (value.Variant, error) {
			return flag(value.IsNil(a[0])), nil
		}),
		"to_registry": fn(vals(tRef), vals(tI32), func(_ context.Context, a []value.Variant) (value.Variant, error) {
			return value.Int(reg.Register(a[0])), nil
		}),
		"from_registry": fn(vals(tI32), vals(tRef), func(_ context.Context, a []value.Variant) (value.Variant, error) {
			return reg.GetOrNil(arg32(a, 0)), nil
		}),
		"release": {
			Params:  vals(tRef),
			Results: vals(tI32),
			Raw: func(_ context.Context, _ api.Module, stack []uint64) {
				if i.externs.Release(stack[0]) {
					stack[0] = 1
				} else {
					stack[0] = 0
				}
			},
		},
	}

	for _, s := range scalars {
		s := s
		d[s.name+".new"] = fn(vals(s.typ), vals(tRef), func(_ context.Context, a []value.Variant) (value.Variant, error) {
			return s.from(a[0]), nil
		})
		d[s.name+".get"] = fn(vals(tRef), vals(s.typ), func(_ context.Context, a []value.Variant) (value.Variant, error) {
			if err := expect(a[0], s.kind); err != nil {
				return nil, err
			}
			return s.toWasm(a[0]), nil
		})
	}

	for _, bl := range blobs {
		bl := bl
		d[bl.name+".new"] = fn(vals(tI32, tI32), vals(tRef), func(ctx context.Context, a []value.Variant) (value.Variant, error) {
			m := i.guestMemory(ctx)
			if m == nil {
				return value.Nil{}, nil
			}
			return readBlob(m, bl, arg32(a, 0), arg32(a, 1))
		})
		d[bl.name+".len"] = fn(vals(tRef), vals(tI32), func(_ context.Context, a []value.Variant) (value.Variant, error) {
			if err := expect(a[0], bl.kind); err != nil {
				return nil, err
			}
			return value.Int(len(bl.data(a[0]))), nil
		})
		d[bl.name+".read"] = fn(vals(tRef, tI32), vals(tI32), func(ctx context.Context, a []value.Variant) (value.Variant, error) {
			if err := expect(a[0], bl.kind); err != nil {
				return nil, err
			}
			m := i.guestMemory(ctx)
			if m == nil {
				return value.Int(0), nil
			}
			if err := m.Write(arg32(a, 1), bl.data(a[0])); err != nil {
				return nil, err
			}
			return value.Int(1), nil
		})
	}
	return d
}
