package resource

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-bridge/value"
)

func TestRegistry_Basic(t *testing.T) {
	reg := NewRegistry()

	id := reg.Register(value.String("test"))
	require.Equal(t, uint32(1), id)

	v, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, value.String("test"), v)

	assert.Equal(t, value.Nil{}, reg.GetOrNil(0))
	assert.Equal(t, value.Nil{}, reg.GetOrNil(99))

	old, ok := reg.Unregister(id)
	require.True(t, ok)
	assert.Equal(t, value.String("test"), old)
	assert.Equal(t, 0, reg.Len())

	_, ok = reg.Unregister(id)
	assert.False(t, ok, "double unregister")
}

func TestRegistry_NilIsZero(t *testing.T) {
	reg := NewRegistry()
	assert.Zero(t, reg.Register(value.Nil{}))
	assert.Zero(t, reg.Register(nil))
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_Uniqueness(t *testing.T) {
	reg := NewRegistry()
	const n = 100

	seen := make(map[uint32]bool, n)
	for i := 0; i < n; i++ {
		id := reg.Register(value.Int(i))
		require.NotZero(t, id)
		require.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Equal(t, n, reg.Len())

	reg.Unregister(42)
	id := reg.Register(value.String("fresh"))
	assert.Equal(t, uint32(42), id, "freed id is reused")
	assert.Equal(t, value.String("fresh"), reg.GetOrNil(id), "reused id must not return the old value")
}

func TestRegistry_Replace(t *testing.T) {
	reg := NewRegistry()
	id := reg.Register(value.Int(1))

	old, ok := reg.Replace(id, value.Int(2))
	require.True(t, ok)
	assert.Equal(t, value.Int(1), old)
	assert.Equal(t, value.Int(2), reg.GetOrNil(id))

	_, ok = reg.Replace(id+1, value.Int(3))
	assert.False(t, ok, "empty slot stays empty")
	assert.Equal(t, 1, reg.Len())

	_, ok = reg.Replace(id, value.Nil{})
	assert.True(t, ok)
	_, ok = reg.Get(id)
	assert.False(t, ok, "replace with nil unregisters")
}

func TestRegistry_Observer(t *testing.T) {
	reg := NewRegistry()
	var events []Event
	reg.Subscribe(ObserverFunc(func(e Event) { events = append(events, e) }))

	id := reg.Register(value.Bool(true))
	reg.Replace(id, value.Bool(false))
	reg.Unregister(id)

	require.Len(t, events, 3)
	assert.Equal(t, EventRegistered, events[0].Type)
	assert.Equal(t, EventReplaced, events[1].Type)
	assert.Equal(t, EventUnregistered, events[2].Type)
	assert.Equal(t, id, events[2].ID)
}

func TestRegistry_EachAndClose(t *testing.T) {
	reg := NewRegistry()
	reg.Register(value.Int(1))
	reg.Register(value.Int(2))
	reg.Register(value.Int(3))
	reg.Unregister(2)

	var ids []uint32
	reg.Each(func(id uint32, _ value.Variant) bool {
		ids = append(ids, id)
		return true
	})
	assert.Equal(t, []uint32{1, 3}, ids)

	require.NoError(t, reg.Close())
	assert.Zero(t, reg.Register(value.Int(4)))
	_, ok := reg.Get(1)
	assert.False(t, ok)
}

func TestExterns(t *testing.T) {
	ext := NewExterns()

	a := ext.Ref(value.String("a"))
	b := ext.Ref(value.String("a"))
	assert.NotZero(t, a)
	assert.Equal(t, a, b, "equal strings share a handle")
	assert.Zero(t, ext.Ref(value.Nil{}))
	assert.Equal(t, 1, ext.Len())

	v, ok := ext.Deref(a)
	require.True(t, ok)
	assert.Equal(t, value.String("a"), v)

	assert.True(t, ext.Release(a))
	_, ok = ext.Deref(a)
	assert.True(t, ok, "one count is left")
	assert.True(t, ext.Release(a))
	assert.False(t, ext.Release(a))
	_, ok = ext.Deref(a)
	assert.False(t, ok)

	c := ext.Ref(value.String("a"))
	assert.Greater(t, c, b, "freed handles are not reused")
	assert.Equal(t, 1, ext.Len())

	var _ value.Refs = ext
}

func TestExternsSharing(t *testing.T) {
	type node struct{ name string }
	n := &node{"root"}

	tests := []struct {
		name   string
		a, b   value.Variant
		shared bool
	}{
		{"ints", value.Int(7), value.Int(7), true},
		{"distinct ints", value.Int(7), value.Int(8), false},
		{"int and float", value.Int(1), value.Float(1), false},
		{"nan", value.Float(math.NaN()), value.Float(math.NaN()), true},
		{"bools", value.Bool(true), value.Bool(true), true},
		{"bytes", value.Bytes("ab"), value.Bytes("ab"), true},
		{"bytes and string", value.Bytes("ab"), value.String("ab"), false},
		{"same pointer", value.Object{Value: n}, value.Object{Value: n}, true},
		{"equal pointees", value.Object{Value: n}, value.Object{Value: &node{"root"}}, false},
		{"unhashable object", value.Object{Value: []int{1}}, value.Object{Value: []int{1}}, false},
		{"arrays", value.Array{value.Int(1)}, value.Array{value.Int(1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext := NewExterns()
			a, b := ext.Ref(tt.a), ext.Ref(tt.b)
			assert.Equal(t, tt.shared, a == b)
		})
	}
}

func TestExternsStayFlatUnderRepeatedRefs(t *testing.T) {
	ext := NewExterns()
	obj := value.Object{Value: &struct{}{}}
	for n := 0; n < 10000; n++ {
		ext.Ref(obj)
		ext.Ref(value.String("label"))
		ext.Ref(value.Int(n % 4))
	}
	assert.Equal(t, 6, ext.Len())
}

func TestExternsClose(t *testing.T) {
	ext := NewExterns()
	ref := ext.Ref(value.Int(1))
	require.NoError(t, ext.Close())
	_, ok := ext.Deref(ref)
	assert.False(t, ok)
	assert.Zero(t, ext.Ref(value.Int(1)))
	assert.Zero(t, ext.Len())
}
