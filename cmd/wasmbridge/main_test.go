package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-bridge/value"
	"github.com/wippyai/wasm-bridge/wasm"
)

const addWAT = `(module
  (global $n (mut i32) (i32.const 0))
  (func (export "add") (param i32 i32) (result i32)
    (i32.add (local.get 0) (local.get 1)))
  (func (export "next") (result i32)
    (global.set $n (i32.add (global.get $n) (i32.const 1)))
    (global.get $n))
  (func (export "_start")))`

const helloWAT = `(module
  (import "wasi_snapshot_preview1" "fd_write"
    (func $fd_write (param i32 i32 i32 i32) (result i32)))
  (memory (export "memory") 1)
  (data (i32.const 16) "hi\n")
  (func (export "_start")
    (i32.store (i32.const 0) (i32.const 16))
    (i32.store (i32.const 4) (i32.const 3))
    (drop (call $fd_write (i32.const 1) (i32.const 0) (i32.const 1) (i32.const 8)))))`

func writeModule(t *testing.T, name, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func execCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(bytes.NewReader(nil))
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestParseArg(t *testing.T) {
	tests := []struct {
		in   string
		want value.Variant
	}{
		{"42", value.Int(42)},
		{"-7", value.Int(-7)},
		{"1.5", value.Float(1.5)},
		{"true", value.Bool(true)},
		{"null", value.Nil{}},
		{`"quoted"`, value.String("quoted")},
		{"plain text", value.String("plain text")},
		{"1 2", value.String("1 2")},
		{"[1,2.5,\"x\"]", value.Array{value.Int(1), value.Float(2.5), value.String("x")}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseArg(tt.in))
		})
	}
}

func TestCoerce(t *testing.T) {
	assert.Equal(t, int64(0), coerce("epoch.timeout", "0"))
	assert.Equal(t, 0.25, coerce("epoch.timeout", "0.25"))
	assert.Equal(t, true, coerce("epoch.enable", "TRUE"))
	assert.Equal(t, "2s", coerce("epoch.timeout", "2s"))
	assert.Equal(t, "42", coerce("wasi.stdin_data", "42"))
	assert.Equal(t, "true", coerce("wasi.stdin.inputData", "true"))
}

func TestParseMount(t *testing.T) {
	host, guest, ro, err := parseMount("./data:/data")
	require.NoError(t, err)
	assert.Equal(t, "./data", host)
	assert.Equal(t, "/data", guest)
	assert.False(t, ro)

	_, _, ro, err = parseMount("/tmp:/tmp:ro")
	require.NoError(t, err)
	assert.True(t, ro)

	for _, bad := range []string{"data", ":/data", "a:b:rw", "a:b:ro:x"} {
		_, _, _, err := parseMount(bad)
		assert.Error(t, err, bad)
	}
}

func TestArgForType(t *testing.T) {
	v, err := argForType(" 0x10 ", wasm.ValI32)
	require.NoError(t, err)
	assert.Equal(t, value.Int(16), v)

	v, err = argForType("1", wasm.ValI32)
	require.NoError(t, err)
	assert.Equal(t, value.Int(1), v, "digits stay integers")

	v, err = argForType("true", wasm.ValI64)
	require.NoError(t, err)
	assert.Equal(t, value.Bool(true), v)

	v, err = argForType("3", wasm.ValF64)
	require.NoError(t, err)
	assert.Equal(t, value.Float(3), v)

	_, err = argForType("x", wasm.ValI32)
	assert.Error(t, err)
	_, err = argForType("x", wasm.ValF32)
	assert.Error(t, err)

	v, err = argForType("hello", wasm.ValExternRef)
	require.NoError(t, err)
	assert.Equal(t, value.String("hello"), v)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "null", formatValue(nil))
	assert.Equal(t, "null", formatValue(value.Nil{}))
	assert.Equal(t, `"a\"b"`, formatValue(value.String(`a"b`)))
	assert.Equal(t, "bytes(2) 0aff", formatValue(value.Bytes{0x0a, 0xff}))
	assert.Equal(t, `[1, "x", [true]]`, formatValue(value.Array{value.Int(1), value.String("x"), value.Array{value.Bool(true)}}))
}

func TestRunCall(t *testing.T) {
	path := writeModule(t, "add.wat", addWAT)

	out, err := execCmd(t, "run", path, "--call", "add", "-a", "2", "-a", "40")
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)

	out, err = execCmd(t, "run", path, "--call", "next", "--times", "3")
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n3\n", out, "one instance serves every repetition")

	out, err = execCmd(t, "run", path)
	require.NoError(t, err, "_start is the default entry point")
	assert.Empty(t, out)

	_, err = execCmd(t, "run", path, "--call", "missing")
	assert.Error(t, err)
}

func TestRunWASI(t *testing.T) {
	path := writeModule(t, "hello.wat", helloWAT)

	out, err := execCmd(t, "run", path, "--wasi")
	require.NoError(t, err)
	assert.Equal(t, "hi\n", out)

	_, err = execCmd(t, "run", path)
	assert.Error(t, err, "fd_write is unresolved without --wasi")
}

func TestRunConfigOverrides(t *testing.T) {
	path := writeModule(t, "add.wat", addWAT)
	_, err := execCmd(t, "run", path, "--call", "add", "-a", "1", "-a", "1", "-c", "epoch.enable=maybe")
	assert.Error(t, err)

	t.Setenv(envPrefix+"_EPOCH_ENABLE", "true")
	out, err := execCmd(t, "run", path, "--call", "add", "-a", "1", "-a", "1")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)
}

func TestInspect(t *testing.T) {
	path := writeModule(t, "add.wat", addWAT)

	out, err := execCmd(t, "inspect", path, "-o", "json")
	require.NoError(t, err)
	var got map[string][]map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got["exports"], 3)
	assert.Equal(t, "_start", got["exports"][0]["Name"])
	assert.Equal(t, "(i32, i32) -> (i32)", got["exports"][1]["Signature"])

	out, err = execCmd(t, "inspect", writeModule(t, "hello.wat", helloWAT), "--view", "imports", "-o", "csv", "--hide-header")
	require.NoError(t, err)
	assert.Contains(t, out, "wasi_snapshot_preview1,fd_write")

	out, err = execCmd(t, "inspect", writeModule(t, "hello.wat", helloWAT), "--view", "resources")
	require.NoError(t, err)
	assert.Contains(t, out, "memory pages")

	_, err = execCmd(t, "inspect", path, "--view", "nope")
	assert.Error(t, err)
	_, err = execCmd(t, "inspect", path, "-o", "yaml")
	assert.Error(t, err)
}

func TestCompileThenRun(t *testing.T) {
	path := writeModule(t, "add.wat", addWAT)
	artifact := filepath.Join(t.TempDir(), "add.wbpc")

	out, err := execCmd(t, "compile", path, "-o", artifact)
	require.NoError(t, err)
	assert.Contains(t, out, artifact)
	require.FileExists(t, artifact)

	out, err = execCmd(t, "run", artifact, "--call", "add", "-a", "3", "-a", "4")
	require.NoError(t, err)
	assert.Equal(t, "7\n", out)

	out, err = execCmd(t, "compile", "version")
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestSections(t *testing.T) {
	// module with one "meta" custom section holding "abc"
	bin := []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x00, 0x08, 0x04, 'm', 'e', 't', 'a', 'a', 'b', 'c',
	}
	path := filepath.Join(t.TempDir(), "meta.wasm")
	require.NoError(t, os.WriteFile(path, bin, 0o644))

	out, err := execCmd(t, "sections", path, "-o", "csv", "--hide-header")
	require.NoError(t, err)
	assert.Equal(t, "meta,1,3 B\n", out)

	assert.Equal(t, []section{{name: "a", count: 2, size: 3}, {name: "b", count: 1, size: 0}},
		summarizeSections(map[string][][]byte{"b": {nil}, "a": {{1}, {2, 3}}}))
}
