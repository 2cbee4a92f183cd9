package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/wippyai/wasm-bridge/value"
	"github.com/wippyai/wasm-bridge/wasm"
)

// parseArg reads a command line argument as JSON: numbers, booleans, null,
// strings and arrays. Anything that is not JSON is taken as a plain string.
func parseArg(s string) value.Variant {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil || dec.More() {
		return value.String(s)
	}
	return fromJSON(x)
}

func fromJSON(x any) value.Variant {
	switch v := x.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return value.Int(n)
		}
		f, _ := v.Float64()
		return value.Float(f)
	case []any:
		return value.Array(lo.Map(v, func(e any, _ int) value.Variant { return fromJSON(e) }))
	}
	return value.Of(x)
}

// argForType converts user input typed into the interactive prompt for a
// parameter of type t.
func argForType(s string, t wasm.ValType) (value.Variant, error) {
	s = strings.TrimSpace(s)
	switch t {
	case wasm.ValI32, wasm.ValI64:
		if b, err := strconv.ParseBool(s); err == nil && !isDigits(s) {
			return value.Bool(b), nil
		}
		n, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", s)
		}
		return value.Int(n), nil
	case wasm.ValF32, wasm.ValF64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", s)
		}
		return value.Float(f), nil
	}
	return parseArg(s), nil
}

func isDigits(s string) bool {
	return s != "" && strings.Trim(s, "0123456789") == ""
}

// formatValue renders a result for the terminal.
func formatValue(v value.Variant) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case value.String:
		return strconv.Quote(string(x))
	case value.Bytes:
		return fmt.Sprintf("bytes(%d) %x", len(x), []byte(x))
	case value.Array:
		return "[" + strings.Join(lo.Map(x, func(e value.Variant, _ int) string { return formatValue(e) }), ", ") + "]"
	}
	return fmt.Sprint(v)
}

// readSource reads a module file. "-" reads standard input.
func readSource(path string) ([]byte, error) {
	if path == "-" {
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(os.Stdin); err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return buf.Bytes(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b, nil
}
