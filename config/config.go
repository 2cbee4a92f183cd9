package config

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"

	"github.com/wippyai/wasm-bridge/errors"
)

const (
	// DefaultEpochTimeout applies when epoch.timeout is unset.
	DefaultEpochTimeout = 5 * time.Second
	// DefaultMemoryExport is the memory export the accessor binds to.
	DefaultMemoryExport = "memory"

	minEpochTimeout = time.Millisecond
	pageSize        = 65536
)

// Config is the typed form of the instance configuration map.
type Config struct {
	Epoch  Epoch  `mapstructure:"epoch"`
	Memory Memory `mapstructure:"memory"`
	Table  Table  `mapstructure:"table"`
	WASI   WASI   `mapstructure:"wasi"`
	Extern Extern `mapstructure:"extern"`
}

type Epoch struct {
	Enable       bool          `mapstructure:"enable"`
	UseAutoreset bool          `mapstructure:"useAutoreset"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type Memory struct {
	// MaxGrowBytes bounds the bytes all linear memories of an instance may
	// allocate together, initial sizes and growth included. Nil means
	// unlimited.
	MaxGrowBytes *datasize.ByteSize `mapstructure:"maxGrowBytes"`
	ExportName   string             `mapstructure:"exportName"`
}

type Table struct {
	// MaxGrowEntries caps each table. Nil means unlimited.
	MaxGrowEntries *uint64 `mapstructure:"maxGrowEntries"`
}

type WASI struct {
	Enable bool `mapstructure:"enable"`
	// Context is the execution-context collaborator, typically a
	// *wasi.Context. It is kept untyped to avoid an import cycle.
	Context    any               `mapstructure:"context"`
	Args       []string          `mapstructure:"args"`
	Envs       map[string]string `mapstructure:"envs"`
	FSReadonly bool              `mapstructure:"fsReadonly"`
	Stdin      Stdio             `mapstructure:"stdin"`
	Stdout     Stdio             `mapstructure:"stdout"`
	Stderr     Stdio             `mapstructure:"stderr"`
}

type Stdio struct {
	BindMode   BindMode   `mapstructure:"bindMode"`
	BufferMode BufferMode `mapstructure:"bufferMode"`
	// InputData preloads stdin and closes it. Only meaningful for stdin
	// bound to the instance.
	InputData []byte `mapstructure:"inputData"`
}

type Extern struct {
	BindMode ExternMode `mapstructure:"bindMode"`
}

// Default returns the configuration used for an empty map.
func Default() Config {
	return Config{
		Epoch:  Epoch{Timeout: DefaultEpochTimeout},
		Memory: Memory{ExportName: DefaultMemoryExport},
		WASI: WASI{
			Stdin:  Stdio{BindMode: BindContext, BufferMode: BufferLine},
			Stdout: Stdio{BindMode: BindContext, BufferMode: BufferLine},
			Stderr: Stdio{BindMode: BindContext, BufferMode: BufferLine},
		},
	}
}

// MemoryBudget returns MaxGrowBytes in bytes if it is set.
func (c *Config) MemoryBudget() (uint64, bool) {
	if c.Memory.MaxGrowBytes == nil {
		return 0, false
	}
	return uint64(*c.Memory.MaxGrowBytes), true
}

// MemoryPageCap is the largest page count a single memory can reach under
// MaxGrowBytes, rounding down.
func (c *Config) MemoryPageCap() (uint64, bool) {
	if c.Memory.MaxGrowBytes == nil {
		return 0, false
	}
	return uint64(*c.Memory.MaxGrowBytes) / pageSize, true
}

// TableEntryCap returns the table cap if one is set.
func (c *Config) TableEntryCap() (uint64, bool) {
	if c.Table.MaxGrowEntries == nil {
		return 0, false
	}
	return *c.Table.MaxGrowEntries, true
}

// keys maps every recognized key to its canonical spelling. The canonical
// spelling wins when both it and an alias are present.
var keys = []struct {
	canonical string
	aliases   []string
}{
	{"epoch.enable", []string{"engine.use_epoch"}},
	{"epoch.useAutoreset", []string{"engine.epoch_autoreset"}},
	{"epoch.timeout", []string{"engine.epoch_timeout"}},
	{"memory.maxGrowBytes", []string{"engine.max_memory"}},
	{"memory.exportName", nil},
	{"table.maxGrowEntries", []string{"engine.max_entries"}},
	{"wasi.enable", []string{"engine.use_wasi"}},
	{"wasi.context", []string{"wasi.wasi_context"}},
	{"wasi.args", nil},
	{"wasi.envs", nil},
	{"wasi.fsReadonly", []string{"wasi.fs_readonly"}},
	{"wasi.stdin.bindMode", []string{"wasi.stdin"}},
	{"wasi.stdout.bindMode", []string{"wasi.stdout"}},
	{"wasi.stderr.bindMode", []string{"wasi.stderr"}},
	{"wasi.stdout.bufferMode", []string{"wasi.stdout_buffer"}},
	{"wasi.stderr.bufferMode", []string{"wasi.stderr_buffer"}},
	{"wasi.stdin.inputData", []string{"wasi.stdin_data"}},
	{"extern.bindMode", []string{"godot.extern_binding"}},
}

// leaves are values that stay whole even when given as nested maps.
var leaves = map[string]bool{
	"wasi.envs":         true,
	"wasi.context":      true,
	"wasi.wasi_context": true,
}

// Keys returns the canonical key names in declaration order.
func Keys() []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.canonical
	}
	return out
}

// Parse converts a configuration map into a Config. The map may be flat
// with dotted keys, nested, or a mix of both. Key lookup ignores case.
// Unrecognized keys are ignored; a value of the wrong type fails with an
// error naming the key as the caller spelled it.
func Parse(raw map[string]any) (Config, error) {
	cfg := Default()
	if len(raw) == 0 {
		return cfg, nil
	}

	flat := make(map[string]entry)
	flatten("", raw, flat)

	for _, k := range keys {
		e, ok := flat[strings.ToLower(k.canonical)]
		for _, alias := range k.aliases {
			if ok {
				break
			}
			e, ok = flat[strings.ToLower(alias)]
		}
		if !ok || e.value == nil {
			continue
		}
		if err := decodeKey(&cfg, k.canonical, e.value); err != nil {
			return Config{}, errors.InvalidConfig(e.name, err)
		}
	}

	if cfg.Epoch.Timeout < minEpochTimeout {
		cfg.Epoch.Timeout = minEpochTimeout
	}
	if cfg.Memory.ExportName == "" {
		cfg.Memory.ExportName = DefaultMemoryExport
	}
	return cfg, nil
}

type entry struct {
	name  string
	value any
}

func flatten(prefix string, m map[string]any, out map[string]entry) {
	for k, v := range m {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && !leaves[strings.ToLower(name)] {
			flatten(name, nested, out)
			continue
		}
		out[strings.ToLower(name)] = entry{name: name, value: v}
	}
}

// decodeKey decodes a single value into the field addressed by key.
func decodeKey(cfg *Config, key string, v any) error {
	parts := strings.Split(key, ".")
	var nested any = v
	for i := len(parts) - 1; i >= 0; i-- {
		nested = map[string]any{parts[i]: nested}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			durationHook,
			bytesHook,
			mapstructure.TextUnmarshallerHookFunc(),
		),
		Result:  cfg,
		TagName: "mapstructure",
	})
	if err != nil {
		return err
	}
	return dec.Decode(nested)
}

var (
	durationType = reflect.TypeOf(time.Duration(0))
	bytesType    = reflect.TypeOf([]byte(nil))
)

// durationHook reads numbers as seconds and strings as Go durations or
// plain seconds.
func durationHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType || from == durationType {
		return data, nil
	}
	rv := reflect.ValueOf(data)
	var d time.Duration
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		d = time.Duration(rv.Int()) * time.Second
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		d = time.Duration(rv.Uint()) * time.Second
	case reflect.Float32, reflect.Float64:
		d = time.Duration(rv.Float() * float64(time.Second))
	case reflect.String:
		s := rv.String()
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			d = time.Duration(f * float64(time.Second))
			break
		}
		var err error
		if d, err = time.ParseDuration(s); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("expected seconds or duration, got %T", data)
	}
	if d < 0 {
		return nil, fmt.Errorf("negative duration %s", d)
	}
	return d, nil
}

func bytesHook(from, to reflect.Type, data any) (any, error) {
	if to != bytesType || from.Kind() != reflect.String {
		return data, nil
	}
	return []byte(reflect.ValueOf(data).String()), nil
}

// Flatten renders cfg back into a flat canonical key map, omitting the
// execution context. Keys come out sorted.
func Flatten(cfg Config) ([]string, map[string]any) {
	out := map[string]any{
		"epoch.enable":           cfg.Epoch.Enable,
		"epoch.useAutoreset":     cfg.Epoch.UseAutoreset,
		"epoch.timeout":          cfg.Epoch.Timeout.Seconds(),
		"memory.exportName":      cfg.Memory.ExportName,
		"wasi.enable":            cfg.WASI.Enable,
		"wasi.args":              cfg.WASI.Args,
		"wasi.envs":              cfg.WASI.Envs,
		"wasi.fsReadonly":        cfg.WASI.FSReadonly,
		"wasi.stdin.bindMode":    cfg.WASI.Stdin.BindMode.String(),
		"wasi.stdout.bindMode":   cfg.WASI.Stdout.BindMode.String(),
		"wasi.stderr.bindMode":   cfg.WASI.Stderr.BindMode.String(),
		"wasi.stdout.bufferMode": cfg.WASI.Stdout.BufferMode.String(),
		"wasi.stderr.bufferMode": cfg.WASI.Stderr.BufferMode.String(),
		"extern.bindMode":        cfg.Extern.BindMode.String(),
	}
	if cfg.Memory.MaxGrowBytes != nil {
		out["memory.maxGrowBytes"] = uint64(*cfg.Memory.MaxGrowBytes)
	}
	if cfg.Table.MaxGrowEntries != nil {
		out["table.maxGrowEntries"] = *cfg.Table.MaxGrowEntries
	}
	names := make([]string, 0, len(out))
	for k := range out {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, out
}
