package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/wippyai/wasm-bridge/engine"
)

// moduleOptions select the module file and the dependencies it imports.
type moduleOptions struct {
	deps map[string]string
}

func (m *moduleOptions) register(fs *pflag.FlagSet) {
	fs.StringToStringVarP(&m.deps, "dep", "d", nil, "dependency module as import-name=path, repeatable")
}

// load compiles the module at path with its dependencies.
func (m *moduleOptions) load(ctx context.Context, eng *engine.Engine, path string) (*engine.Module, error) {
	sources := make(map[string]engine.Source, len(m.deps))
	for name, p := range m.deps {
		b, err := readSource(p)
		if err != nil {
			return nil, err
		}
		sources[name] = engine.Detect(b)
	}
	var deps map[string]*engine.Module
	if len(sources) > 0 {
		var err error
		deps, err = eng.CompileAll(ctx, sources)
		if err != nil {
			return nil, err
		}
	}

	b, err := readSource(path)
	if err != nil {
		return nil, err
	}
	mod, err := eng.Compile(ctx, engine.Detect(b), deps)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", path, err)
	}
	return mod, nil
}

// parseMount reads host:guest[:ro].
func parseMount(s string) (host, guest string, readOnly bool, err error) {
	parts := strings.Split(s, ":")
	switch {
	case len(parts) == 2:
	case len(parts) == 3 && parts[2] == "ro":
		readOnly = true
	default:
		return "", "", false, fmt.Errorf("mount %q: want host:guest or host:guest:ro", s)
	}
	if parts[0] == "" || parts[1] == "" {
		return "", "", false, fmt.Errorf("mount %q: empty path", s)
	}
	return parts[0], parts[1], readOnly, nil
}
