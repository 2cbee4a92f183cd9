package wasi

import (
	"context"
	"io"
	"sort"

	"github.com/samber/lo"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/multierr"

	"github.com/wippyai/wasm-bridge/config"
	"github.com/wippyai/wasm-bridge/errors"
)

// Namespaces served by Instantiate.
const (
	Preview1 = wasi_snapshot_preview1.ModuleName
	Unstable = "wasi_unstable"
)

// Sinks receive stdio routed to the instance.
type Sinks struct {
	Stdout       func(string)
	Stderr       func(string)
	StdinRequest func()
}

// Stdio holds the streams bound in instance mode. Unused fields are nil.
type Stdio struct {
	Stdin  *LineQueue
	Stdout *Writer
	Stderr *Writer
}

// Close flushes the output writers and ends stdin.
func (s *Stdio) Close() error {
	var err error
	if s.Stdout != nil {
		err = multierr.Append(err, s.Stdout.Close())
	}
	if s.Stderr != nil {
		err = multierr.Append(err, s.Stderr.Close())
	}
	if s.Stdin != nil {
		err = multierr.Append(err, s.Stdin.Close())
	}
	return err
}

// Configure applies the WASI settings to mc. wctx is required when any
// stream is bound in context mode or the context declares mounts.
func Configure(mc wazero.ModuleConfig, cfg config.WASI, wctx *Context, sinks Sinks) (wazero.ModuleConfig, *Stdio, error) {
	needsContext := cfg.Stdin.BindMode == config.BindContext ||
		cfg.Stdout.BindMode == config.BindContext ||
		cfg.Stderr.BindMode == config.BindContext
	if needsContext && wctx == nil {
		return nil, nil, errors.MissingCapability("wasi requested without an execution context")
	}

	if len(cfg.Args) > 0 {
		mc = mc.WithArgs(cfg.Args...)
	}
	keys := lo.Keys(cfg.Envs)
	sort.Strings(keys)
	for _, k := range keys {
		mc = mc.WithEnv(k, cfg.Envs[k])
	}
	mc = mc.WithSysWalltime().WithSysNanotime().WithSysNanosleep()

	stdio := &Stdio{}
	switch cfg.Stdin.BindMode {
	case config.BindContext:
		if wctx.Stdin != nil {
			mc = mc.WithStdin(wctx.Stdin)
		}
	case config.BindInstance:
		stdio.Stdin = NewLineQueue(sinks.StdinRequest)
		if cfg.Stdin.InputData != nil {
			stdio.Stdin.Preload(cfg.Stdin.InputData)
		}
		mc = mc.WithStdin(stdio.Stdin)
	}

	out, w := output(cfg.Stdout, wctx, sinks.Stdout, func(c *Context) io.Writer { return c.Stdout })
	stdio.Stdout = w
	if out != nil {
		mc = mc.WithStdout(out)
	}
	out, w = output(cfg.Stderr, wctx, sinks.Stderr, func(c *Context) io.Writer { return c.Stderr })
	stdio.Stderr = w
	if out != nil {
		mc = mc.WithStderr(out)
	}

	if wctx != nil && len(wctx.Mounts) > 0 {
		fsc := wazero.NewFSConfig()
		for _, m := range wctx.Mounts {
			if cfg.FSReadonly || m.ReadOnly {
				fsc = fsc.WithReadOnlyDirMount(m.HostPath, m.GuestPath)
			} else {
				fsc = fsc.WithDirMount(m.HostPath, m.GuestPath)
			}
		}
		mc = mc.WithFSConfig(fsc)
	}
	return mc, stdio, nil
}

func output(s config.Stdio, wctx *Context, emit func(string), pick func(*Context) io.Writer) (io.Writer, *Writer) {
	switch s.BindMode {
	case config.BindContext:
		return pick(wctx), nil
	case config.BindInstance:
		w := NewWriter(s.BufferMode, emit)
		return w, w
	}
	return nil, nil
}

// Instantiate adds the WASI host modules that imports names. Both
// namespaces are served by the preview1 implementation.
func Instantiate(ctx context.Context, r wazero.Runtime, imports []string) ([]api.Module, error) {
	var mods []api.Module
	for _, ns := range lo.Uniq(imports) {
		if ns != Preview1 && ns != Unstable {
			continue
		}
		builder := r.NewHostModuleBuilder(ns)
		wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)
		mod, err := builder.Instantiate(ctx)
		if err != nil {
			return nil, errors.Instantiation("instantiate "+ns, err)
		}
		mods = append(mods, mod)
	}
	return mods, nil
}
