package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/pool"
	"github.com/wippyai/wasm-bridge/runtime"
	"github.com/wippyai/wasm-bridge/value"
	"github.com/wippyai/wasm-bridge/wasi"
)

var entryPoints = []string{"_start", "main", "run"}

type runOptions struct {
	module moduleOptions
	call   string
	args   []string
	mounts []string
	wasi   bool
	times  int
}

func newRunCmd(root *rootOptions) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <module> [flags] [-- guest-args...]",
		Short: "Instantiate a module and call one of its exports",
		Long: `Instantiate a module (binary, text or precompiled) and call an export.

Without --call the first of _start, main and run that the module exports is
called. Arguments given with --arg are read as JSON, so 42 is an int, 1.5 a
float, true a bool and [1,2] an array; anything else is a string.`,
		Example: `  wasmbridge run app.wasm --call add --arg 2 --arg 3
  wasmbridge run app.wat -c epoch.enable=true -c epoch.timeout=2s
  wasmbridge run cli.wasm --wasi --mount ./data:/data:ro -- input.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, root, args[0], args[1:])
		},
	}
	f := cmd.Flags()
	o.module.register(f)
	f.StringVar(&o.call, "call", "", "export to call")
	f.StringArrayVarP(&o.args, "arg", "a", nil, "call argument as JSON, repeatable")
	f.StringArrayVar(&o.mounts, "mount", nil, "expose host:guest[:ro] to WASI, repeatable")
	f.BoolVar(&o.wasi, "wasi", false, "enable WASI with the process's standard streams")
	f.IntVar(&o.times, "times", 1, "call the export this many times in sequence")
	return cmd
}

func (o *runOptions) run(cmd *cobra.Command, root *rootOptions, path string, guestArgs []string) error {
	ctx := cmd.Context()
	raw, err := root.rawConfig()
	if err != nil {
		return err
	}
	wctx, err := o.wasiContext(cmd)
	if err != nil {
		return err
	}
	if o.wasi || len(guestArgs) > 0 || len(o.mounts) > 0 {
		raw["wasi.enable"] = true
		raw["wasi.args"] = append([]string{path}, guestArgs...)
	}
	raw["wasi.context"] = wctx

	eng, err := engine.New(ctx, root.engineOptions()...)
	if err != nil {
		return err
	}
	defer eng.Close(context.WithoutCancel(ctx))

	mod, err := o.module.load(ctx, eng, path)
	if err != nil {
		return err
	}

	inst, err := runtime.New(eng).InstantiateMap(ctx, mod, nil, raw, runtime.WithEvents(events(cmd, root.log)))
	if err != nil {
		return err
	}
	defer inst.Close(context.WithoutCancel(ctx))

	name := o.call
	if name == "" {
		var ok bool
		name, ok = lo.Find(entryPoints, func(n string) bool {
			_, exported := mod.Export(n)
			return exported
		})
		if !ok {
			return fmt.Errorf("no entry point among %v; use --call", entryPoints)
		}
	}
	args := lo.Map(o.args, func(s string, _ int) value.Variant { return parseArg(s) })

	p, err := pool.New(1, pool.WithLogger(root.log.Named("pool")))
	if err != nil {
		return err
	}
	defer p.Close()
	q := p.Bind(inst)

	for n := 0; n < max(o.times, 1); n++ {
		r := <-q.Call(ctx, name, args...)
		if r.Err != nil {
			return exitStatus(r.Err)
		}
		if !value.IsNil(r.Value) {
			fmt.Fprintln(cmd.OutOrStdout(), formatValue(r.Value))
		}
	}
	return nil
}

func (o *runOptions) wasiContext(cmd *cobra.Command) (*wasi.Context, error) {
	mounts := make([]wasi.Mount, 0, len(o.mounts))
	for _, s := range o.mounts {
		host, guest, ro, err := parseMount(s)
		if err != nil {
			return nil, err
		}
		mounts = append(mounts, wasi.Mount{HostPath: host, GuestPath: guest, ReadOnly: ro})
	}
	wctx := wasi.NewContext(mounts...)
	wctx.Stdin = cmd.InOrStdin()
	wctx.Stdout = cmd.OutOrStdout()
	wctx.Stderr = cmd.ErrOrStderr()
	return wctx, nil
}

// events forwards instance-bound output to the command's streams.
func events(cmd *cobra.Command, log *zap.Logger) runtime.Events {
	write := func(w io.Writer) func(string) {
		return func(s string) { _, _ = io.WriteString(w, s) }
	}
	return runtime.Events{
		ErrorHappened: func(msg string) { log.Debug("guest error", zap.String("message", msg)) },
		StdoutEmit:    write(cmd.OutOrStdout()),
		StderrEmit:    write(cmd.ErrOrStderr()),
	}
}

// exitStatus treats a clean proc_exit(0) as success.
func exitStatus(err error) error {
	var exit *sys.ExitError
	if stderrors.As(err, &exit) && exit.ExitCode() == 0 {
		return nil
	}
	return err
}
