package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/engine"
)

// precompiledExt is the default extension of serialized modules.
const precompiledExt = ".wbpc"

type compileOptions struct {
	module moduleOptions
	out    string
}

func newCompileCmd(root *rootOptions) *cobra.Command {
	o := &compileOptions{}
	cmd := &cobra.Command{
		Use:   "compile <module>",
		Short: "Validate a module and write a precompiled artifact",
		Long: `Compile a binary or text module and write a precompiled artifact. The
artifact loads without validation, but only in a build with the same engine
version and architecture.`,
		Example: `  wasmbridge compile app.wat
  wasmbridge compile app.wasm -o /var/cache/app.wbpc`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, root, args[0])
		},
	}
	o.module.register(cmd.Flags())
	cmd.Flags().StringVarP(&o.out, "out", "o", "", "artifact path (default: module path with "+precompiledExt+")")
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the engine version artifacts are pinned to",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), engine.EngineVersion())
		},
	})
	return cmd
}

func (o *compileOptions) run(cmd *cobra.Command, root *rootOptions, path string) error {
	ctx := cmd.Context()
	eng, err := engine.New(ctx, root.engineOptions()...)
	if err != nil {
		return err
	}
	defer eng.Close(ctx)

	mod, err := o.module.load(ctx, eng, path)
	if err != nil {
		return err
	}

	out := o.out
	if out == "" {
		if path == "-" {
			return fmt.Errorf("--out is required when reading stdin")
		}
		out = strings.TrimSuffix(path, filepath.Ext(path)) + precompiledExt
	}
	artifact := engine.Serialize(mod)
	if err := os.WriteFile(out, artifact, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	root.log.Info("wrote precompiled module",
		zap.String("path", out),
		zap.String("module", mod.ID()),
		zap.String("engine", engine.EngineVersion()))
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", out, datasize.ByteSize(len(artifact)).HumanReadable())
	return nil
}
