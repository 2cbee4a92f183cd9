package main

import (
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/wasm"
)

const (
	viewExports   = "exports"
	viewImports   = "imports"
	viewResources = "resources"
)

type inspectOptions struct {
	module     moduleOptions
	output     outputOptions
	view       string
	transitive bool
}

var exportColumns = []column[wasm.FuncExport]{
	{ColumnConfig: table.ColumnConfig{Name: "Name"}, value: func(e wasm.FuncExport) any { return e.Name }},
	{ColumnConfig: table.ColumnConfig{Name: "Signature"}, value: func(e wasm.FuncExport) any { return e.Type.String() }},
}

// hostImport marks imports left for the host after linking dependencies.
type hostImport struct {
	wasm.FuncImport
	host bool
}

var importColumns = []column[hostImport]{
	{ColumnConfig: table.ColumnConfig{Name: "Module"}, value: func(i hostImport) any { return i.Module }},
	{ColumnConfig: table.ColumnConfig{Name: "Name"}, value: func(i hostImport) any { return i.Name }},
	{ColumnConfig: table.ColumnConfig{Name: "Signature"}, value: func(i hostImport) any { return i.Type.String() }},
	{ColumnConfig: table.ColumnConfig{Name: "Host", Align: text.AlignCenter}, value: func(i hostImport) any { return i.host }},
}

type resourceRow struct {
	kind    string
	count   int
	initial uint64
	max     string
}

var resourceColumns = []column[resourceRow]{
	{ColumnConfig: table.ColumnConfig{Name: "Kind"}, value: func(r resourceRow) any { return r.kind }},
	{ColumnConfig: table.ColumnConfig{Name: "Count", Align: text.AlignRight}, value: func(r resourceRow) any { return r.count }},
	{ColumnConfig: table.ColumnConfig{Name: "Initial", Align: text.AlignRight}, value: func(r resourceRow) any { return r.initial }},
	{ColumnConfig: table.ColumnConfig{Name: "Max", Align: text.AlignRight}, value: func(r resourceRow) any { return r.max }},
}

func newInspectCmd(root *rootOptions) *cobra.Command {
	o := &inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect <module>",
		Short: "List a module's exports, imports or resource requirements",
		Example: `  wasmbridge inspect app.wasm
  wasmbridge inspect app.wasm --view imports -d lib=lib.wasm
  wasmbridge inspect app.wasm --view resources --transitive -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, root, args[0])
		},
	}
	f := cmd.Flags()
	o.module.register(f)
	f.AddFlagSet(o.output.flags())
	f.StringVar(&o.view, "view", viewExports, "what to list: exports, imports or resources")
	f.BoolVar(&o.transitive, "transitive", false, "count resources of linked dependencies too")
	return cmd
}

func (o *inspectOptions) run(cmd *cobra.Command, root *rootOptions, path string) error {
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

	switch o.view {
	case viewExports:
		exports := append([]wasm.FuncExport(nil), mod.Exports()...)
		sort.Slice(exports, func(i, j int) bool { return exports[i].Name < exports[j].Name })
		return render(cmd, viewExports, exportColumns, o.output, exports)
	case viewImports:
		return render(cmd, viewImports, importColumns, o.output, importRows(mod))
	case viewResources:
		r := mod.Resources()
		if o.transitive {
			r = mod.TransitiveResources()
		}
		return render(cmd, viewResources, resourceColumns, o.output, resourceRows(r))
	}
	return fmt.Errorf("invalid view %q", o.view)
}

func importRows(mod *engine.Module) []hostImport {
	host := lo.Associate(mod.HostImports(), func(i wasm.FuncImport) (string, bool) {
		return i.Module + "." + i.Name, true
	})
	return lo.Map(mod.Imports(), func(i wasm.FuncImport, _ int) hostImport {
		return hostImport{FuncImport: i, host: host[i.Module+"."+i.Name]}
	})
}

func resourceRows(r engine.Resources) []resourceRow {
	limit := func(bounded bool, n uint64) string {
		if !bounded {
			return "none"
		}
		return fmt.Sprint(n)
	}
	return []resourceRow{
		{kind: "memory pages", count: r.Memories, initial: r.InitialPages, max: limit(r.PagesBounded, r.MaxPages)},
		{kind: "table entries", count: r.Tables, initial: r.InitialEntries, max: limit(r.EntriesBounded, r.MaxEntries)},
	}
}
