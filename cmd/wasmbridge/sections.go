package main

import (
	"sort"

	"github.com/c2h5oh/datasize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-bridge/engine"
)

type section struct {
	name  string
	count int
	size  datasize.ByteSize
}

var sectionColumns = []column[section]{
	{ColumnConfig: table.ColumnConfig{Name: "Name"}, value: func(s section) any { return s.name }},
	{ColumnConfig: table.ColumnConfig{Name: "Count", Align: text.AlignRight}, value: func(s section) any { return s.count }},
	{ColumnConfig: table.ColumnConfig{Name: "Size", Align: text.AlignRight}, value: func(s section) any { return s.size.HumanReadable() }},
}

type sectionsOptions struct {
	module moduleOptions
	output outputOptions
}

func newSectionsCmd(root *rootOptions) *cobra.Command {
	o := &sectionsOptions{}
	cmd := &cobra.Command{
		Use:   "sections <module>",
		Short: "List a module's custom sections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := engine.New(ctx, root.engineOptions()...)
			if err != nil {
				return err
			}
			defer eng.Close(ctx)

			mod, err := o.module.load(ctx, eng, args[0])
			if err != nil {
				return err
			}
			custom, err := mod.CustomSections()
			if err != nil {
				return err
			}
			return render(cmd, "sections", sectionColumns, o.output, summarizeSections(custom))
		},
	}
	o.module.register(cmd.Flags())
	cmd.Flags().AddFlagSet(o.output.flags())
	return cmd
}

func summarizeSections(custom map[string][][]byte) []section {
	out := lo.MapToSlice(custom, func(name string, payloads [][]byte) section {
		size := lo.SumBy(payloads, func(p []byte) int { return len(p) })
		return section{name: name, count: len(payloads), size: datasize.ByteSize(size)}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}
