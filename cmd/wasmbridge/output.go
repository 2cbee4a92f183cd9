package main

import (
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type outputFormat string

const (
	tableFormat outputFormat = "table"
	csvFormat   outputFormat = "csv"
	jsonFormat  outputFormat = "json"
)

type outputOptions struct {
	format     string
	noStyle    bool
	hideHeader bool
}

func (o *outputOptions) flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("output", pflag.ContinueOnError)
	fs.StringVarP(&o.format, "output", "o", string(tableFormat), "output format: table, csv or json")
	fs.BoolVar(&o.noStyle, "no-style", false, "plain table without borders or colors")
	fs.BoolVar(&o.hideHeader, "hide-header", false, "omit the column headers")
	return fs
}

// column renders one field of T.
type column[T any] struct {
	table.ColumnConfig
	value func(T) any
}

var plainStyle = table.Style{
	Name:   "Plain",
	Box:    table.StyleBoxDefault,
	Color:  table.ColorOptionsDefault,
	Format: table.FormatOptionsDefault,
	HTML:   table.DefaultHTMLOptions,
	Options: table.Options{
		DrawBorder:      false,
		SeparateColumns: false,
	},
	Title: table.TitleOptionsDefault,
}

func render[T any](cmd *cobra.Command, title string, cols []column[T], o outputOptions, items []T) error {
	switch outputFormat(o.format) {
	case jsonFormat:
		rows := lo.Map(items, func(it T, _ int) map[string]any {
			row := make(map[string]any, len(cols))
			for _, c := range cols {
				row[c.Name] = c.value(it)
			}
			return row
		})
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{title: rows})
	case tableFormat, csvFormat:
	default:
		return fmt.Errorf("invalid output format %q", o.format)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.SetColumnConfigs(lo.Map(cols, func(c column[T], i int) table.ColumnConfig {
		cfg := c.ColumnConfig
		cfg.Number = i + 1
		return cfg
	}))
	if !o.hideHeader {
		tw.AppendHeader(lo.Map(cols, func(c column[T], _ int) any { return c.Name }))
	}
	tw.SetStyle(table.StyleLight)
	switch {
	case o.noStyle:
		tw.SetStyle(plainStyle)
	case outputFormat(o.format) == tableFormat:
		tw.SetTitle(title)
	}
	for _, it := range items {
		tw.AppendRow(lo.Map(cols, func(c column[T], _ int) any { return c.value(it) }))
	}

	if outputFormat(o.format) == csvFormat {
		tw.RenderCSV()
	} else {
		tw.Render()
	}
	return nil
}
