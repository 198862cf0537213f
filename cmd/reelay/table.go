package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// column describes one table column. Numeric columns set right so counts and
// indices line up.
type column struct {
	title string
	right bool
}

// tablePrinter accumulates rows and renders them in the CLI's house style.
type tablePrinter struct {
	writer table.Writer
	width  int
}

func newTable(cols ...column) *tablePrinter {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(cols))
	configs := make([]table.ColumnConfig, len(cols))
	for i, col := range cols {
		header[i] = col.title
		align := text.AlignLeft
		if col.right {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	return &tablePrinter{writer: tw, width: len(cols)}
}

func (p *tablePrinter) addRow(cells ...string) {
	row := make(table.Row, p.width)
	for i := range row {
		if i < len(cells) {
			row[i] = cells[i]
		} else {
			row[i] = ""
		}
	}
	p.writer.AppendRow(row)
}

func (p *tablePrinter) empty() bool {
	return p.writer.Length() == 0
}

func (p *tablePrinter) render() string {
	return p.writer.Render()
}
