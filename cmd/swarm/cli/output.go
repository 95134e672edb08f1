// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
)

// MaxCellWidth is the widest a table cell renders before truncation.
const MaxCellWidth = 48

// Palette colors used across commands. Colors are dropped when the
// output writer is not a terminal.
var (
	ColorGood   = lipgloss.Color("2")
	ColorInfo   = lipgloss.Color("4")
	ColorWarn   = lipgloss.Color("3")
	ColorBad    = lipgloss.Color("1")
	ColorDimmed = lipgloss.Color("8")
)

const columnGutter = "  "

// Table renders aligned columns with a bold header.
type Table struct {
	renderer *lipgloss.Renderer
	headers  []string
	rows     [][]string
}

// ColorEnv overrides color detection: "always" or "never". Anything
// else follows the output's terminal capabilities.
const ColorEnv = "SWARM_COLOR"

// NewTable starts a table that will be written to w.
func NewTable(w io.Writer, headers ...string) *Table {
	renderer := lipgloss.NewRenderer(w)
	switch os.Getenv(ColorEnv) {
	case "always":
		renderer.SetColorProfile(termenv.ANSI256)
	case "never":
		renderer.SetColorProfile(termenv.Ascii)
	}
	return &Table{renderer: renderer, headers: headers}
}

// Row appends a row. Missing trailing cells render empty.
func (t *Table) Row(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Color renders text in color using the table's renderer.
func (t *Table) Color(text string, color lipgloss.Color) string {
	return t.renderer.NewStyle().Foreground(color).Render(text)
}

// Len is the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Render writes the table to w.
func (t *Table) Render(w io.Writer) error {
	widths := make([]int, len(t.headers))
	cell := func(row []string, column int) string {
		if column >= len(row) {
			return ""
		}
		return ansi.Truncate(row[column], MaxCellWidth, "…")
	}
	for column, header := range t.headers {
		widths[column] = lipgloss.Width(header)
		for _, row := range t.rows {
			widths[column] = max(widths[column], lipgloss.Width(cell(row, column)))
		}
	}

	header := t.renderer.NewStyle().Bold(true)
	var out strings.Builder
	line := func(cells []string, style func(string) string) {
		for column := range t.headers {
			text := cell(cells, column)
			if style != nil {
				text = style(text)
			}
			out.WriteString(text)
			if column < len(t.headers)-1 {
				out.WriteString(strings.Repeat(" ", widths[column]-lipgloss.Width(text)))
				out.WriteString(columnGutter)
			}
		}
		out.WriteByte('\n')
	}
	line(t.headers, func(s string) string { return header.Render(s) })
	for _, row := range t.rows {
		line(row, nil)
	}
	_, err := io.WriteString(w, out.String())
	return err
}

// WriteJSON writes value as indented JSON. A nil slice is written as
// [] rather than null.
func WriteJSON(w io.Writer, value any) error {
	if v := reflect.ValueOf(value); v.Kind() == reflect.Slice && v.IsNil() {
		value = reflect.MakeSlice(v.Type(), 0, 0).Interface()
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
