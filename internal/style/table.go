package style

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Column defines a table column.
type Column struct {
	Name  string
	Width int
	Align Alignment
	Style lipgloss.Style
}

// Alignment specifies column text alignment.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// Table renders fixed-width rows for status output.
type Table struct {
	columns   []Column
	rows      [][]string
	headerSep bool
	indent    string
}

// NewTable creates a table with a header separator and a two-space indent.
func NewTable(columns ...Column) *Table {
	return &Table{
		columns:   columns,
		headerSep: true,
		indent:    "  ",
	}
}

// SetIndent sets the left indent.
func (t *Table) SetIndent(indent string) *Table {
	t.indent = indent
	return t
}

// SetHeaderSeparator enables or disables the line under the header.
func (t *Table) SetHeaderSeparator(enabled bool) *Table {
	t.headerSep = enabled
	return t
}

// AddRow adds a row, padding missing trailing cells with "".
func (t *Table) AddRow(values ...string) *Table {
	for len(values) < len(t.columns) {
		values = append(values, "")
	}
	t.rows = append(t.rows, values)
	return t
}

// Render returns the formatted table.
func (t *Table) Render() string {
	if len(t.columns) == 0 {
		return ""
	}

	var sb strings.Builder

	header := make([]string, len(t.columns))
	for i, col := range t.columns {
		header[i] = pad(Bold.Render(col.Name), col.Width, col.Align)
	}
	sb.WriteString(t.indent + strings.Join(header, " ") + "\n")

	if t.headerSep {
		total := len(t.columns) - 1
		for _, col := range t.columns {
			total += col.Width
		}
		sb.WriteString(t.indent + Dim.Render(strings.Repeat("─", total)) + "\n")
	}

	for _, row := range t.rows {
		cells := make([]string, len(t.columns))
		for i, col := range t.columns {
			val := row[i]
			if ansi.StringWidth(val) > col.Width {
				val = ansi.Truncate(ansi.Strip(val), col.Width, "...")
			}
			if col.Style.Value() != "" || col.Style.GetBold() {
				val = col.Style.Render(val)
			}
			cells[i] = pad(val, col.Width, col.Align)
		}
		sb.WriteString(t.indent + strings.Join(cells, " ") + "\n")
	}

	return sb.String()
}

// pad pads styled text to width by its printable width.
func pad(text string, width int, align Alignment) string {
	w := ansi.StringWidth(text)
	if w >= width {
		return text
	}
	if align == AlignRight {
		return strings.Repeat(" ", width-w) + text
	}
	return text + strings.Repeat(" ", width-w)
}
