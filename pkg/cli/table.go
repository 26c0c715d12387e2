package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Table is column-aligned output with a dash divider under the headers.
// Headers are written on the first Row, so an empty table prints nothing
// unless an empty message is set.
type Table struct {
	w       *tabwriter.Writer
	out     io.Writer
	headers []string
	prefix  string
	empty   string
	written bool
}

// NewTable creates a table writing to out.
func NewTable(out io.Writer, headers ...string) *Table {
	return &Table{
		w:       tabwriter.NewWriter(out, 0, 0, 2, ' ', 0),
		out:     out,
		headers: headers,
	}
}

// WithPrefix sets a string prepended to each line.
func (t *Table) WithPrefix(prefix string) *Table {
	t.prefix = prefix
	return t
}

// WithEmpty sets a line printed by Flush when no rows were written.
func (t *Table) WithEmpty(msg string) *Table {
	t.empty = msg
	return t
}

// Row writes a row; values are formatted with %v.
func (t *Table) Row(values ...interface{}) {
	t.ensureHeaders()
	cells := make([]string, len(values))
	for i, v := range values {
		cells[i] = fmt.Sprint(v)
	}
	fmt.Fprintln(t.w, t.prefix+strings.Join(cells, "\t"))
}

// Flush writes buffered output.
func (t *Table) Flush() {
	if !t.written {
		if t.empty != "" {
			fmt.Fprintln(t.out, t.prefix+t.empty)
		}
		return
	}
	t.w.Flush()
}

func (t *Table) ensureHeaders() {
	if t.written {
		return
	}
	t.written = true
	fmt.Fprintln(t.w, t.prefix+strings.Join(t.headers, "\t"))
	dividers := make([]string, len(t.headers))
	for i, h := range t.headers {
		dividers[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(t.w, t.prefix+strings.Join(dividers, "\t"))
}
