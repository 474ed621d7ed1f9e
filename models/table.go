package models

import "strings"

// Table is a header plus positional rows, read from and written back to CSV
// without reordering columns.
type Table struct {
	Header []string
	Rows   [][]string
}

// Column returns the index of the header cell named name, or -1. Matching
// ignores surrounding whitespace, case, and a leading byte order mark.
func (t *Table) Column(name string) int {
	want := normalizeHeader(name)
	for i, h := range t.Header {
		if normalizeHeader(h) == want {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of t.
func (t *Table) Clone() *Table {
	out := &Table{
		Header: append([]string(nil), t.Header...),
		Rows:   make([][]string, len(t.Rows)),
	}
	for i, row := range t.Rows {
		out.Rows[i] = append([]string(nil), row...)
	}
	return out
}

func normalizeHeader(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(s, "\ufeff")))
}
