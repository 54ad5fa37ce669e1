package model

import "strings"

// Table is a raw tabular input: a header row and string cells
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
	index  map[string]int
}

// NewTable creates a table and indexes its header. Header cells are trimmed;
// the first occurrence of a repeated column name wins.
func NewTable(name string, header []string, rows [][]string) *Table {
	t := &Table{Name: name, Header: make([]string, len(header)), Rows: rows}
	t.index = make(map[string]int, len(header))
	for i, col := range header {
		col = strings.TrimSpace(col)
		t.Header[i] = col
		if _, exists := t.index[col]; !exists {
			t.index[col] = i
		}
	}
	return t
}

// Index returns the position of a column, or -1 when absent
func (t *Table) Index(column string) int {
	if i, ok := t.index[column]; ok {
		return i
	}
	return -1
}

// Has reports whether the column is present
func (t *Table) Has(column string) bool {
	return t.Index(column) >= 0
}

// Require returns a MissingColumnError for the first absent column
func (t *Table) Require(columns ...string) error {
	for _, col := range columns {
		if !t.Has(col) {
			return &MissingColumnError{Input: t.Name, Column: col}
		}
	}
	return nil
}

// Cell returns the trimmed value of column in row, or "" when out of range
func (t *Table) Cell(row []string, column string) string {
	i := t.Index(column)
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// Len returns the number of data rows
func (t *Table) Len() int {
	return len(t.Rows)
}
