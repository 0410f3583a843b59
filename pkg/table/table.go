// Package table provides the in-memory tabular structure that crowdsourcing
// results are held in before they are registered as a dataset version.
package table

import (
	"errors"
	"fmt"
)

// ErrUnknownColumn is returned when a column lookup names a column the table does not have.
var ErrUnknownColumn = errors.New("unknown column")

// Table holds named columns and rows in insertion order.
// A nil cell is a missing value.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]any
}

// New creates an empty table with the given column names.
func New(columns ...string) (*Table, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		index[c] = i
	}
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{columns: cols, index: index}, nil
}

// FromColumns builds a table from column-oriented data. All columns must have
// the same length. Column order follows names.
func FromColumns(names []string, data map[string][]any) (*Table, error) {
	t, err := New(names...)
	if err != nil {
		return nil, err
	}
	n := -1
	for _, name := range names {
		vals, ok := data[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
		}
		if n >= 0 && len(vals) != n {
			return nil, fmt.Errorf("column %q has %d values, want %d", name, len(vals), n)
		}
		n = len(vals)
	}
	for i := 0; i < n; i++ {
		row := make([]any, len(names))
		for j, name := range names {
			row[j] = data[name][i]
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

// AddRow appends a row. The number of values must match the number of columns.
func (t *Table) AddRow(values ...any) error {
	if len(values) != len(t.columns) {
		return fmt.Errorf("row has %d values, table has %d columns", len(values), len(t.columns))
	}
	row := make([]any, len(values))
	copy(row, values)
	t.rows = append(t.rows, row)
	return nil
}

// Columns returns a copy of the column names.
func (t *Table) Columns() []string {
	cols := make([]string, len(t.columns))
	copy(cols, t.columns)
	return cols
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// HasColumn reports whether the table has a column with the given name.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns the values of a column in row order.
func (t *Table) Column(name string) ([]any, error) {
	i, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
	}
	vals := make([]any, len(t.rows))
	for r, row := range t.rows {
		vals[r] = row[i]
	}
	return vals, nil
}

// Row returns a copy of row i.
func (t *Table) Row(i int) []any {
	row := make([]any, len(t.rows[i]))
	copy(row, t.rows[i])
	return row
}

// Value returns the cell at the given row and column.
func (t *Table) Value(row int, column string) (any, error) {
	i, ok := t.index[column]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, column)
	}
	if row < 0 || row >= len(t.rows) {
		return nil, fmt.Errorf("row %d out of range [0,%d)", row, len(t.rows))
	}
	return t.rows[row][i], nil
}

// IsMissing reports whether v is a missing cell. A cell is missing exactly
// when it is nil; there is no other marker.
func IsMissing(v any) bool {
	return v == nil
}
