package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const csvFilePerms = 0o644

// WriteCSV serializes the table to path as comma-separated values with a
// header row and no index column. The file is created or truncated.
func (t *Table) WriteCSV(path string) error {
	// #nosec G304 -- staging path is supplied by the caller
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, csvFilePerms)
	if err != nil {
		return fmt.Errorf("creating csv file: %w", err)
	}
	if err := t.Encode(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing csv file: %w", err)
	}
	return nil
}

// Encode writes the table as CSV to w. Missing values become empty fields.
func (t *Table) Encode(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.columns); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	record := make([]string, len(t.columns))
	for _, row := range t.rows {
		for i, v := range row {
			record[i] = FormatValue(v)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}

// FormatValue renders a cell the way it appears in CSV output.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "True"
		}
		return "False"
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// ReadCSV reads a CSV file whose first record is the header. Files ending in
// .tsv are read tab-delimited.
func ReadCSV(path string) (*Table, error) {
	// #nosec G304 -- input path is supplied by the caller
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening csv file: %w", err)
	}
	defer func() { _ = f.Close() }()

	delim := ','
	if strings.HasSuffix(strings.ToLower(path), ".tsv") {
		delim = '\t'
	}
	return Decode(f, delim)
}

// Decode reads delimited records from r. Empty cells are missing; every other
// cell is kept as a string.
func Decode(r io.Reader, delim rune) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("csv input is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}

	t, err := New(header...)
	if err != nil {
		return nil, err
	}

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv row %d: %w", t.Len()+1, err)
		}
		row := make([]any, len(record))
		for i, cell := range record {
			if cell == "" {
				row[i] = nil
				continue
			}
			row[i] = cell
		}
		if err := t.AddRow(row...); err != nil {
			return nil, fmt.Errorf("csv row %d: %w", t.Len()+1, err)
		}
	}
	return t, nil
}
