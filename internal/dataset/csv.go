package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseCSV reads a delimited file whose first line is the header. Structural
// problems are reported as ErrInvalidFile with a specific message.
func ParseCSV(data []byte) ([]string, []Record, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("%w: file is empty", ErrInvalidFile)
	}
	if err != nil {
		return nil, nil, parseError(err)
	}

	columns := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			return nil, nil, fmt.Errorf("%w: header column %d is empty", ErrInvalidFile, i+1)
		}
		if seen[name] {
			return nil, nil, fmt.Errorf("%w: duplicate header %q", ErrInvalidFile, name)
		}
		seen[name] = true
		columns[i] = name
	}

	var rows []Record
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, parseError(err)
		}
		// Cell values are kept verbatim; only header names are trimmed.
		rec := make(Record, len(columns))
		for i, c := range columns {
			rec[c] = fields[i]
		}
		rows = append(rows, rec)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("%w: file has no data rows", ErrInvalidFile)
	}
	return columns, rows, nil
}

func parseError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		if errors.Is(pe.Err, csv.ErrFieldCount) {
			return fmt.Errorf("%w: line %d does not match the header column count", ErrInvalidFile, pe.Line)
		}
		return fmt.Errorf("%w: line %d: %v", ErrInvalidFile, pe.Line, pe.Err)
	}
	return fmt.Errorf("%w: %v", ErrInvalidFile, err)
}

// WriteCSV writes columns and rows with every field quoted.
func WriteCSV(w io.Writer, columns []string, rows []Record) error {
	var buf bytes.Buffer
	writeLine(&buf, columns)
	line := make([]string, len(columns))
	for _, rec := range rows {
		for i, c := range columns {
			line[i] = String(rec[c])
		}
		writeLine(&buf, line)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func writeLine(buf *bytes.Buffer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strings.ReplaceAll(f, `"`, `""`))
		buf.WriteByte('"')
	}
	buf.WriteString("\r\n")
}
