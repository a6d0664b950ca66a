package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/xuri/excelize/v2"

	"github.com/dharsanguruparan/LeadVault/internal/model"
)

// Format identifies the decoder used for an upload.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Row is one data row. Number is 1-based and excludes the header line.
type Row struct {
	Number int
	Values map[string]string
}

// Get returns the raw cell for column, or "" when the column is absent.
func (r Row) Get(column string) string {
	return r.Values[column]
}

// Table is the parsed upload.
type Table struct {
	Schema Schema
	Format Format
	Header []string
	Rows   []Row
}

// Parse decodes r as the declared kind. Every failure is a
// *model.MalformedFileError; no partial table is returned.
func Parse(r io.Reader, kind model.RecordKind, maxBytes int64) (*Table, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, &model.MalformedFileError{Reason: "unreadable file", Err: err}
	}
	if int64(len(data)) > maxBytes {
		return nil, &model.MalformedFileError{Reason: fmt.Sprintf("file exceeds %d bytes", maxBytes)}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &model.MalformedFileError{Reason: "file is empty"}
	}

	format, err := detectFormat(data)
	if err != nil {
		return nil, err
	}
	var records [][]string
	switch format {
	case FormatXLSX:
		records, err = readXLSX(data)
	default:
		records, err = readCSV(data)
	}
	if err != nil {
		return nil, err
	}
	return bind(SchemaFor(kind), format, records)
}

func detectFormat(data []byte) (Format, error) {
	mt := mimetype.Detect(data)
	if mt.Is(xlsxMIME) {
		return FormatXLSX, nil
	}
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			if !utf8.Valid(data) || strings.Contains(mt.String(), "utf-16") {
				return "", &model.MalformedFileError{Reason: "file is not UTF-8 encoded text"}
			}
			return FormatCSV, nil
		}
	}
	return "", &model.MalformedFileError{Reason: fmt.Sprintf("unsupported file type %s", mt.String())}
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, &model.MalformedFileError{Reason: "invalid CSV", Err: err}
	}
	return records, nil
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &model.MalformedFileError{Reason: "invalid spreadsheet", Err: err}
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &model.MalformedFileError{Reason: "spreadsheet has no sheets"}
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &model.MalformedFileError{Reason: "unreadable sheet " + sheets[0], Err: err}
	}
	return rows, nil
}

func bind(schema Schema, format Format, records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, &model.MalformedFileError{Reason: "missing header"}
	}
	header := make([]string, len(records[0]))
	seen := make(map[string]int, len(header))
	for i, h := range records[0] {
		name := strings.ToLower(strings.TrimSpace(h))
		if _, dup := seen[name]; dup && name != "" {
			return nil, &model.MalformedFileError{Reason: fmt.Sprintf("duplicate header column: %s", name)}
		}
		header[i] = name
		seen[name] = i
	}
	var missing []string
	for _, col := range schema.Columns {
		if _, ok := seen[col.Name]; col.Required && !ok {
			missing = append(missing, col.Name)
		}
	}
	if len(missing) > 0 {
		return nil, &model.MalformedFileError{Reason: "missing required header columns: " + strings.Join(missing, ", ")}
	}

	table := &Table{Schema: schema, Format: format, Header: header}
	for i, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		values := make(map[string]string, len(schema.Columns))
		for _, col := range schema.Columns {
			idx, ok := seen[col.Name]
			if ok && idx < len(rec) {
				values[col.Name] = rec[idx]
			}
		}
		table.Rows = append(table.Rows, Row{Number: i + 1, Values: values})
	}
	if len(table.Rows) == 0 {
		return nil, &model.MalformedFileError{Reason: "file has no data rows"}
	}
	return table, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// IsMalformed reports whether err aborts a whole batch.
func IsMalformed(err error) bool {
	var mf *model.MalformedFileError
	return errors.As(err, &mf)
}
