package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/dharsanguruparan/LeadVault/internal/tabular"
)

// ReportHeader is the fixed prefix of every error report; the input schema's
// columns follow in declaration order.
var ReportHeader = []string{"row", "error_columns", "error_message"}

// buildReport writes one CSV line per failed input row: its number, the
// failing columns, the messages, then the original cells.
func buildReport(schema tabular.Schema, failures []failedRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	names := schema.Names()
	if err := w.Write(append(append([]string{}, ReportHeader...), names...)); err != nil {
		return nil, fmt.Errorf("write report header: %w", err)
	}
	for _, f := range failures {
		var columns, messages []string
		for _, e := range f.errs {
			if e.Column != "" && !contains(columns, e.Column) {
				columns = append(columns, e.Column)
			}
			if e.Column != "" {
				messages = append(messages, e.Column+" "+e.Message)
			} else {
				messages = append(messages, e.Message)
			}
		}
		line := []string{strconv.Itoa(f.row.Number), strings.Join(columns, ";"), strings.Join(messages, "; ")}
		for _, name := range names {
			line = append(line, f.row.Get(name))
		}
		if err := w.Write(line); err != nil {
			return nil, fmt.Errorf("write report row %d: %w", f.row.Number, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush report: %w", err)
	}
	return buf.Bytes(), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
