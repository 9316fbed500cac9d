package extract

import (
	"bytes"
	"encoding/csv"
	"strings"
)

func extractTXT(data []byte) ([]Unit, Meta, error) {
	meta := Meta{Format: FormatTXT}

	text := strings.TrimSpace(normalizeNewlines(string(data)))
	if text == "" {
		return nil, meta, nil
	}
	return []Unit{{Kind: UnitText, Content: text}}, meta, nil
}

// extractCSV treats the whole file as one table: first record is the header,
// everything after it is data rows. Ragged rows and stray quotes are
// tolerated; spreadsheets exported by hand are rarely strict.
func extractCSV(data []byte) ([]Unit, Meta, error) {
	meta := Meta{Format: FormatCSV}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, meta, &ExtractionError{Format: FormatCSV, Err: err}
	}
	if len(records) == 0 {
		return nil, meta, nil
	}

	table := &Table{Header: trimRecord(records[0])}
	for _, rec := range records[1:] {
		table.Rows = append(table.Rows, trimRecord(rec))
	}

	return []Unit{{Kind: UnitTable, Content: table.Render(), Table: table}}, meta, nil
}

func trimRecord(rec []string) []string {
	out := make([]string, len(rec))
	for i, f := range rec {
		out[i] = strings.TrimSpace(f)
	}
	return out
}
