package extract

import (
	"context"
	"strings"
)

type UnitKind string

const (
	UnitText  UnitKind = "text"
	UnitTable UnitKind = "table"
)

// Table is a row/column grid lifted out of a document. The first record of a
// CSV file and the first row of a detected grid become the header.
type Table struct {
	Header []string
	Rows   [][]string
}

// Render flattens the grid into embeddable text, one comma-joined line per
// row with the header first.
func (t *Table) Render() string {
	var b strings.Builder
	if len(t.Header) > 0 {
		b.WriteString(strings.Join(t.Header, ", "))
	}
	for _, row := range t.Rows {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strings.Join(row, ", "))
	}
	return b.String()
}

// Unit is one extracted block in source order: a prose passage or a table.
// Start/End are char offsets into the document's normalized text (the
// concatenation of all unit contents, assigned by the extractor).
type Unit struct {
	Kind     UnitKind
	Content  string
	Table    *Table
	Page     int // 1-based; 0 for formats without pages
	Start    int
	End      int
	OCR      bool
	Warnings []string
}

// Meta describes a whole extraction pass. It is computed as a side effect of
// extraction and carries no behavior.
type Meta struct {
	Format     Format
	Title      string
	PageCount  int
	WordCount  int
	TableCount int
	OCRUsed    bool
	OCRPages   []int
	Warnings   []string
}

// OCR is the external recognition capability. Implementations receive the
// original file bytes plus a 1-based page number and return plain text.
type OCR interface {
	RecognizeText(ctx context.Context, file []byte, page int) (string, error)
}

type Extractor struct {
	ocr      OCR
	minChars int
}

// New builds an extractor. ocr may be nil, in which case sparse pages degrade
// to empty text with a warning instead of being recognized. minChars is the
// per-page character count under which the text layer is considered too
// sparse to trust.
func New(ocr OCR, minChars int) *Extractor {
	return &Extractor{ocr: ocr, minChars: minChars}
}

// Extract detects the format from magic bytes (falling back to the filename
// extension), runs the matching extraction strategy and returns the ordered
// units plus document metadata. A partial failure returns the units that did
// succeed alongside an *ExtractionError.
func (e *Extractor) Extract(ctx context.Context, data []byte, filename string) ([]Unit, Meta, error) {
	format := DetectFormat(data, filename)

	var (
		units []Unit
		meta  Meta
		err   error
	)

	switch format {
	case FormatPDF:
		units, meta, err = e.extractPDF(ctx, data)
	case FormatDOCX:
		units, meta, err = extractDOCX(data)
	case FormatTXT:
		units, meta, err = extractTXT(data)
	case FormatCSV:
		units, meta, err = extractCSV(data)
	default:
		return nil, Meta{Format: format}, &UnsupportedFormatError{Filename: filename}
	}

	assignOffsets(units)
	finishMeta(&meta, units)
	return units, meta, err
}

// assignOffsets lays the units out over the document's normalized text so
// chunk locators can point back into it. Unit contents are contiguous: each
// unit starts where the previous one ended.
func assignOffsets(units []Unit) {
	offset := 0
	for i := range units {
		units[i].Start = offset
		offset += len(units[i].Content)
		units[i].End = offset
	}
}

func finishMeta(meta *Meta, units []Unit) {
	words := 0
	tables := 0
	for i := range units {
		words += len(strings.Fields(units[i].Content))
		if units[i].Kind == UnitTable {
			tables++
		}
		meta.Warnings = append(meta.Warnings, units[i].Warnings...)
	}
	meta.WordCount = words
	meta.TableCount = tables
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
