package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
)

// textSpan is one positioned fragment of a PDF text row, the input to the
// table detector.
type textSpan struct {
	X, W float64
	S    string
}

// cellGap is the horizontal distance (in points) between two spans that
// starts a new cell instead of continuing the current one. Roughly three
// character widths at common body font sizes.
const cellGap = 14.0

// minTableRows is how many consecutive multi-cell rows it takes before a
// block is treated as a table rather than oddly spaced prose.
const minTableRows = 3

func (e *Extractor) extractPDF(ctx context.Context, data []byte) ([]Unit, Meta, error) {
	meta := Meta{Format: FormatPDF}

	reader, err := openPDF(data)
	if err != nil {
		return nil, meta, &ExtractionError{Format: FormatPDF, Err: err}
	}

	total := reader.NumPage()
	meta.PageCount = total

	var units []Unit
	var failedPages []int
	var firstErr error

	for num := 1; num <= total; num++ {
		spans, text, err := readPage(reader, num)
		if err != nil {
			slog.WarnContext(ctx, "pdf page unreadable", "page", num, "error", err)
			failedPages = append(failedPages, num)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if pageCharCount(spans, text) < e.minChars {
			units = append(units, e.recognizePage(ctx, data, num, &meta))
			continue
		}

		units = append(units, buildPageUnits(spans, text, num)...)
	}

	if len(failedPages) > 0 {
		return units, meta, &ExtractionError{Format: FormatPDF, Pages: failedPages, Err: firstErr}
	}
	return units, meta, nil
}

// openPDF wraps the parser, which panics on malformed cross-reference tables
// instead of returning an error.
func openPDF(data []byte) (r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed pdf: %v", rec)
		}
	}()
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

// readPage pulls both row geometry (for table detection) and plain text (as
// a fallback when geometry is unavailable) from one page. The parser panics
// on some damaged content streams, so both calls run behind a recover.
func readPage(reader *pdf.Reader, num int) (rows [][]textSpan, plain string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			rows, plain = nil, ""
			err = fmt.Errorf("damaged content stream: %v", rec)
		}
	}()

	page := reader.Page(num)
	if page.V.IsNull() {
		return nil, "", fmt.Errorf("page %d has no content", num)
	}

	if pdfRows, rowErr := page.GetTextByRow(); rowErr == nil {
		for _, row := range pdfRows {
			var spans []textSpan
			for _, t := range row.Content {
				spans = append(spans, textSpan{X: t.X, W: t.W, S: t.S})
			}
			if len(spans) > 0 {
				rows = append(rows, spans)
			}
		}
		return rows, "", nil
	}

	plain, err = page.GetPlainText(nil)
	if err != nil {
		return nil, "", err
	}
	return nil, plain, nil
}

func pageCharCount(rows [][]textSpan, plain string) int {
	if len(rows) == 0 {
		return len(strings.TrimSpace(plain))
	}
	n := 0
	for _, row := range rows {
		for _, s := range row {
			n += len(strings.TrimSpace(s.S))
		}
	}
	return n
}

// recognizePage routes a sparse page through OCR. Any failure degrades to an
// empty unit with a warning; a single scanned page never fails the document.
func (e *Extractor) recognizePage(ctx context.Context, data []byte, num int, meta *Meta) Unit {
	unit := Unit{Kind: UnitText, Page: num}

	if e.ocr == nil {
		unit.Warnings = append(unit.Warnings,
			fmt.Sprintf("page %d below text threshold and no OCR engine configured", num))
		return unit
	}

	text, err := e.ocr.RecognizeText(ctx, data, num)
	if err != nil {
		slog.WarnContext(ctx, "ocr failed, degrading page to empty text", "page", num, "error", err)
		unit.Warnings = append(unit.Warnings, fmt.Sprintf("page %d ocr failed: %v", num, err))
		return unit
	}

	unit.Content = normalizeNewlines(text)
	unit.OCR = true
	meta.OCRUsed = true
	meta.OCRPages = append(meta.OCRPages, num)
	return unit
}

// buildPageUnits turns one page's rows into alternating prose and table
// units, preserving source order. Pages read via the plain-text fallback
// become a single prose unit.
func buildPageUnits(rows [][]textSpan, plain string, page int) []Unit {
	if len(rows) == 0 {
		text := strings.TrimSpace(normalizeNewlines(plain))
		if text == "" {
			return nil
		}
		return []Unit{{Kind: UnitText, Content: text, Page: page}}
	}

	cellRows := make([][]string, len(rows))
	for i, row := range rows {
		cellRows[i] = splitRowCells(row)
	}

	var units []Unit
	var prose []string

	flushProse := func() {
		text := strings.TrimSpace(strings.Join(prose, "\n"))
		if text != "" {
			units = append(units, Unit{Kind: UnitText, Content: text, Page: page})
		}
		prose = prose[:0]
	}

	for i := 0; i < len(cellRows); {
		run := tableRunLength(cellRows[i:])
		if run >= minTableRows {
			flushProse()
			table := &Table{Header: cellRows[i], Rows: cellRows[i+1 : i+run]}
			units = append(units, Unit{Kind: UnitTable, Content: table.Render(), Table: table, Page: page})
			i += run
			continue
		}
		prose = append(prose, strings.Join(cellRows[i], " "))
		i++
	}
	flushProse()

	return units
}

// splitRowCells groups a row's spans into cells wherever the horizontal gap
// between one span's right edge and the next span's left edge exceeds
// cellGap.
func splitRowCells(row []textSpan) []string {
	var cells []string
	var cell strings.Builder
	var rightEdge float64

	for i, span := range row {
		if i > 0 && span.X-rightEdge > cellGap {
			cells = append(cells, strings.TrimSpace(cell.String()))
			cell.Reset()
		}
		cell.WriteString(span.S)
		rightEdge = span.X + span.W
	}
	if cell.Len() > 0 {
		cells = append(cells, strings.TrimSpace(cell.String()))
	}
	return cells
}

// tableRunLength counts how many leading rows look like rows of the same
// table: at least two cells each, with column counts within one of the first
// row's.
func tableRunLength(rows [][]string) int {
	if len(rows) == 0 || len(rows[0]) < 2 {
		return 0
	}
	width := len(rows[0])
	run := 0
	for _, row := range rows {
		if len(row) < 2 || row[0] == "" {
			break
		}
		if len(row) > width+1 || len(row) < width-1 {
			break
		}
		run++
	}
	return run
}
