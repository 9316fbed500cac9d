package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

type docxParagraph struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Texts []docxText `xml:"t"`
	Tabs  []struct{} `xml:"tab"`
	Brs   []struct{} `xml:"br"`
}

type docxText struct {
	Value string `xml:",chardata"`
}

type docxTable struct {
	Rows []docxTableRow `xml:"tr"`
}

type docxTableRow struct {
	Cells []docxTableCell `xml:"tc"`
}

type docxTableCell struct {
	Paragraphs []docxParagraph `xml:"p"`
}

type docxCoreProps struct {
	Title string `xml:"title"`
}

// extractDOCX walks word/document.xml token by token so paragraphs and
// tables come out in source order; a struct decode of the body would lose
// the interleaving.
func extractDOCX(data []byte) ([]Unit, Meta, error) {
	meta := Meta{Format: FormatDOCX}

	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, meta, &ExtractionError{Format: FormatDOCX, Err: err}
	}

	meta.Title = readCoreTitle(archive)

	docXML, err := readArchiveFile(archive, "word/document.xml")
	if err != nil {
		return nil, meta, &ExtractionError{Format: FormatDOCX, Err: err}
	}

	var units []Unit
	var paragraphs []string

	flushParagraphs := func() {
		text := strings.TrimSpace(strings.Join(paragraphs, "\n\n"))
		if text != "" {
			units = append(units, Unit{Kind: UnitText, Content: text})
		}
		paragraphs = paragraphs[:0]
	}

	decoder := xml.NewDecoder(bytes.NewReader(docXML))
	depth := 0
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return units, meta, &ExtractionError{Format: FormatDOCX, Err: err}
		}

		switch el := tok.(type) {
		case xml.StartElement:
			// Only top-level body children; nested paragraphs belong to
			// their table cells.
			depth++
			if depth != 3 {
				continue
			}
			switch el.Name.Local {
			case "p":
				var p docxParagraph
				if err := decoder.DecodeElement(&p, &el); err != nil {
					return units, meta, &ExtractionError{Format: FormatDOCX, Err: err}
				}
				depth--
				if text := p.text(); text != "" {
					paragraphs = append(paragraphs, text)
				}
			case "tbl":
				var tbl docxTable
				if err := decoder.DecodeElement(&tbl, &el); err != nil {
					return units, meta, &ExtractionError{Format: FormatDOCX, Err: err}
				}
				depth--
				if table := tbl.grid(); table != nil {
					flushParagraphs()
					units = append(units, Unit{Kind: UnitTable, Content: table.Render(), Table: table})
				}
			}
		case xml.EndElement:
			depth--
		}
	}
	flushParagraphs()

	return units, meta, nil
}

func (p *docxParagraph) text() string {
	var b strings.Builder
	for _, r := range p.Runs {
		for _, t := range r.Texts {
			b.WriteString(t.Value)
		}
		for range r.Tabs {
			b.WriteString("\t")
		}
		for range r.Brs {
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func (t *docxTable) grid() *Table {
	var rows [][]string
	for _, tr := range t.Rows {
		var cells []string
		for _, tc := range tr.Cells {
			var parts []string
			for _, p := range tc.Paragraphs {
				if text := p.text(); text != "" {
					parts = append(parts, text)
				}
			}
			cells = append(cells, strings.Join(parts, " "))
		}
		if len(cells) > 0 {
			rows = append(rows, cells)
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return &Table{Header: rows[0], Rows: rows[1:]}
}

func readCoreTitle(archive *zip.Reader) string {
	props, err := readArchiveFile(archive, "docProps/core.xml")
	if err != nil {
		return ""
	}
	var core docxCoreProps
	if err := xml.Unmarshal(props, &core); err != nil {
		return ""
	}
	return strings.TrimSpace(core.Title)
}

func readArchiveFile(archive *zip.Reader, name string) ([]byte, error) {
	for _, f := range archive.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("missing %s", name)
}
