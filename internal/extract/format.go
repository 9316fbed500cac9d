package extract

import (
	"archive/zip"
	"bytes"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

type Format string

const (
	FormatPDF     Format = "pdf"
	FormatDOCX    Format = "docx"
	FormatTXT     Format = "txt"
	FormatCSV     Format = "csv"
	FormatUnknown Format = "unknown"
)

var (
	pdfMagic = []byte("%PDF-")
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0} // legacy .doc container, not supported
)

// DetectFormat picks the extraction strategy: magic bytes first, filename
// extension as a tiebreaker for text-like content.
func DetectFormat(data []byte, filename string) Format {
	if bytes.HasPrefix(data, pdfMagic) {
		return FormatPDF
	}
	if bytes.HasPrefix(data, zipMagic) {
		if isDOCXArchive(data) {
			return FormatDOCX
		}
		return FormatUnknown
	}
	if bytes.HasPrefix(data, oleMagic) {
		return FormatUnknown
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV
	case ".txt", ".text", ".md", ".log":
		return FormatTXT
	}

	if looksLikeText(data) {
		return FormatTXT
	}
	return FormatUnknown
}

func isDOCXArchive(data []byte) bool {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			return true
		}
	}
	return false
}

// looksLikeText accepts valid UTF-8 with no NUL bytes in the sniff window.
func looksLikeText(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	window := data
	if len(window) > 1024 {
		window = window[:1024]
	}
	if bytes.IndexByte(window, 0) != -1 {
		return false
	}
	// The window may end mid-rune; trim up to 3 trailing bytes before giving up.
	for i := 0; i < 4 && len(window) > 0; i++ {
		if utf8.Valid(window) {
			return true
		}
		window = window[:len(window)-1]
	}
	return false
}
