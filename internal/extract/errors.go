package extract

import (
	"errors"
	"fmt"
)

var ErrUnsupportedFormat = errors.New("unsupported document format")

// UnsupportedFormatError is fatal: the document can never be processed and a
// retry will not help.
type UnsupportedFormatError struct {
	Filename string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported document format: %s", e.Filename)
}

func (e *UnsupportedFormatError) Unwrap() error { return ErrUnsupportedFormat }

// ExtractionError reports a corrupted or partially unreadable document. Pages
// lists the page numbers that failed when that is known; callers that still
// received units may proceed with them and flag the document degraded.
type ExtractionError struct {
	Format Format
	Pages  []int
	Err    error
}

func (e *ExtractionError) Error() string {
	if len(e.Pages) > 0 {
		return fmt.Sprintf("%s extraction failed on pages %v: %v", e.Format, e.Pages, e.Err)
	}
	return fmt.Sprintf("%s extraction failed: %v", e.Format, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
