package text

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"vellum/internal/extract"
)

type Kind string

const (
	KindProse Kind = "prose"
	KindTable Kind = "table"
)

// Chunk is one retrieval unit. Start/End locate it inside the document's
// normalized text so callers can highlight the originating region; PrevID and
// NextID link neighbours in source order; table chunks point back at their
// parent table through TableID.
type Chunk struct {
	ID         string
	DocumentID string
	Seq        int
	Kind       Kind
	Content    string
	Page       int
	Start      int
	End        int
	PrevID     string
	NextID     string
	TableID    string
}

type Config struct {
	TargetSize int // chars per chunk
	Overlap    int // chars carried into the next chunk's start
	Slack      int // window around the target in which a boundary cut wins
	TableRows  int // data rows per table chunk
}

// chunkNamespace seeds the UUIDv5 derivation for chunk and table ids.
var chunkNamespace = uuid.MustParse("7a3c9f04-61d2-45b8-9c0a-2f84d1a6e5b3")

// ChunkID derives the stable id for a chunk: identical document, position and
// content always reproduce the same id, while edited content produces a new
// one, so a re-processing run can tell which vectors in the index went stale.
func ChunkID(docID string, seq int, content string) string {
	sum := sha256.Sum256([]byte(content))
	name := fmt.Sprintf("%s:%d:%x", docID, seq, sum[:8])
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}

// TableID derives the stable id of a table unit from its position in the
// document text.
func TableID(docID string, unitStart int) string {
	return uuid.NewSHA1(chunkNamespace, fmt.Appendf(nil, "%s:table:%d", docID, unitStart)).String()
}

// SplitUnits cuts the extracted units into chunks. Consecutive prose units
// feed one rolling buffer cut at TargetSize with Overlap carried across cuts;
// table units are chunked separately into row groups and never merged with
// surrounding prose. The function is pure: identical units and config always
// produce identical chunk boundaries and ids.
func SplitUnits(docID string, units []extract.Unit, cfg Config) []Chunk {
	var chunks []Chunk
	var run []extract.Unit

	flushRun := func() {
		chunks = append(chunks, splitProseRun(run, cfg)...)
		run = run[:0]
	}

	for _, u := range units {
		if u.Kind == extract.UnitTable {
			flushRun()
			chunks = append(chunks, splitTable(docID, u, cfg)...)
			continue
		}
		run = append(run, u)
	}
	flushRun()

	for i := range chunks {
		chunks[i].DocumentID = docID
		chunks[i].Seq = i
		chunks[i].ID = ChunkID(docID, i, chunks[i].Content)
	}
	for i := range chunks {
		if i > 0 {
			chunks[i].PrevID = chunks[i-1].ID
		}
		if i < len(chunks)-1 {
			chunks[i].NextID = chunks[i+1].ID
		}
	}

	return chunks
}

// splitProseRun cuts one run of adjacent prose units. Unit contents are
// contiguous in the document text, so the run is a single string addressed by
// the first unit's start offset.
func splitProseRun(run []extract.Unit, cfg Config) []Chunk {
	var b strings.Builder
	for _, u := range run {
		b.WriteString(u.Content)
	}
	s := b.String()
	if strings.TrimSpace(s) == "" {
		return nil
	}
	base := run[0].Start

	var chunks []Chunk
	pos := 0
	for pos < len(s) {
		end := pos + cfg.TargetSize
		if end >= len(s) {
			end = len(s)
		} else {
			end = cutPoint(s, pos, end, cfg.Slack)
		}

		chunks = append(chunks, Chunk{
			Kind:    KindProse,
			Content: s[pos:end],
			Page:    pageAt(run, base+pos),
			Start:   base + pos,
			End:     base + end,
		})

		if end == len(s) {
			break
		}
		next := runeStart(s, end-cfg.Overlap)
		if next <= pos {
			next = nextRune(s, pos)
		}
		pos = next
	}
	return chunks
}

// cutPoint picks where to end a chunk that wants to stop at target: the best
// boundary inside the slack window around it, falling back through paragraph,
// sentence, line and word breaks before accepting a mid-word cut.
func cutPoint(s string, start, target, slack int) int {
	lo := target - slack
	if lo <= start {
		lo = start + 1
	}
	hi := target + slack
	if hi > len(s) {
		hi = len(s)
	}
	window := s[lo:hi]

	for _, boundary := range []string{"\n\n", ". ", "! ", "? ", "\n", " "} {
		if idx := strings.LastIndex(window, boundary); idx >= 0 {
			return lo + idx + len(boundary)
		}
	}
	// Mid-word cut. Target is a byte offset and may sit inside a multi-byte
	// rune; back up so the chunk content stays valid UTF-8.
	if cut := runeStart(s, target); cut > start {
		return cut
	}
	return nextRune(s, start)
}

// runeStart backs a byte offset up to the start of the rune containing it.
func runeStart(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// nextRune advances a byte offset to the start of the following rune.
func nextRune(s string, i int) int {
	i++
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}

// pageAt attributes an offset to the page of the unit that contains it.
func pageAt(run []extract.Unit, offset int) int {
	for i := range run {
		if offset < run[i].End {
			return run[i].Page
		}
	}
	return run[len(run)-1].Page
}

// splitTable cuts a table unit into row groups of TableRows rows, each
// rendered with the header repeated so a group is meaningful on its own. The
// first group's span includes the header line; later groups span exactly
// their rows, so the groups tile the unit's content.
func splitTable(docID string, u extract.Unit, cfg Config) []Chunk {
	tableID := TableID(docID, u.Start)

	if u.Table == nil || len(u.Table.Rows) == 0 {
		return []Chunk{{
			Kind:    KindTable,
			Content: u.Content,
			Page:    u.Page,
			Start:   u.Start,
			End:     u.End,
			TableID: tableID,
		}}
	}

	header := u.Table.Header
	rows := u.Table.Rows

	// Offset of each row's first char within the rendered unit content.
	rowStart := make([]int, len(rows)+1)
	off := 0
	if len(header) > 0 {
		off = len(strings.Join(header, ", ")) + 1
	}
	for i, row := range rows {
		rowStart[i] = off
		off += len(strings.Join(row, ", ")) + 1
	}
	rowStart[len(rows)] = len(u.Content)

	var chunks []Chunk
	for g := 0; g < len(rows); g += cfg.TableRows {
		hi := g + cfg.TableRows
		if hi > len(rows) {
			hi = len(rows)
		}
		group := extract.Table{Header: header, Rows: rows[g:hi]}

		start := u.Start + rowStart[g]
		if g == 0 {
			start = u.Start
		}
		end := u.Start + rowStart[hi]
		if hi == len(rows) {
			end = u.End
		}

		chunks = append(chunks, Chunk{
			Kind:    KindTable,
			Content: group.Render(),
			Page:    u.Page,
			Start:   start,
			End:     end,
			TableID: tableID,
		})
	}
	return chunks
}
