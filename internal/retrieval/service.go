package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"vellum/features/document"
	"vellum/internal/middleware"
	"vellum/internal/settings"
)

// Hit is one raw chunk returned by the vector index for a query.
type Hit struct {
	ChunkID    string
	DocumentID string
	Seq        int
	Kind       string
	Content    string
	Page       int
	Start      int
	End        int
	Score      float32
}

// Span is a merged run of adjacent hits from one document: the unit of
// assembled context. ChunkIDs lists the members in source order; Page, Start
// and End locate the span for highlighting in the source document.
type Span struct {
	DocumentID string   `json:"document_id"`
	Filename   string   `json:"filename"`
	Degraded   bool     `json:"degraded"`
	ChunkIDs   []string `json:"chunk_ids"`
	Kind       string   `json:"kind"`
	Page       int      `json:"page"`
	Start      int      `json:"start"`
	End        int      `json:"end"`
	Score      float32  `json:"score"`
	Text       string   `json:"text"`
	Source     string   `json:"source"`
}

// Result is computed per query and never persisted. NoContext marks the
// explicit empty answer when nothing clears the similarity threshold.
type Result struct {
	Query     string  `json:"query"`
	Spans     []Span  `json:"spans"`
	Context   string  `json:"context"`
	NoContext bool    `json:"no_context"`
	TopScore  float32 `json:"top_score"`
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type VectorIndex interface {
	Query(ctx context.Context, vector []float32, docIDs []string, topK int) ([]Hit, error)
}

type DocumentLister interface {
	ListByIDs(ctx context.Context, ids []string) ([]document.Document, error)
}

type Service struct {
	embedder Embedder
	index    VectorIndex
	docs     DocumentLister
	settings *settings.Service
	logger   *QueryLogger
}

func NewService(e Embedder, v VectorIndex, d DocumentLister, set *settings.Service, l *QueryLogger) *Service {
	return &Service{embedder: e, index: v, docs: d, settings: set, logger: l}
}

// Retrieve embeds the query with the same model used at ingestion, queries
// the index scoped to the allowed documents that are actually processed,
// drops hits below the similarity threshold, merges adjacent chunks into
// spans and assembles them into a bounded context string.
func (s *Service) Retrieve(ctx context.Context, query string, allowedDocIDs []string, topK int) (*Result, error) {
	start := time.Now()
	result := &Result{Query: query}

	defer func() {
		if s.logger != nil {
			s.logger.Log(QueryLogEntry{
				Query:         query,
				DocumentIDs:   allowedDocIDs,
				NumSpans:      len(result.Spans),
				TopScore:      result.TopScore,
				NoContext:     result.NoContext,
				Duration:      time.Since(start),
				CorrelationID: middleware.GetCorrelationID(ctx),
			})
		}
	}()

	cfg, err := s.settings.Get(ctx)
	if err != nil {
		// Fallback defaults if settings fail (shouldn't happen)
		cfg = &settings.Settings{SearchTopK: 10, MinScore: 0.5, ContextBudget: 8000}
	}
	if topK <= 0 {
		topK = cfg.SearchTopK
	}

	// Scoping layer one: only processed documents serve retrieval. A document
	// mid-processing drops out here; its old chunks stay queryable for other
	// sessions until the new run's swap.
	docs, err := s.docs.ListByIDs(ctx, allowedDocIDs)
	if err != nil {
		return nil, fmt.Errorf("filtering allowed documents: %w", err)
	}
	byID := make(map[string]*document.Document, len(docs))
	var queryIDs []string
	for i := range docs {
		if docs[i].Retrievable() {
			byID[docs[i].ID] = &docs[i]
			queryIDs = append(queryIDs, docs[i].ID)
		}
	}
	if len(queryIDs) == 0 {
		result.NoContext = true
		return result, nil
	}

	vectors, err := s.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	hits, err := s.index.Query(ctx, vectors[0], queryIDs, topK)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	var kept []Hit
	for _, h := range hits {
		if h.Score < cfg.MinScore {
			continue
		}
		// The index filter already scopes by document id; this guards against
		// a stale vector that slipped the swap.
		if _, ok := byID[h.DocumentID]; !ok {
			continue
		}
		kept = append(kept, h)
		if h.Score > result.TopScore {
			result.TopScore = h.Score
		}
	}
	if len(kept) == 0 {
		result.NoContext = true
		return result, nil
	}

	spans := mergeAdjacent(kept, byID)
	result.Spans = assemble(spans, cfg.ContextBudget)

	var parts []string
	for _, sp := range result.Spans {
		parts = append(parts, sp.Text)
	}
	result.Context = strings.Join(parts, "\n\n")

	return result, nil
}

// mergeAdjacent folds hits with consecutive sequence numbers in the same
// document into one span, deduplicating the chunk overlap via the source
// offsets so the merged text reads continuously.
func mergeAdjacent(hits []Hit, byID map[string]*document.Document) []Span {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].DocumentID != hits[j].DocumentID {
			return hits[i].DocumentID < hits[j].DocumentID
		}
		return hits[i].Seq < hits[j].Seq
	})

	var spans []Span
	for i := 0; i < len(hits); {
		h := hits[i]
		span := Span{
			DocumentID: h.DocumentID,
			ChunkIDs:   []string{h.ChunkID},
			Kind:       h.Kind,
			Page:       h.Page,
			Start:      h.Start,
			End:        h.End,
			Score:      h.Score,
			Text:       h.Content,
		}
		if doc := byID[h.DocumentID]; doc != nil {
			span.Filename = doc.Filename
			span.Degraded = doc.Degraded
		}

		j := i + 1
		for ; j < len(hits); j++ {
			next := hits[j]
			if next.DocumentID != h.DocumentID || next.Seq != hits[j-1].Seq+1 {
				break
			}
			span.ChunkIDs = append(span.ChunkIDs, next.ChunkID)
			if overlap := span.End - next.Start; overlap >= 0 && overlap < len(next.Content) {
				span.Text += next.Content[overlap:]
			} else if overlap < 0 {
				span.Text += next.Content
			}
			span.End = next.End
			if next.Score > span.Score {
				span.Score = next.Score
			}
		}

		span.Source = fmt.Sprintf("%s, page %d", span.Filename, span.Page)
		if span.Page == 0 {
			span.Source = span.Filename
		}
		spans = append(spans, span)
		i = j
	}
	return spans
}

// assemble takes spans in descending score order until the character budget
// is spent, then re-sorts the selection into source order per document for
// readability.
func assemble(spans []Span, budget int) []Span {
	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].Score > spans[j].Score
	})

	var selected []Span
	used := 0
	for _, sp := range spans {
		if budget > 0 && used+len(sp.Text) > budget && len(selected) > 0 {
			continue
		}
		selected = append(selected, sp)
		used += len(sp.Text)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].DocumentID != selected[j].DocumentID {
			return selected[i].DocumentID < selected[j].DocumentID
		}
		return selected[i].Start < selected[j].Start
	})
	return selected
}
