package worker

import (
	"context"
	"time"

	"vellum/features/document"
)

// StoredChunk is what the vector index keeps per chunk: the vector plus the
// provenance needed to scope queries and point back into the source text.
type StoredChunk struct {
	ID         string
	DocumentID string
	Seq        int
	Kind       string
	Content    string
	Page       int
	Start      int
	End        int
	TableID    string
	Filename   string
	Vector     []float32
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type VectorIndex interface {
	UpsertBatch(ctx context.Context, chunks []StoredChunk) error
	DeleteByIDs(ctx context.Context, ids []string) error
	ListIDsByDocument(ctx context.Context, docID string) ([]string, error)
}

// DocumentStore is the slice of the document repository the pipeline drives:
// stage transitions, terminal outcomes and the single-writer claim.
type DocumentStore interface {
	Get(ctx context.Context, id string) (*document.Document, error)
	UpdateStatus(ctx context.Context, id string, status document.Status, progress float64) error
	MarkFailed(ctx context.Context, id string, perr *document.ProcessingError) error
	MarkProcessed(ctx context.Context, doc *document.Document) error
	UpdateFailedChunks(ctx context.Context, id string, failedIDs []string, degraded bool) error
	AcquireClaim(ctx context.Context, id, owner string, lease time.Duration) error
	ReleaseClaim(ctx context.Context, id, owner string) error
}
