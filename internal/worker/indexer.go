package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vellum/features/job"
	"vellum/internal/middleware"
	"vellum/internal/text"
)

// EmbedError reports one embed batch that exhausted its retries. ChunkIDs
// identifies exactly which chunks are missing from the index.
type EmbedError struct {
	ChunkIDs []string
	Err      error
}

func (e *EmbedError) Error() string {
	return fmt.Sprintf("embedding failed for %d chunks: %v", len(e.ChunkIDs), e.Err)
}

func (e *EmbedError) Unwrap() error { return e.Err }

// ErrDimensionMismatch means the provider returned a vector that does not
// match the configured model dimension. The model identity is fixed for the
// lifetime of the index, so this is never retried.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// IndexReport summarizes one IndexDocument pass.
type IndexReport struct {
	Indexed        int
	FailedChunkIDs []string
	StaleDeleted   int
}

type IndexerConfig struct {
	BatchSize   int
	MaxAttempts int
	BaseDelay   time.Duration
	Dimension   int
	CallTimeout time.Duration
}

// Indexer batches chunks to the embedding provider and upserts the vectors
// keyed by chunk id, so re-processing unchanged content overwrites in place.
type Indexer struct {
	embedder Embedder
	index    VectorIndex
	jobs     job.Repository
	cfg      IndexerConfig
}

func NewIndexer(e Embedder, v VectorIndex, j job.Repository, cfg IndexerConfig) *Indexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	return &Indexer{embedder: e, index: v, jobs: j, cfg: cfg}
}

// IndexDocument embeds and upserts all chunks of one processing run. A batch
// that exhausts its retries is dead-lettered and its chunk ids reported as
// failed; the run only errors when zero chunks made it into the index. Stale
// ids from the previous run are deleted after the new set is upserted, so the
// old chunks stay queryable until the swap.
func (ix *Indexer) IndexDocument(ctx context.Context, docID, filename string, chunks []text.Chunk) (IndexReport, error) {
	report := IndexReport{}

	prevIDs, err := ix.index.ListIDsByDocument(ctx, docID)
	if err != nil {
		return report, fmt.Errorf("listing previous chunk ids: %w", err)
	}

	newIDs := make(map[string]bool, len(chunks))
	for i := range chunks {
		newIDs[chunks[i].ID] = true
	}

	for start := 0; start < len(chunks); start += ix.cfg.BatchSize {
		end := start + ix.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		if err := ix.indexBatch(ctx, docID, filename, batch); err != nil {
			var embedErr *EmbedError
			if !errors.As(err, &embedErr) {
				return report, err
			}
			if errors.Is(embedErr.Err, ErrDimensionMismatch) {
				// Model misconfiguration, not a transient provider fault.
				// Dead-lettering would just replay the mismatch.
				return report, err
			}
			slog.ErrorContext(ctx, "embed batch exhausted retries",
				"chunks", len(embedErr.ChunkIDs), "error", embedErr.Err)
			report.FailedChunkIDs = append(report.FailedChunkIDs, embedErr.ChunkIDs...)
			ix.deadLetter(ctx, docID, filename, batch, embedErr)
			continue
		}
		report.Indexed += len(batch)
	}

	if report.Indexed == 0 && len(chunks) > 0 {
		return report, &EmbedError{
			ChunkIDs: report.FailedChunkIDs,
			Err:      errors.New("no batch succeeded"),
		}
	}

	var stale []string
	for _, id := range prevIDs {
		if !newIDs[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := ix.index.DeleteByIDs(ctx, stale); err != nil {
			// Orphaned vectors are scoped out by the document filter at query
			// time; the next run's swap removes them.
			slog.WarnContext(ctx, "failed to delete stale chunks", "count", len(stale), "error", err)
		} else {
			report.StaleDeleted = len(stale)
		}
	}

	return report, nil
}

// indexBatch embeds one batch and upserts it, retrying the whole batch with
// exponential backoff. A dimension mismatch fails immediately.
func (ix *Indexer) indexBatch(ctx context.Context, docID, filename string, batch []text.Chunk) error {
	texts := make([]string, len(batch))
	for i := range batch {
		texts[i] = batch[i].Content
	}

	var lastErr error
	delay := ix.cfg.BaseDelay
	for attempt := 1; attempt <= ix.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		vectors, err := ix.embedBatch(ctx, texts)
		if err == nil {
			stored := make([]StoredChunk, len(batch))
			for i := range batch {
				stored[i] = toStored(docID, filename, batch[i], vectors[i])
			}
			err = ix.index.UpsertBatch(ctx, stored)
			if err == nil {
				return nil
			}
		}
		if errors.Is(err, ErrDimensionMismatch) {
			lastErr = err
			break
		}

		lastErr = err
		if attempt < ix.cfg.MaxAttempts {
			slog.WarnContext(ctx, "embed batch failed, backing off",
				"attempt", attempt, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return &EmbedError{ChunkIDs: chunkIDs(batch), Err: lastErr}
}

func (ix *Indexer) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, ix.cfg.CallTimeout)
	defer cancel()

	vectors, err := ix.embedder.EmbedBatch(callCtx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(texts))
	}
	for _, v := range vectors {
		if len(v) != ix.cfg.Dimension {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), ix.cfg.Dimension)
		}
	}
	return vectors, nil
}

// deadLetter saves the failed batch so POST /jobs/{id}/retry can re-run just
// these chunks.
func (ix *Indexer) deadLetter(ctx context.Context, docID, filename string, batch []text.Chunk, embedErr *EmbedError) {
	payload := IngestEmbedPayload{
		DocumentID:    docID,
		Filename:      filename,
		Chunks:        toPayloads(batch),
		CorrelationID: middleware.GetCorrelationID(ctx),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal dead-letter payload", "error", err)
		return
	}

	failed := &job.Job{
		DocumentID: docID,
		Handler:    "embed-batch",
		Payload:    raw,
		Error:      embedErr.Err.Error(),
	}
	if err := ix.jobs.Save(ctx, failed); err != nil {
		slog.ErrorContext(ctx, "failed to save dead-letter job", "error", err)
		return
	}
	slog.InfoContext(ctx, "saved failed embed batch for retry", "job_id", failed.ID, "chunks", len(batch))
}

func toStored(docID, filename string, c text.Chunk, vector []float32) StoredChunk {
	return StoredChunk{
		ID:         c.ID,
		DocumentID: docID,
		Seq:        c.Seq,
		Kind:       string(c.Kind),
		Content:    c.Content,
		Page:       c.Page,
		Start:      c.Start,
		End:        c.End,
		TableID:    c.TableID,
		Filename:   filename,
		Vector:     vector,
	}
}

func toPayloads(batch []text.Chunk) []ChunkPayload {
	out := make([]ChunkPayload, len(batch))
	for i, c := range batch {
		out[i] = ChunkPayload{
			ID:      c.ID,
			Seq:     c.Seq,
			Kind:    string(c.Kind),
			Content: c.Content,
			Page:    c.Page,
			Start:   c.Start,
			End:     c.End,
			TableID: c.TableID,
		}
	}
	return out
}

func chunkIDs(batch []text.Chunk) []string {
	ids := make([]string, len(batch))
	for i := range batch {
		ids[i] = batch[i].ID
	}
	return ids
}
