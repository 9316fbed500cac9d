package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"vellum/internal/middleware"
	"vellum/internal/text"
)

// EmbedRetryConsumer consumes ingest.embed: dead-lettered embed batches
// republished by the jobs feature. It re-embeds and upserts just the chunks
// in the payload, then clears them from the document's failed set, dropping
// the degraded flag once nothing is missing and the extraction was clean.
type EmbedRetryConsumer struct {
	indexer *Indexer
	docs    DocumentStore
	base    context.Context
}

func NewEmbedRetryConsumer(ix *Indexer, docs DocumentStore) *EmbedRetryConsumer {
	return &EmbedRetryConsumer{indexer: ix, docs: docs, base: context.Background()}
}

// BindContext parents every retry's context to ctx, so process shutdown
// cancels in-flight retries.
func (h *EmbedRetryConsumer) BindContext(ctx context.Context) {
	h.base = ctx
}

func (h *EmbedRetryConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload IngestEmbedPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		slog.Error("poison pill: invalid json on ingest.embed", "error", err)
		return nil
	}
	if payload.DocumentID == "" || len(payload.Chunks) == 0 {
		slog.Error("ingest.embed message missing document or chunks, dropping")
		return nil
	}

	ctx := h.base
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}
	ctx = middleware.WithDocumentID(ctx, payload.DocumentID)

	chunks := fromPayloads(payload.DocumentID, payload.Chunks)

	if err := h.indexer.indexBatch(ctx, payload.DocumentID, payload.Filename, chunks); err != nil {
		slog.ErrorContext(ctx, "scoped embed retry failed", "chunks", len(chunks), "error", err)
		return err // The retry came from an operator; let NSQ redeliver.
	}

	h.clearFailed(ctx, payload.DocumentID, chunks)
	slog.InfoContext(ctx, "scoped embed retry succeeded", "chunks", len(chunks))
	return nil
}

// clearFailed removes the now-indexed ids from the document's failed set.
func (h *EmbedRetryConsumer) clearFailed(ctx context.Context, docID string, chunks []text.Chunk) {
	doc, err := h.docs.Get(ctx, docID)
	if err != nil {
		slog.WarnContext(ctx, "failed to load document after retry", "error", err)
		return
	}

	retried := make(map[string]bool, len(chunks))
	for i := range chunks {
		retried[chunks[i].ID] = true
	}

	var remaining []string
	for _, id := range doc.FailedChunkIDs {
		if !retried[id] {
			remaining = append(remaining, id)
		}
	}

	// A retry only repairs embedding failures. Degradation from a partial
	// extraction carries no failed chunk ids and must survive the retry.
	fromExtraction := doc.Error != nil && doc.Error.Stage == "extracting"
	degraded := doc.Degraded && (len(remaining) > 0 || fromExtraction)
	if err := h.docs.UpdateFailedChunks(ctx, docID, remaining, degraded); err != nil {
		slog.WarnContext(ctx, "failed to update failed chunk ids", "error", err)
	}
}

func fromPayloads(docID string, payloads []ChunkPayload) []text.Chunk {
	out := make([]text.Chunk, len(payloads))
	for i, p := range payloads {
		out[i] = text.Chunk{
			ID:         p.ID,
			DocumentID: docID,
			Seq:        p.Seq,
			Kind:       text.Kind(p.Kind),
			Content:    p.Content,
			Page:       p.Page,
			Start:      p.Start,
			End:        p.End,
			TableID:    p.TableID,
		}
	}
	return out
}
