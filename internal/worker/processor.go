package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"vellum/features/document"
	"vellum/internal/extract"
	"vellum/internal/middleware"
	"vellum/internal/text"
)

type ProcessorConfig struct {
	ChunkConfig    text.Config
	ExtractTimeout time.Duration
	ClaimLease     time.Duration
}

// Processor consumes ingest.task and runs the Extract -> Chunk -> Embed
// pipeline for one document per message. Each stage persists its transition
// before doing the stage's work, so a crash leaves the document at a known
// last-completed stage. The processor never asks NSQ to redeliver: the state
// machine owns retries, and a poison message is logged and dropped.
type Processor struct {
	docs      DocumentStore
	extractor *extract.Extractor
	indexer   *Indexer
	cfg       ProcessorConfig
	owner     string
	base      context.Context
}

func NewProcessor(docs DocumentStore, ex *extract.Extractor, ix *Indexer, cfg ProcessorConfig) *Processor {
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = 2 * time.Minute
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 5 * time.Minute
	}
	return &Processor{
		docs:      docs,
		extractor: ex,
		indexer:   ix,
		cfg:       cfg,
		owner:     uuid.New().String(),
		base:      context.Background(),
	}
}

// BindContext parents every run's context to ctx. When the process shuts
// down, cancelling ctx stops in-flight runs at their next stage boundary and
// the document stays at its last persisted stage.
func (p *Processor) BindContext(ctx context.Context) {
	p.base = ctx
}

func (p *Processor) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload IngestTaskPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		slog.Error("poison pill: invalid json on ingest.task", "error", err)
		return nil
	}
	if payload.DocumentID == "" {
		slog.Error("ingest.task message missing document_id, dropping")
		return nil
	}

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(p.base, correlationID)
	ctx = middleware.WithDocumentID(ctx, payload.DocumentID)

	if err := p.docs.AcquireClaim(ctx, payload.DocumentID, p.owner, p.cfg.ClaimLease); err != nil {
		if errors.Is(err, document.ErrClaimHeld) {
			slog.WarnContext(ctx, "document already claimed, dropping task")
			return nil
		}
		slog.ErrorContext(ctx, "failed to acquire claim", "error", err)
		return err // Infrastructure error, let NSQ redeliver.
	}
	defer func() {
		if err := p.docs.ReleaseClaim(context.Background(), payload.DocumentID, p.owner); err != nil {
			slog.WarnContext(ctx, "failed to release claim", "error", err)
		}
	}()

	p.process(ctx, payload)
	return nil
}

func (p *Processor) process(ctx context.Context, payload IngestTaskPayload) {
	doc, err := p.docs.Get(ctx, payload.DocumentID)
	if err != nil {
		slog.ErrorContext(ctx, "document not found, dropping task", "error", err)
		return
	}

	data, err := os.ReadFile(filepath.Clean(payload.Path)) // #nosec G304 -- path was written by the upload handler, not raw user input
	if err != nil {
		p.fail(ctx, doc.ID, "extracting", fmt.Sprintf("reading stored file: %v", err), nil)
		return
	}

	// Stage: extracting.
	if p.cancelled(ctx, doc.ID) {
		return
	}
	if !p.transition(ctx, doc, document.StatusExtracting, document.ProgressExtracting) {
		return
	}

	extractCtx, cancel := context.WithTimeout(ctx, p.cfg.ExtractTimeout)
	units, meta, err := p.extractor.Extract(extractCtx, data, doc.Filename)
	cancel()

	degraded := false
	if err != nil {
		var unsupported *extract.UnsupportedFormatError
		if errors.As(err, &unsupported) {
			p.fail(ctx, doc.ID, "extracting", err.Error(), nil)
			return
		}
		if len(units) == 0 {
			p.fail(ctx, doc.ID, "extracting", err.Error(), nil)
			return
		}
		// Partial extraction: proceed with what succeeded.
		slog.WarnContext(ctx, "extraction partially failed, continuing degraded", "error", err)
		degraded = true
		doc.Error = &document.ProcessingError{Stage: "extracting", Message: err.Error()}
	}

	doc.Format = string(meta.Format)
	doc.Title = meta.Title
	doc.PageCount = meta.PageCount
	doc.WordCount = meta.WordCount
	doc.TableCount = meta.TableCount
	doc.OCRUsed = meta.OCRUsed

	// Stage: chunking.
	if p.cancelled(ctx, doc.ID) {
		return
	}
	if !p.transition(ctx, doc, document.StatusChunking, document.ProgressChunking) {
		return
	}

	chunks := text.SplitUnits(doc.ID, units, p.cfg.ChunkConfig)
	doc.ChunkCount = len(chunks)

	// Stage: embedding.
	if p.cancelled(ctx, doc.ID) {
		return
	}
	if !p.transition(ctx, doc, document.StatusEmbedding, document.ProgressEmbedding) {
		return
	}

	report, err := p.indexer.IndexDocument(ctx, doc.ID, doc.Filename, chunks)
	if err != nil {
		p.fail(ctx, doc.ID, "embedding", err.Error(), report.FailedChunkIDs)
		return
	}

	if len(report.FailedChunkIDs) > 0 {
		degraded = true
		doc.Error = &document.ProcessingError{
			Stage:    "embedding",
			Message:  fmt.Sprintf("%d of %d chunks not embedded", len(report.FailedChunkIDs), len(chunks)),
			ChunkIDs: report.FailedChunkIDs,
		}
	}
	doc.Degraded = degraded
	doc.FailedChunkIDs = report.FailedChunkIDs

	if err := p.docs.MarkProcessed(ctx, doc); err != nil {
		slog.ErrorContext(ctx, "failed to mark document processed", "error", err)
		return
	}

	slog.InfoContext(ctx, "document processed",
		"chunks", len(chunks),
		"indexed", report.Indexed,
		"failed_chunks", len(report.FailedChunkIDs),
		"stale_deleted", report.StaleDeleted,
		"ocr_used", meta.OCRUsed,
		"degraded", degraded)
}

// transition persists a stage change after checking it against the document
// lifecycle. An invalid transition is a programming error: it is logged and
// the run stops rather than persisting a state the machine does not allow.
func (p *Processor) transition(ctx context.Context, doc *document.Document, status document.Status, progress float64) bool {
	if !document.CanTransition(doc.Status, status) {
		slog.ErrorContext(ctx, "invalid status transition, aborting run",
			"from", string(doc.Status), "to", string(status))
		return false
	}
	if err := p.docs.UpdateStatus(ctx, doc.ID, status, progress); err != nil {
		slog.ErrorContext(ctx, "failed to persist status transition",
			"to", string(status), "error", err)
		return false
	}
	doc.Status = status
	return true
}

// cancelled checks the run context at a stage boundary. A cancelled run
// leaves the document at its last persisted stage, resumable by reprocess.
func (p *Processor) cancelled(ctx context.Context, docID string) bool {
	if ctx.Err() != nil {
		slog.Warn("processing cancelled at stage boundary", "document_id", docID)
		return true
	}
	return false
}

func (p *Processor) fail(ctx context.Context, docID, stage, message string, chunkIDs []string) {
	slog.ErrorContext(ctx, "document processing failed", "stage", stage, "error", message)
	perr := &document.ProcessingError{Stage: stage, Message: message, ChunkIDs: chunkIDs}
	if err := p.docs.MarkFailed(ctx, docID, perr); err != nil {
		slog.ErrorContext(ctx, "failed to mark document failed", "error", err)
	}
}
