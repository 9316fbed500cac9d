package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"vellum/internal/config"
	"vellum/internal/middleware"
)

// ErrProcessingConflict rejects a reprocess request while another run holds
// the document's claim. Surfaced as HTTP 409, never queued twice.
var ErrProcessingConflict = errors.New("document is currently being processed")

// Repository is the slice of the Postgres repo the service drives.
type Repository interface {
	Save(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id string) (*Document, error)
	GetByHash(ctx context.Context, hash string) (*Document, error)
	List(ctx context.Context) ([]Document, error)
	ResetForReprocess(ctx context.Context, id string) error
	SoftDelete(ctx context.Context, id string) error
	HasActiveClaim(ctx context.Context, id string) (bool, error)
}

// ChunkIndex is the vector-store slice needed for the delete cascade.
type ChunkIndex interface {
	DeleteByDocument(ctx context.Context, docID string) error
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo  Repository
	pub   EventPublisher
	index ChunkIndex
}

func NewService(repo Repository, pub EventPublisher, index ChunkIndex) *Service {
	return &Service{repo: repo, pub: pub, index: index}
}

// Submit registers an uploaded file and enqueues its processing run. A
// byte-identical active document short-circuits to the existing record
// instead of creating a duplicate.
func (s *Service) Submit(ctx context.Context, path, hash, filename string, size int64) (*Document, bool, error) {
	existing, err := s.repo.GetByHash(ctx, hash)
	if err == nil && existing != nil {
		return existing, true, nil
	}

	doc := &Document{
		Filename:    filename,
		Path:        path,
		Format:      formatFromName(filename),
		ByteSize:    size,
		ContentHash: hash,
		Status:      StatusPending,
	}
	if err := s.repo.Save(ctx, doc); err != nil {
		return nil, false, err
	}

	s.publishTask(ctx, doc, false)
	return doc, false, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Document, error) {
	return s.repo.List(ctx)
}

// Reprocess resets a terminal document to pending and enqueues a fresh run.
// A live claim means a run is already active: conflict, not a second queue
// entry.
func (s *Service) Reprocess(ctx context.Context, id string) error {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	active, err := s.repo.HasActiveClaim(ctx, id)
	if err != nil {
		return err
	}
	if active {
		return ErrProcessingConflict
	}

	if err := s.repo.ResetForReprocess(ctx, id); err != nil {
		return err
	}

	s.publishTask(ctx, doc, true)
	return nil
}

// Delete cascades: vectors first, then the row. The stored file is removed
// best-effort.
func (s *Service) Delete(ctx context.Context, id string) error {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.index.DeleteByDocument(ctx, id); err != nil {
		return fmt.Errorf("deleting chunks from index: %w", err)
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}

	if doc.Path != "" {
		if err := os.Remove(doc.Path); err != nil && !os.IsNotExist(err) {
			slog.WarnContext(ctx, "failed to remove stored file", "error", err, "path", filepath.Clean(doc.Path))
		}
	}
	return nil
}

func (s *Service) publishTask(ctx context.Context, doc *Document, reprocess bool) {
	payload, _ := json.Marshal(map[string]interface{}{
		"document_id":    doc.ID,
		"path":           doc.Path,
		"reprocess":      reprocess,
		"correlation_id": middleware.GetCorrelationID(ctx),
	})
	if err := s.pub.Publish(config.TopicIngestTask, payload); err != nil {
		slog.ErrorContext(ctx, "failed to publish ingest.task event", "error", err, "document_id", doc.ID)
	} else {
		slog.InfoContext(ctx, "published ingest.task event", "document_id", doc.ID, "reprocess", reprocess)
	}
}

// formatFromName is the provisional format stored at upload time; magic-byte
// detection in the pipeline overwrites it once extraction runs.
func formatFromName(filename string) string {
	switch filepath.Ext(filename) {
	case ".pdf":
		return "pdf"
	case ".docx", ".doc":
		return "docx"
	case ".csv":
		return "csv"
	default:
		return "txt"
	}
}
