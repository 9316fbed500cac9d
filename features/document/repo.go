package document

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ErrClaimHeld is returned when another worker holds a live processing claim
// on the document.
var ErrClaimHeld = errors.New("document is already being processed")

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const documentColumns = `id, filename, path, format, byte_size, content_hash, status, progress,
	error, title, page_count, word_count, table_count, ocr_used, degraded, chunk_count,
	failed_chunk_ids, created_at, updated_at`

func (r *PostgresRepo) Save(ctx context.Context, doc *Document) error {
	query := `INSERT INTO documents (filename, path, format, byte_size, content_hash, status)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query,
		doc.Filename, doc.Path, doc.Format, doc.ByteSize, doc.ContentHash, doc.Status,
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 AND deleted_at IS NULL`
	return scanDocument(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepo) GetByHash(ctx context.Context, hash string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE content_hash = $1 AND deleted_at IS NULL`
	return scanDocument(r.db.QueryRowContext(ctx, query, hash))
}

func (r *PostgresRepo) List(ctx context.Context) ([]Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE deleted_at IS NULL ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func (r *PostgresRepo) ListByIDs(ctx context.Context, ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = ANY($1) AND deleted_at IS NULL`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// UpdateStatus persists a stage transition. GREATEST keeps progress monotonic
// within a run even if updates race.
func (r *PostgresRepo) UpdateStatus(ctx context.Context, id string, status Status, progress float64) error {
	query := `UPDATE documents SET status = $1, progress = GREATEST(progress, $2), updated_at = NOW()
		WHERE id = $3 AND deleted_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, status, progress, id)
	return err
}

func (r *PostgresRepo) MarkFailed(ctx context.Context, id string, perr *ProcessingError) error {
	errJSON, err := json.Marshal(perr)
	if err != nil {
		return err
	}
	query := `UPDATE documents SET status = $1, error = $2, updated_at = NOW()
		WHERE id = $3 AND deleted_at IS NULL`
	_, err = r.db.ExecContext(ctx, query, StatusFailed, errJSON, id)
	return err
}

// MarkProcessed finalizes a run: terminal status, full progress, and the
// extraction/embedding outcome recorded on the row.
func (r *PostgresRepo) MarkProcessed(ctx context.Context, doc *Document) error {
	var errJSON interface{}
	if doc.Error != nil {
		b, err := json.Marshal(doc.Error)
		if err != nil {
			return err
		}
		errJSON = b
	}
	query := `UPDATE documents SET status = $1, progress = $2, error = $3, title = $4,
		page_count = $5, word_count = $6, table_count = $7, ocr_used = $8, degraded = $9,
		chunk_count = $10, failed_chunk_ids = $11, format = $12, updated_at = NOW()
		WHERE id = $13 AND deleted_at IS NULL`
	_, err := r.db.ExecContext(ctx, query,
		StatusProcessed, ProgressDone, errJSON, doc.Title,
		doc.PageCount, doc.WordCount, doc.TableCount, doc.OCRUsed, doc.Degraded,
		doc.ChunkCount, pq.Array(doc.FailedChunkIDs), doc.Format, doc.ID)
	return err
}

// UpdateFailedChunks rewrites the outstanding failed chunk ids after a scoped
// retry, dropping the degraded flag when nothing is missing anymore.
func (r *PostgresRepo) UpdateFailedChunks(ctx context.Context, id string, failedIDs []string, degraded bool) error {
	query := `UPDATE documents SET failed_chunk_ids = $1, degraded = $2, updated_at = NOW()
		WHERE id = $3 AND deleted_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, pq.Array(failedIDs), degraded, id)
	return err
}

// ResetForReprocess rewinds a document to pending for a fresh run.
func (r *PostgresRepo) ResetForReprocess(ctx context.Context, id string) error {
	query := `UPDATE documents SET status = $1, progress = 0, error = NULL, degraded = FALSE,
		failed_chunk_ids = '{}', updated_at = NOW()
		WHERE id = $2 AND deleted_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, StatusPending, id)
	return err
}

func (r *PostgresRepo) SoftDelete(ctx context.Context, id string) error {
	query := `UPDATE documents SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE deleted_at IS NULL`).Scan(&count)
	return count, err
}

func (r *PostgresRepo) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM documents WHERE deleted_at IS NULL GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// AcquireClaim takes the single-writer lease on a document. A live claim by
// anyone (including a crashed worker whose lease has not yet expired) wins;
// an expired lease is taken over.
func (r *PostgresRepo) AcquireClaim(ctx context.Context, id, owner string, lease time.Duration) error {
	query := `INSERT INTO document_claims (document_id, claimed_by, expires_at)
		VALUES ($1, $2, NOW() + $3 * INTERVAL '1 second')
		ON CONFLICT (document_id) DO UPDATE
		SET claimed_by = EXCLUDED.claimed_by, expires_at = EXCLUDED.expires_at
		WHERE document_claims.expires_at < NOW()`
	res, err := r.db.ExecContext(ctx, query, id, owner, int(lease.Seconds()))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrClaimHeld
	}
	return nil
}

func (r *PostgresRepo) ReleaseClaim(ctx context.Context, id, owner string) error {
	query := `DELETE FROM document_claims WHERE document_id = $1 AND claimed_by = $2`
	_, err := r.db.ExecContext(ctx, query, id, owner)
	return err
}

func (r *PostgresRepo) HasActiveClaim(ctx context.Context, id string) (bool, error) {
	var active bool
	query := `SELECT EXISTS(SELECT 1 FROM document_claims WHERE document_id = $1 AND expires_at > NOW())`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&active)
	return active, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*Document, error) {
	doc := &Document{}
	var errJSON []byte
	err := row.Scan(
		&doc.ID, &doc.Filename, &doc.Path, &doc.Format, &doc.ByteSize, &doc.ContentHash,
		&doc.Status, &doc.Progress, &errJSON, &doc.Title,
		&doc.PageCount, &doc.WordCount, &doc.TableCount, &doc.OCRUsed, &doc.Degraded,
		&doc.ChunkCount, pq.Array(&doc.FailedChunkIDs), &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(errJSON) > 0 {
		if err := json.Unmarshal(errJSON, &doc.Error); err != nil {
			return nil, fmt.Errorf("corrupt error column on document %s: %w", doc.ID, err)
		}
	}
	return doc, nil
}
