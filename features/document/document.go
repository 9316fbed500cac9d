package document

import (
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusExtracting Status = "extracting"
	StatusChunking   Status = "chunking"
	StatusEmbedding  Status = "embedding"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

// transitions is the lifecycle: the pipeline stages advance in order, failed
// is reachable from anywhere, and both terminal states accept a reprocess
// back to pending.
var transitions = map[Status][]Status{
	StatusPending:    {StatusExtracting, StatusFailed},
	StatusExtracting: {StatusChunking, StatusFailed},
	StatusChunking:   {StatusEmbedding, StatusFailed},
	StatusEmbedding:  {StatusProcessed, StatusFailed},
	StatusProcessed:  {StatusPending},
	StatusFailed:     {StatusPending},
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends a processing attempt.
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// Stage-weighted progress checkpoints. Each stage persists its checkpoint
// before doing the stage's work; progress only moves forward within a run.
const (
	ProgressPending    = 0.0
	ProgressExtracting = 0.10
	ProgressChunking   = 0.35
	ProgressEmbedding  = 0.55
	ProgressDone       = 1.0
)

// ProcessingError is the structured cause stored on a failed or degraded
// document: which stage broke, why, and which chunks are affected, enough
// for a targeted retry.
type ProcessingError struct {
	Stage    string   `json:"stage"`
	Message  string   `json:"message"`
	ChunkIDs []string `json:"chunk_ids,omitempty"`
}

type Document struct {
	ID             string           `json:"id"`
	Filename       string           `json:"filename"`
	Path           string           `json:"-"`
	Format         string           `json:"format"`
	ByteSize       int64            `json:"byte_size"`
	ContentHash    string           `json:"-"`
	Status         Status           `json:"status"`
	Progress       float64          `json:"progress"`
	Error          *ProcessingError `json:"error,omitempty"`
	Title          string           `json:"title,omitempty"`
	PageCount      int              `json:"page_count"`
	WordCount      int              `json:"word_count"`
	TableCount     int              `json:"table_count"`
	OCRUsed        bool             `json:"ocr_used"`
	Degraded       bool             `json:"degraded"`
	ChunkCount     int              `json:"chunk_count"`
	FailedChunkIDs []string         `json:"failed_chunk_ids,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Retrievable reports whether the document's chunks may serve retrieval.
// Degraded documents stay retrievable; their flag is surfaced instead.
func (d *Document) Retrievable() bool {
	return d.Status == StatusProcessed
}
