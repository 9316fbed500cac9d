package job

import (
	"encoding/json"
	"time"
)

// Job is a dead-letter record: a pipeline batch that exhausted its retries,
// kept with its raw payload so an operator can re-enqueue exactly the work
// that failed.
type Job struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	Handler    string          `json:"handler"`
	Payload    json.RawMessage `json:"payload"`
	Error      string          `json:"error"`
	Retries    int             `json:"retries"`
	CreatedAt  time.Time       `json:"created_at"`
}
