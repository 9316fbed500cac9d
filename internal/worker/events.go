package worker

// IngestTaskPayload travels on ingest.task: one message per processing run.
type IngestTaskPayload struct {
	DocumentID    string `json:"document_id"`
	Path          string `json:"path"`
	Reprocess     bool   `json:"reprocess,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// ChunkPayload is the serialized form of a chunk inside an embed-batch
// message. It carries everything the retry consumer needs to re-embed and
// upsert without re-running extraction.
type ChunkPayload struct {
	ID      string `json:"id"`
	Seq     int    `json:"seq"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
	Page    int    `json:"page"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
	TableID string `json:"table_id,omitempty"`
}

// IngestEmbedPayload travels on ingest.embed: a single embed batch scoped to
// the chunks that previously failed, republished by the jobs feature.
type IngestEmbedPayload struct {
	DocumentID    string         `json:"document_id"`
	Filename      string         `json:"filename"`
	Chunks        []ChunkPayload `json:"chunks"`
	CorrelationID string         `json:"correlation_id"`
}
