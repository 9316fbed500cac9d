package config

const (
	// TopicIngestTask is the NSQ topic for document processing tasks.
	TopicIngestTask = "ingest.task"

	// TopicIngestEmbed is the NSQ topic for scoped embed-batch retries
	// (dead-lettered batches republished by the jobs feature).
	TopicIngestEmbed = "ingest.embed"
)
