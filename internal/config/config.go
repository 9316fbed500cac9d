package config

import (
	"errors"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"vellum"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"vellum"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	// Embedding provider. Model identity and dimension are fixed for the
	// lifetime of the index; changing the model requires a full re-index.
	GeminiAPIKey     string `envconfig:"GEMINI_API_KEY"`
	EmbedModel       string `envconfig:"EMBED_MODEL" default:"gemini-embedding-001"`
	EmbedDimension   int    `envconfig:"EMBED_DIMENSION" default:"768"`
	EmbedBatchSize   int    `envconfig:"EMBED_BATCH_SIZE" default:"64"`
	EmbedMaxAttempts int    `envconfig:"EMBED_MAX_ATTEMPTS" default:"4"`
	EmbedTimeoutSecs int    `envconfig:"EMBED_TIMEOUT_SECONDS" default:"60"`

	// OCR sidecar. Empty URL disables OCR; sparse pages then degrade to
	// empty text with a warning annotation.
	OCRURL         string `envconfig:"OCR_URL"`
	OCRMinChars    int    `envconfig:"OCR_MIN_CHARS" default:"100"`
	OCRTimeoutSecs int    `envconfig:"OCR_TIMEOUT_SECONDS" default:"30"`

	ChunkSize      int `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap   int `envconfig:"CHUNK_OVERLAP" default:"200"`
	ChunkSlack     int `envconfig:"CHUNK_SLACK" default:"150"`
	TableChunkRows int `envconfig:"TABLE_CHUNK_ROWS" default:"100"`

	EnableAPI          bool `envconfig:"ENABLE_API" default:"true"`
	IngestConcurrency  int  `envconfig:"INGEST_CONCURRENCY" default:"4"`
	ClaimLeaseSecs     int  `envconfig:"CLAIM_LEASE_SECONDS" default:"300"`
	ExtractTimeoutSecs int  `envconfig:"EXTRACT_TIMEOUT_SECONDS" default:"120"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Server
	ServerPort      int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath    string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MaxUploadSizeMB int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`
	UploadDir       string `envconfig:"UPLOAD_DIR" default:"./uploads"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars may be set in the shell instead; ignore a missing .env.
	_ = godotenv.Load(".env")

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: CHUNK_SIZE must be positive", ErrInvalidValue)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be smaller than CHUNK_SIZE", ErrInvalidValue)
	}
	if c.EmbedBatchSize <= 0 || c.EmbedBatchSize > 100 {
		return fmt.Errorf("%w: EMBED_BATCH_SIZE must be within 1..100", ErrInvalidValue)
	}
	if c.EmbedDimension <= 0 {
		return fmt.Errorf("%w: EMBED_DIMENSION must be positive", ErrInvalidValue)
	}
	if c.IngestConcurrency <= 0 {
		return fmt.Errorf("%w: INGEST_CONCURRENCY must be positive", ErrInvalidValue)
	}
	return nil
}
