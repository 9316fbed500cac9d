package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"vellum/internal/config"
)

func TestLoadConfig(t *testing.T) {
	// Set env var directly to test envconfig logic
	os.Setenv("DB_HOST", "test-host")
	defer os.Unsetenv("DB_HOST")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "test-host", cfg.DBHost)
}

func TestLoadConfig_FromEnvFile(t *testing.T) {
	// Create a temp .env file
	content := []byte("DB_HOST=loaded-from-file")
	err := os.WriteFile(".env", content, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(".env")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "loaded-from-file", cfg.DBHost)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "gemini-embedding-001", cfg.EmbedModel)
	assert.Equal(t, 768, cfg.EmbedDimension)
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, 100, cfg.OCRMinChars)
	assert.Equal(t, "", cfg.OCRURL)
}

func TestLoadConfig_Toggles(t *testing.T) {
	os.Setenv("ENABLE_API", "false")
	os.Setenv("INGEST_CONCURRENCY", "10")
	os.Setenv("EMBED_BATCH_SIZE", "32")
	defer os.Unsetenv("ENABLE_API")
	defer os.Unsetenv("INGEST_CONCURRENCY")
	defer os.Unsetenv("EMBED_BATCH_SIZE")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.False(t, cfg.EnableAPI)
	assert.Equal(t, 10, cfg.IngestConcurrency)
	assert.Equal(t, 32, cfg.EmbedBatchSize)
}
