package app

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	wstore "vellum/internal/adapter/weaviate"
	"vellum/internal/config"
)

func TestNew(t *testing.T) {
	// 1. Mock DB
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	// 2. Mock Weaviate
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	wCfg := weaviate.Config{
		Host:   server.Listener.Addr().String(),
		Scheme: "http",
	}
	wClient, err := weaviate.NewClient(wCfg)
	assert.NoError(t, err)
	vecStore := wstore.NewStore(wClient)

	// 3. NSQ producer; it connects lazily, on first publish.
	nsqCfg := nsq.NewConfig()
	producer, err := nsq.NewProducer("localhost:4150", nsqCfg)
	assert.NoError(t, err)

	// 4. Config
	appCfg := &config.Config{}

	// 5. Logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Execute
	application, err := New(appCfg, db, vecStore, producer, logger)
	assert.NoError(t, err)
	assert.NotNil(t, application)
	assert.NotNil(t, application.Handler)
	assert.NotNil(t, application.DocumentService)
	assert.NotNil(t, application.Processor)
	assert.NotNil(t, application.EmbedRetryConsumer)

	// Verify routing
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	application.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	req = httptest.NewRequest("GET", "/nope", nil)
	w = httptest.NewRecorder()
	application.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
