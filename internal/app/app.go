package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"vellum/features/chat"
	"vellum/features/document"
	"vellum/features/job"
	"vellum/features/stats"
	"vellum/internal/adapter/gemini"
	"vellum/internal/adapter/ocr"
	"vellum/internal/config"
	"vellum/internal/extract"
	"vellum/internal/middleware"
	"vellum/internal/retrieval"
	"vellum/internal/settings"
	"vellum/internal/text"
	"vellum/internal/worker"
)

// Database lets tests inject sqlmock; production passes *sql.DB.
type Database interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// VectorStore is everything the app needs from the Weaviate adapter.
type VectorStore interface {
	EnsureSchema(ctx context.Context) error
	UpsertBatch(ctx context.Context, chunks []worker.StoredChunk) error
	DeleteByIDs(ctx context.Context, ids []string) error
	DeleteByDocument(ctx context.Context, docID string) error
	ListIDsByDocument(ctx context.Context, docID string) ([]string, error)
	Query(ctx context.Context, vector []float32, docIDs []string, topK int) ([]retrieval.Hit, error)
	CountChunks(ctx context.Context) (int, error)
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

type App struct {
	Handler            http.Handler
	DocumentService    *document.Service
	Processor          *worker.Processor
	EmbedRetryConsumer *worker.EmbedRetryConsumer

	port int
}

func New(
	cfg *config.Config,
	db Database,
	vecStore VectorStore,
	taskPub TaskPublisher,
	logger *slog.Logger,
) (*App, error) {
	// Repositories need the concrete *sql.DB; the interface in the signature
	// keeps the constructor mockable.
	sqlDB := db.(*sql.DB)

	// Feature: Settings
	settingsRepo := settings.NewPostgresRepo(sqlDB)
	settingsService := settings.NewService(settingsRepo)
	seedAPIKey(cfg, settingsService)
	settingsHandler := settings.NewHandler(settingsService)

	// Feature: Document
	docRepo := document.NewPostgresRepo(sqlDB)
	docService := document.NewService(docRepo, taskPub, vecStore)
	docHandler := document.NewHandler(docService, document.HandlerConfig{
		UploadDir:     cfg.UploadDir,
		MaxUploadSize: cfg.MaxUploadSizeMB << 20,
	})

	// Feature: Job
	jobRepo := job.NewPostgresRepo(sqlDB)
	jobService := job.NewService(jobRepo, taskPub)
	jobHandler := job.NewHandler(jobService)

	// Feature: Stats
	statsHandler := stats.NewHandler(docRepo, jobRepo, vecStore)

	// Embedder: constructed once, shared read-only across workers and
	// retrieval so ingestion and queries live in the same embedding space.
	embedder := gemini.NewDynamicEmbedder(settingsService, cfg.EmbedModel)

	// Retrieval + chat context
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(embedder, vecStore, docRepo, settingsService, queryLogger)
	chatHandler := chat.NewHandler(retrievalService)

	// Pipeline workers
	var ocrClient extract.OCR
	if cfg.OCRURL != "" {
		ocrClient = ocr.NewClient(cfg.OCRURL, time.Duration(cfg.OCRTimeoutSecs)*time.Second)
	}
	extractor := extract.New(ocrClient, cfg.OCRMinChars)

	indexer := worker.NewIndexer(embedder, vecStore, jobRepo, worker.IndexerConfig{
		BatchSize:   cfg.EmbedBatchSize,
		MaxAttempts: cfg.EmbedMaxAttempts,
		BaseDelay:   time.Second,
		Dimension:   cfg.EmbedDimension,
		CallTimeout: time.Duration(cfg.EmbedTimeoutSecs) * time.Second,
	})
	processor := worker.NewProcessor(docRepo, extractor, indexer, worker.ProcessorConfig{
		ChunkConfig: text.Config{
			TargetSize: cfg.ChunkSize,
			Overlap:    cfg.ChunkOverlap,
			Slack:      cfg.ChunkSlack,
			TableRows:  cfg.TableChunkRows,
		},
		ExtractTimeout: time.Duration(cfg.ExtractTimeoutSecs) * time.Second,
		ClaimLease:     time.Duration(cfg.ClaimLeaseSecs) * time.Second,
	})
	embedRetry := worker.NewEmbedRetryConsumer(indexer, docRepo)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /documents", middleware.CorrelationID(enableCORS(docHandler.Upload)))
	mux.Handle("GET /documents", middleware.CorrelationID(enableCORS(docHandler.List)))
	mux.Handle("GET /documents/{id}", middleware.CorrelationID(enableCORS(docHandler.Get)))
	mux.Handle("DELETE /documents/{id}", middleware.CorrelationID(enableCORS(docHandler.Delete)))
	mux.Handle("POST /documents/{id}/reprocess", middleware.CorrelationID(enableCORS(docHandler.Reprocess)))

	mux.Handle("POST /chat/context", middleware.CorrelationID(enableCORS(chatHandler.Context)))

	mux.Handle("GET /settings", middleware.CorrelationID(enableCORS(settingsHandler.GetSettings)))
	mux.Handle("PUT /settings", middleware.CorrelationID(enableCORS(settingsHandler.UpdateSettings)))

	mux.Handle("GET /jobs/failed", middleware.CorrelationID(enableCORS(jobHandler.List)))
	mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(enableCORS(jobHandler.Retry)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	})

	return &App{
		Handler:            mux,
		DocumentService:    docService,
		Processor:          processor,
		EmbedRetryConsumer: embedRetry,
		port:               cfg.ServerPort,
	}, nil
}

// seedAPIKey copies the environment key into runtime settings on first boot,
// so a fresh deployment works before anyone touches PUT /settings.
func seedAPIKey(cfg *config.Config, svc *settings.Service) {
	if cfg.GeminiAPIKey == "" {
		return
	}
	ctx := context.Background()
	set, err := svc.Get(ctx)
	if err != nil {
		slog.Warn("failed to fetch settings for seeding", "error", err)
		return
	}
	if set.GeminiAPIKey != "" {
		return
	}
	set.GeminiAPIKey = cfg.GeminiAPIKey
	if err := svc.Update(ctx, set); err != nil {
		slog.Warn("failed to seed gemini api key", "error", err)
	} else {
		slog.Info("seeded gemini api key from environment")
	}
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.port),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
