package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"

	"vellum/internal/app"
	"vellum/internal/config"
	"vellum/internal/logger"
)

func main() {
	handler := logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil))
	log := slog.New(handler)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// run wires everything and blocks until the context is cancelled. Kept
// separate from main so the smoke test can drive a full startup.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.DB.Close()
	defer deps.NSQProducer.Stop()

	application, err := app.New(cfg, deps.DB, deps.VectorStore, deps.NSQProducer, log)
	if err != nil {
		return err
	}
	// Shutdown cancels in-flight pipeline runs at their next stage boundary.
	application.Processor.BindContext(ctx)
	application.EmbedRetryConsumer.BindContext(ctx)

	consumers, err := startConsumers(cfg, application)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range consumers {
			c.Stop()
			<-c.StopChan
		}
	}()

	return application.Run(ctx)
}

// startConsumers attaches the pipeline to NSQ: the ingest.task pool running
// the Extract -> Chunk -> Embed pipeline, and the ingest.embed consumer for
// scoped batch retries.
func startConsumers(cfg *config.Config, application *app.App) ([]*nsq.Consumer, error) {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = cfg.IngestConcurrency

	taskConsumer, err := nsq.NewConsumer(config.TopicIngestTask, "pipeline", nsqCfg)
	if err != nil {
		return nil, err
	}
	taskConsumer.AddConcurrentHandlers(application.Processor, cfg.IngestConcurrency)

	embedConsumer, err := nsq.NewConsumer(config.TopicIngestEmbed, "pipeline", nsq.NewConfig())
	if err != nil {
		return nil, err
	}
	embedConsumer.AddHandler(application.EmbedRetryConsumer)

	// Discovery via lookupd in production; an empty NSQ_LOOKUPD connects
	// straight to nsqd for single-node setups.
	connect := func(c *nsq.Consumer) error {
		if cfg.NSQLookupd == "" {
			return c.ConnectToNSQD(cfg.NSQDHost)
		}
		return c.ConnectToNSQLookupd(cfg.NSQLookupd)
	}

	consumers := []*nsq.Consumer{taskConsumer, embedConsumer}
	for _, c := range consumers {
		if err := connect(c); err != nil {
			slog.Error("failed to connect consumer to NSQ", "error", err)
			return nil, err
		}
	}
	slog.Info("NSQ consumers connected", "concurrency", cfg.IngestConcurrency)
	return consumers, nil
}
