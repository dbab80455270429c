package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/local/finextractor/internal/ai"
	"github.com/local/finextractor/internal/config"
	"github.com/local/finextractor/internal/logger"
	"github.com/local/finextractor/internal/metrics"
	"github.com/local/finextractor/internal/pipeline"
	"github.com/local/finextractor/internal/queue"
	"github.com/local/finextractor/internal/statuscheck"
	"github.com/local/finextractor/internal/storage"
	"github.com/local/finextractor/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	if err := logger.Init(cfg.Logging, cfg.Axiom); err != nil {
		log.Fatal().Err(err).Msg("failed to init logger")
	}
	defer logger.Close()

	metrics.Init()

	rq, err := queue.NewRedisQueue(cfg.Queue.RedisURL, cfg.Queue.Stream, cfg.Queue.Group, cfg.Queue.PollInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rq.Close()

	rs, err := store.NewRedisStatus(cfg.Queue.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init redis status store")
	}
	defer rs.Close()

	client, err := buildClient(cfg.Providers)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build inference client")
	}
	log.Info().Str("provider", client.Name()).Str("model", cfg.Providers.ExtractModel).Msg("inference provider selected")

	result, fetcher, s3Pinger, err := buildResultStore(cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init result storage")
	}

	checker := statuscheck.New(statuscheck.Options{
		Redis:        rs,
		S3:           s3Pinger,
		OpenAIKey:    cfg.Providers.OpenAIKey,
		AnthropicKey: cfg.Providers.AnthropicKey,
	})

	pipe := pipeline.New(cfg, client, rs, result, fetcher, rq)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		hostname, _ := os.Hostname()
		pipeline.NewWorker(rq, rs, pipe, hostname).Run(ctx)
	}()

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: pipeline.NewServer(rq, rs, result, checker, os.TempDir()).Handler(),
	}
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	cancel()
	<-workerDone
	log.Info().Msg("shutdown complete")
}

// buildClient resolves the provider once at startup; nothing downstream
// branches on the engine name.
func buildClient(cfg config.ProvidersConfig) (ai.Client, error) {
	switch cfg.Engine {
	case "openai", "":
		return ai.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.RequestTimeout), nil
	case "anthropic":
		return ai.NewAnthropicClient(cfg.AnthropicKey, cfg.AnthropicBaseURL, cfg.RequestTimeout), nil
	}
	return nil, &unknownEngineError{engine: cfg.Engine}
}

type unknownEngineError struct{ engine string }

func (e *unknownEngineError) Error() string {
	return "unknown inference engine: " + e.engine
}

func buildResultStore(cfg config.StorageConfig) (storage.Store, storage.SourceFetcher, statuscheck.Pinger, error) {
	if !cfg.Enabled {
		local, err := storage.NewLocalStore(cfg.LocalDir)
		return local, nil, nil, err
	}
	s3Store, err := storage.NewS3Store(context.Background(), cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return s3Store, s3Store, s3Store, nil
}
