package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"

	"halcyon/config"
	"halcyon/internal/archive"
	"halcyon/internal/dedupe"
	"halcyon/internal/draft"
	"halcyon/internal/gorgias"
	"halcyon/internal/handlers"
	"halcyon/internal/queue"
	"halcyon/internal/worker"
	"halcyon/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Idempotency store: SQL when DATABASE_URL is set, else in-memory.
	var claims dedupe.Store
	if cfg.DatabaseURL != "" {
		sqlStore, err := dedupe.NewSQLStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize claims store")
		}
		go sqlStore.PurgeLoop(ctx, time.Hour)
		claims = sqlStore
	} else {
		log.Warn().Msg("DATABASE_URL not set; claims are in-memory and will not survive restarts")
		claims = dedupe.NewMemoryStore()
	}
	defer claims.Close()

	q, err := queue.New(cfg.AMQPURL, cfg.QueueName)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize job queue")
	}
	defer q.Close()

	gorgiasClient, err := gorgias.NewClient(cfg.GorgiasDomain, cfg.GorgiasEmail, cfg.GorgiasAPIKey, cfg.GorgiasSenderEmail)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Gorgias client")
	}

	var archiver worker.Archiver
	if cfg.S3Bucket != "" {
		s3Archiver, err := archive.NewS3Archiver(cfg.S3Region, cfg.S3Endpoint, cfg.S3Bucket, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3PathStyle)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize S3 archive")
		}
		archiver = s3Archiver
	}

	outcomes := worker.NewOutcomeLog(1000, 500)
	w := worker.New(gorgiasClient, claims, draft.Baseline{}, archiver, outcomes, cfg.QueueMaxAttempts)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := q.Consume(ctx, cfg.WorkerConcurrency, w.Process); err != nil {
			log.Error().Err(err).Msg("Consumer stopped with error")
			stop()
		}
	}()

	webhookHandler := handlers.NewWebhookHandler(q, cfg.WebhookSecret)
	statusHandler := handlers.NewStatusHandler(outcomes)

	chain := alice.New(handlers.Recoverer, handlers.RequestLogger)
	router := mux.NewRouter()
	router.Handle("/webhooks/gorgias", chain.ThenFunc(webhookHandler.Handle)).Methods(http.MethodPost)
	router.Handle("/health", chain.ThenFunc(handlers.Health)).Methods(http.MethodGet)
	router.Handle("/status", chain.ThenFunc(statusHandler.Handle)).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}

	// In-flight jobs finish or their deliveries are requeued by the broker.
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Consumer did not drain in time; unacked jobs will be redelivered")
	}

	log.Info().Msg("Shutdown complete")
}
