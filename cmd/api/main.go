package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/siteagent/siteagent/internal/action"
	"github.com/siteagent/siteagent/internal/chat"
	"github.com/siteagent/siteagent/internal/config"
	"github.com/siteagent/siteagent/internal/database"
	"github.com/siteagent/siteagent/internal/ingest"
	"github.com/siteagent/siteagent/internal/integration"
	"github.com/siteagent/siteagent/internal/llm"
	"github.com/siteagent/siteagent/internal/logging"
	"github.com/siteagent/siteagent/internal/monitoring"
	"github.com/siteagent/siteagent/internal/objstore"
	"github.com/siteagent/siteagent/internal/quota"
	"github.com/siteagent/siteagent/internal/secrets"
	"github.com/siteagent/siteagent/internal/server"
	"github.com/siteagent/siteagent/internal/vector"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logging.Setup(&cfg.Logging, cfg.Server.Env)

	log.Info().
		Str("env", cfg.Server.Env).
		Msg("Starting SiteAgent API server")

	// Initialize database connection
	db, err := database.New(cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	redis, err := database.NewRedis(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redis.Close()

	// Initialize Prometheus metrics
	monitoring.Init()
	log.Info().Msg("Prometheus metrics initialized")

	// Start metrics server if enabled
	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(cfg.Monitoring.PrometheusPort)
	}

	cipher, err := secrets.NewCipher(cfg.Encryption.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize token encryption")
	}

	blobs, err := objstore.NewS3Store(context.Background(), &cfg.S3)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize object storage")
	}

	llmClient := llm.NewClient(&cfg.OpenAI)
	vectorClient := vector.NewClient(&cfg.Pinecone)

	ingestStore := ingest.NewPgStore(db.Pool)
	engine := ingest.NewEngine(ingestStore, llmClient, vectorClient, blobs, &cfg.Ingest)

	tokens := integration.NewTokenStore(db.Pool, cipher)
	chatService := chat.NewService(
		chat.NewPgStore(db.Pool),
		llmClient,
		vectorClient,
		quota.NewManager(db.Pool, redis),
		action.NewExecutor(secrets.NewVault(db.Pool, cipher)),
		integration.NewHandlers(tokens),
		tokens,
	)

	// Create and start server
	srv := server.NewAPIServer(cfg, db.Pool, server.Deps{
		Chat:    chatService,
		Ingest:  engine,
		Docs:    ingestStore,
		Cascade: server.NewCascade(db.Pool, vectorClient, blobs),
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Msg("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().
		Str("signal", sig.String()).
		Msg("Shutdown signal received, gracefully shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited gracefully")
}

func startMetricsServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.Handler())

	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Info().
		Int("port", port).
		Msg("Prometheus metrics server listening")

	if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Metrics server error")
	}
}
