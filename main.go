package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tapline-data/mapping-engine/pkg/config"
	"github.com/tapline-data/mapping-engine/pkg/database"
	"github.com/tapline-data/mapping-engine/pkg/handlers"
	"github.com/tapline-data/mapping-engine/pkg/llm"
	"github.com/tapline-data/mapping-engine/pkg/logging"
	"github.com/tapline-data/mapping-engine/pkg/repositories"
	"github.com/tapline-data/mapping-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("database", cfg.Database.Host),
		zap.Bool("oracle_available", cfg.Oracle.IsAvailable()))

	ctx := context.Background()

	// Without Postgres the engine still serves detections; the synonym and
	// learned strategies see empty stores and history is not persisted.
	var synonymRepo repositories.SynonymRepository
	var historyRepo repositories.MappingHistoryRepository
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Warn("Database unavailable, running without synonym dictionary and mapping history", zap.Error(err))
	} else {
		defer db.Close()

		if err := db.Migrate(cfg.MigrationsPath, logger); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}

		synonymRepo = repositories.NewSynonymRepository(db)
		historyRepo = repositories.NewMappingHistoryRepository(db)
	}

	// Without an oracle endpoint the engine runs rule-based strategies only.
	var headerOracle services.HeaderOracle
	var mappingOracle services.MappingOracle
	if cfg.Oracle.IsAvailable() {
		client, err := llm.NewClient(&llm.Config{
			Endpoint: cfg.Oracle.Endpoint,
			Model:    cfg.Oracle.Model,
			APIKey:   cfg.Oracle.APIKey,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create LLM client", zap.Error(err))
		}
		oracle := llm.NewOracle(client, logger)
		headerOracle = oracle
		mappingOracle = oracle
	} else {
		logger.Warn("Oracle endpoint not configured, AI strategies disabled")
	}

	detection := services.NewDetectionService(synonymRepo, historyRepo, headerOracle, mappingOracle, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewDetectHandler(detection, historyRepo, synonymRepo, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Starting mapping-engine",
		zap.String("addr", server.Addr),
		zap.String("version", cfg.Version))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("Server failed", zap.Error(err))
	}
}
