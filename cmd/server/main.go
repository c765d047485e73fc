package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"

	_ "github.com/duckdb/duckdb-go/v2"

	"dfc-rewriter/internal/api"
	"dfc-rewriter/internal/config"
	"dfc-rewriter/internal/engine"
	"dfc-rewriter/internal/sqlrewrite"
	"dfc-rewriter/policy"
)

func main() {
	ctx := context.Background()

	// Load .env file (if present)
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("warning: could not load .env: %v", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := cfg.NewLogger()

	db, err := sql.Open("duckdb", cfg.DBPath)
	if err != nil {
		logger.Error("open duckdb", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	eng := engine.New(db, logger)

	if cfg.PolicyFile != "" {
		policies, err := policy.LoadFile(cfg.PolicyFile)
		if err != nil {
			logger.Error("load policy file", "path", cfg.PolicyFile, "error", err)
			os.Exit(1)
		}
		if err := eng.RegisterAll(ctx, policies); err != nil {
			logger.Error("register policies", "error", err)
			os.Exit(1)
		}
		logger.Info("policies loaded", "path", cfg.PolicyFile, "count", len(policies))
	}

	handler := api.New(eng, logger, cfg.TwoPhase, sqlrewrite.ChunkOptions{
		Threshold: cfg.ChunkThreshold,
		BatchSize: cfg.ChunkBatchSize,
	})
	router := handler.Routes(cfg.CORSAllowedOrigins)

	logger.Info("listening", "addr", cfg.ListenAddr, "env", cfg.Env)
	if err := http.ListenAndServe(cfg.ListenAddr, router); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
