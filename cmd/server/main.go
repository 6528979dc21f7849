package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"mail-insights/internal/config"
	"mail-insights/internal/cronexpr"
	"mail-insights/internal/database"
	"mail-insights/internal/email"
	"mail-insights/internal/llm"
	"mail-insights/internal/pipeline"
	"mail-insights/internal/priority"
	"mail-insights/internal/progress"
	"mail-insights/internal/server"
	"mail-insights/internal/templates"
	"mail-insights/internal/workers"
)

func main() {
	configFile := flag.String("config", "", "Path to config file (optional)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("Failed to open database", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("Database ready", "path", cfg.Database.Path)

	if err := templates.Seed(db.Templates); err != nil {
		logger.Error("Failed to seed prompt templates", "error", err)
		os.Exit(1)
	}

	active, err := db.Templates.ListActive()
	if err != nil {
		logger.Error("Failed to load prompt templates", "error", err)
		os.Exit(1)
	}

	llmClient, err := llm.New(cfg.LLM, logger)
	if err != nil {
		logger.Error("Failed to build LLM client", "error", err)
		os.Exit(1)
	}
	if !llmClient.IsEnabled() {
		logger.Warn("LLM analysis disabled, emails will get neutral fallback analyses")
	}

	pool := email.NewConnectionPool(email.PoolConfig{
		ConnectTimeout:  cfg.IMAP.ConnectTimeout,
		HealthFreshness: cfg.IMAP.HealthFreshness,
		AcquireTimeout:  cfg.IMAP.AcquireTimeout,
	}, logger)
	fetcher := email.NewIMAPFetcher(pool, email.FetcherConfig{
		FetchTimeout:   cfg.IMAP.FetchTimeout,
		ConnectTimeout: cfg.IMAP.ConnectTimeout,
	}, logger)
	defer fetcher.CloseAll()

	catalog := templates.NewCatalog(active, nil, cfg.Embedding.MinConfidence, logger)
	engine := priority.NewEngine(logger)
	pipe := pipeline.New(db.ProcessedEmails, catalog, llmClient, engine, pipeline.Config{
		DefaultModel: cfg.LLM.DefaultModel,
		Temperature:  cfg.LLM.Temperature,
	}, logger)

	hub := progress.NewHub(logger)
	cron := cronexpr.New()
	orchestrator := workers.NewOrchestrator(db, fetcher, pipe, cron, hub, workers.OrchestratorConfig{
		MaxMessagesPerRun: cfg.Execution.MaxMessagesPerRun,
		DefaultBatchSize:  cfg.Execution.DefaultBatchSize,
	}, logger)

	dispatcher := workers.NewDispatcher(db, orchestrator, workers.DispatcherConfig{
		TickInterval:        cfg.Scheduler.TickInterval,
		StaleLockGrace:      cfg.Scheduler.StaleLockGrace,
		StaleExecutionGrace: cfg.Scheduler.StaleExecutionGrace,
		RetentionDays:       cfg.Execution.RetentionDays,
	}, logger)

	dispatcherCtx, stopDispatcher := context.WithCancel(context.Background())
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Run(dispatcherCtx)
	}()

	router := server.NewRouter(server.Deps{
		DB:           db,
		LLM:          llmClient,
		Cron:         cron,
		Orchestrator: orchestrator,
		Hub:          hub,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: router,

		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams stay open indefinitely
		IdleTimeout:  60 * time.Second,
	}

	stop := func() {
		stopDispatcher()
		<-dispatcherDone
	}
	if err := server.HandleSignals(srv, 30*time.Second, stop, logger); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}
