package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/docaudit/internal/annotate"
	"github.com/dgallion1/docaudit/internal/api"
	"github.com/dgallion1/docaudit/internal/audit"
	"github.com/dgallion1/docaudit/internal/config"
	"github.com/dgallion1/docaudit/internal/corpus"
	"github.com/dgallion1/docaudit/internal/metrics"
	"github.com/dgallion1/docaudit/internal/parser"
	"github.com/dgallion1/docaudit/internal/pipeline"
	"github.com/dgallion1/docaudit/internal/rules"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	header, err := audit.LoadHeader(cfg.PromptFile)
	if err != nil {
		log.Error("load prompt header", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	store := rules.NewStore(cfg.RulesPath, log)

	// Initialize clients.
	decoder := &parser.Decoder{
		MaxImageEdge:      cfg.MaxImageEdge,
		FallbackPdftotext: cfg.PDFFallbackPdftotext,
	}
	claude := audit.NewClient(audit.Options{
		APIKey:    cfg.AnthropicAPIKey,
		Model:     cfg.AnthropicModel,
		BaseURL:   cfg.AnthropicBaseURL,
		MaxTokens: cfg.MaxReportTokens,
	}, log)

	// Initialize pipeline.
	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Aggregator:   corpus.NewAggregator(decoder, log, m),
		Streamer:     claude,
		Highlighter:  annotate.New(nil, cfg.HighlightZoom, log),
		Rules:        store,
		Observer:     m,
		PromptHeader: header,
		SessionTTL:   cfg.SessionTTL,
	}, log)
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(orch, store, m, log, cfg)

	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     srv,
		ReadTimeout: 60 * time.Second,
		// Audit responses stream for as long as the model writes.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		orch.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		claude.Close()
	}()

	log.Info("starting docaudit", "port", cfg.Port, "model", cfg.AnthropicModel, "rules", len(store.List()))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
