package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/victoria-analytics/traitmeter/internal/cluster"
	"github.com/victoria-analytics/traitmeter/internal/config"
	"github.com/victoria-analytics/traitmeter/internal/database"
	"github.com/victoria-analytics/traitmeter/internal/mapper"
	"github.com/victoria-analytics/traitmeter/internal/narrative"
	"github.com/victoria-analytics/traitmeter/internal/pipeline"
	"github.com/victoria-analytics/traitmeter/internal/server"
	"github.com/victoria-analytics/traitmeter/internal/traits"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	def, err := traits.Load(cfg.TraitsPath)
	if err != nil {
		slog.Error("Failed to load trait definition", "path", cfg.TraitsPath, "error", err)
		os.Exit(1)
	}

	templates, err := cluster.LoadTemplates(cfg.ArchetypesPath)
	if err != nil {
		slog.Error("Failed to load archetype templates", "path", cfg.ArchetypesPath, "error", err)
		os.Exit(1)
	}

	db, err := database.NewDB(cfg.DataDir)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	store := database.NewStore(db)

	var narrator pipeline.Narrator
	if cfg.NarrativeProvider != "" {
		generator, err := narrative.New(narrative.Config{
			Provider:     cfg.NarrativeProvider,
			Model:        cfg.NarrativeModel,
			OllamaHost:   cfg.OllamaHost,
			OpenAIAPIKey: cfg.OpenAIAPIKey,
		})
		if err != nil {
			slog.Error("Failed to initialize narrative generator", "error", err)
			os.Exit(1)
		}
		narrator = generator
		slog.Info("Narrative generation enabled",
			"provider", cfg.NarrativeProvider, "model", generator.Model())
	}

	scale := mapper.DefaultLikertScale()
	if cfg.ScalePath != "" {
		if scale, err = mapper.LoadScale(cfg.ScalePath); err != nil {
			slog.Error("Failed to load scale vocabulary", "path", cfg.ScalePath, "error", err)
			os.Exit(1)
		}
	}

	pipe := pipeline.New(scale, def, templates, narrator, logger)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.New(pipe, store, cfg, logger).Router(),
	}

	go func() {
		slog.Info("Starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("Server exited")
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
