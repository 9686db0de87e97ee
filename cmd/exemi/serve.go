package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/exemi-au/exemi/internal/agent"
	"github.com/exemi-au/exemi/internal/api"
	"github.com/exemi-au/exemi/internal/auth"
	"github.com/exemi-au/exemi/internal/background"
	"github.com/exemi-au/exemi/internal/buildinfo"
	"github.com/exemi-au/exemi/internal/canvas"
	"github.com/exemi-au/exemi/internal/connwatch"
	"github.com/exemi-au/exemi/internal/conversation"
	"github.com/exemi-au/exemi/internal/database"
	"github.com/exemi-au/exemi/internal/llm"
	"github.com/exemi-au/exemi/internal/lmstools"
	"github.com/exemi-au/exemi/internal/reminders"
	"github.com/exemi-au/exemi/internal/usage"
	"github.com/exemi-au/exemi/internal/users"
)

// shutdownTimeout bounds the HTTP drain and the background runner drain.
const shutdownTimeout = 30 * time.Second

func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, cfg)
	logger.Info("starting Exemi", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Models.Default,
		"ollama_url", cfg.Models.OllamaURL,
		"timezone", cfg.Conversation.Timezone,
	)

	// SIGINT/SIGTERM cancel the same ctx every component runs under.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	watch := connwatch.NewManager(logger.With("component", "connwatch"))

	// --- Storage ---
	db, err := database.OpenAndMigrate(ctx, cfg.Database.URL, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	issuer, err := auth.NewIssuer(cfg.Auth.SecretKey, cfg.Auth.SessionTTL, cfg.Auth.MagicTTL)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// --- Redis (optional) ---
	var (
		cache   canvas.Cache
		limiter api.Limiter
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		// Both consumers fail open, so an unreachable Redis only costs
		// caching and throttling.
		watch.Watch(ctx, "redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}, connwatch.DefaultSchedule())
		cache = canvas.NewRedisCache(rdb, logger)
		limiter = api.NewRedisLimiter(rdb, "exemi:login:", cfg.RateLimit.LoginQPS)
		logger.Info("redis enabled", "addr", opts.Addr, "login_qps", cfg.RateLimit.LoginQPS)
	} else {
		logger.Info("redis disabled (not configured), canvas cache and login rate limit off")
	}

	// --- Domain services ---
	loc := cfg.Location()
	userStore := users.NewStore(db)
	userSvc := users.NewService(userStore, issuer, logger)

	unis := canvas.NewUniversities(db, cfg.Canvas.BaseURL)
	canvasClient := canvas.NewClient(canvas.ClientConfig{
		PerPage:  cfg.Canvas.PerPage,
		MaxItems: cfg.Canvas.MaxItems,
		Timeout:  cfg.Canvas.Timeout,
		Cache:    cache,
		CacheTTL: cfg.Canvas.CacheTTL,
	}, logger)
	canvasSvc := canvas.NewService(canvasClient, logger)
	mirror := canvas.NewMirror(db, logger)

	reminderSvc := reminders.NewService(reminders.NewStore(db), loc, logger)

	// --- LLM ---
	ollama := llm.NewOllamaClient(cfg.Models.OllamaURL, logger)
	watch.Watch(ctx, "ollama", ollama.Ping, connwatch.DefaultSchedule())
	usageStore := usage.NewStore(db)
	provider := lmstools.NewProvider(canvasSvc, reminderSvc, loc, cfg.Conversation.ReminderWindowDays, logger)
	agents := agent.NewFactory(ollama, provider, agent.Config{
		Model:         cfg.Models.Default,
		MaxIterations: cfg.Models.MaxIterations,
		Usage:         usageStore,
	}, logger)

	runner := background.NewRunner(cfg.Background.Workers, cfg.Background.QueueSize, logger)
	convSvc := conversation.NewService(conversation.NewStore(db), userStore, agents, runner,
		conversation.Options{ToolResultNotice: cfg.Conversation.ToolResultNotice}, logger)

	server := api.NewServer(cfg.Listen, api.Deps{
		DB:            db,
		Users:         userSvc,
		Universities:  unis,
		Canvas:        canvasSvc,
		Mirror:        mirror,
		Reminders:     reminderSvc,
		Conversations: convSvc,
		Runner:        runner,
		Usage:         usageStore,
		Limiter:       limiter,
		Health:        watch,
		Location:      loc,
	}, logger.With("component", "api"))

	// ListenAndServe returns as soon as Shutdown begins, so stopped
	// closes only once in-flight requests have drained.
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("api shutdown failed", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}
	cancel()
	<-stopped

	// Handlers have returned, so every deferred persist is queued.
	drainCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := runner.Close(drainCtx); err != nil {
		logger.Error("background tasks did not finish", "error", err)
	}

	watch.Stop()

	logger.Info("Exemi stopped")
	return nil
}

