package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/songzhibin97/genai-bot/access"
	"github.com/songzhibin97/genai-bot/bot"
	"github.com/songzhibin97/genai-bot/comfy"
	"github.com/songzhibin97/genai-bot/config"
	"github.com/songzhibin97/genai-bot/discord"
	"github.com/songzhibin97/genai-bot/events"
	"github.com/songzhibin97/genai-bot/health"
	"github.com/songzhibin97/genai-bot/llm"
	"github.com/songzhibin97/genai-bot/models"
	"github.com/songzhibin97/genai-bot/rules"
	"github.com/songzhibin97/genai-bot/settings"
	"github.com/songzhibin97/genai-bot/storage"
	"github.com/songzhibin97/genai-bot/workflow"
)

// app holds the long-lived components of a running bot.
type app struct {
	store     storage.Storage
	bus       *events.EventBus
	workflows *workflow.Store
	comfy     *comfy.Client
	bot       *bot.Bot
	adapter   *discord.Adapter
	health    health.Server
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	catalog, err := loadCatalog(cfg.Comfy.ModelMappings, logger)
	if err != nil {
		return nil, err
	}
	if a.store, err = openStorage(ctx, cfg); err != nil {
		return nil, err
	}

	a.bus = events.NewEventBus(events.WithErrorHandler(func(e events.Event, err error) {
		logger.Warn("event handler failed", "type", e.Type, "key", e.Key, "error", err)
	}))
	subscribeLogging(a.bus, logger)

	svc, err := settings.NewService(a.store, settings.NewIDGenerator(cfg.Storage.NodeID), catalog.Default())
	if err != nil {
		return nil, err
	}
	a.workflows = workflow.NewStore(
		workflow.WithTTL(cfg.Workflow.TTL),
		workflow.WithPublisher(a.bus),
		workflow.WithStoreLogger(logger),
	)
	orch, err := workflow.NewOrchestrator(a.workflows, svc, catalog, rules.NewExprEvaluator(), logger)
	if err != nil {
		return nil, err
	}

	opts := bot.Options{
		Settings:        svc,
		View:            orch,
		Access:          access.NewChecker(a.store, cfg.Discord.GlobalAdminID),
		Catalog:         catalog,
		Features:        bot.Features{Text: cfg.Features.Text, Image: cfg.Features.Image},
		ImagesPerMinute: cfg.Limits.ImagePerMinute,
		Logger:          logger,
	}
	if cfg.Features.Text {
		opts.Text = llm.New(llm.Options{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Logger:      logger,
		})
	}
	if cfg.Features.Image {
		a.comfy, err = comfy.NewClient(comfy.Options{
			URL:       cfg.Comfy.URL,
			WSURL:     cfg.Comfy.WSURL,
			Timeout:   cfg.Comfy.Timeout,
			Publisher: a.bus,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		opts.Images = a.comfy
		opts.Graphs = comfy.NewBuilder()
	}
	if a.bot, err = bot.New(opts); err != nil {
		return nil, err
	}

	a.adapter, err = discord.New(discord.Options{
		Token:          cfg.Discord.Token,
		AppID:          cfg.Discord.AppID,
		GuildID:        cfg.Discord.GuildID,
		MentionReplies: cfg.Discord.MentionReplies && cfg.Features.Text,
		Logger:         logger,
	}, a.bot)
	if err != nil {
		return nil, err
	}

	a.health = health.Server{Checks: map[string]health.Pinger{"storage": a.store}, Logger: logger}
	return a, nil
}

// Close releases the components in reverse start order.
func (a *app) Close() {
	if a.comfy != nil {
		_ = a.comfy.Close()
	}
	if a.bus != nil {
		a.bus.Stop()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return storage.NewMemoryStorage(), nil
	case "redis":
		r := cfg.Storage.Redis
		s, err := storage.NewRedisStorage(storage.RedisOptions{
			Addr:         r.Addr,
			Password:     r.Password,
			DB:           r.DB,
			PoolSize:     r.PoolSize,
			MinIdleConns: r.MinIdleConns,
			IdleTimeout:  r.IdleTimeout,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := storage.NewPostgresStorage(ctx, cfg.Storage.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

// loadCatalog reads the model mappings. A missing file yields an empty catalog.
func loadCatalog(path string, logger *slog.Logger) (*models.Catalog, error) {
	catalog, err := models.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("model mappings not found, model choices disabled", "path", path)
		return catalog, nil
	}
	if err != nil {
		return nil, err
	}
	logger.Info("model mappings loaded", "path", path, "models", len(catalog.Choices()), "default", catalog.Default())
	return catalog, nil
}

// subscribeLogging logs every lifecycle event; progress goes to debug.
func subscribeLogging(bus *events.EventBus, logger *slog.Logger) {
	types := []string{
		events.JobSubmitted, events.JobProgress, events.JobCompleted, events.JobFailed,
		events.WorkflowStarted, events.WorkflowCompleted, events.WorkflowExpired,
	}
	for _, t := range types {
		bus.SubscribeFunc(t, func(ctx context.Context, e events.Event) error {
			level := slog.LevelInfo
			switch e.Type {
			case events.JobProgress:
				level = slog.LevelDebug
			case events.JobFailed:
				level = slog.LevelWarn
			}
			args := []any{"type", e.Type, "key", e.Key}
			for k, v := range e.Data {
				args = append(args, k, v)
			}
			logger.Log(ctx, level, "event", args...)
			return nil
		})
	}
}
