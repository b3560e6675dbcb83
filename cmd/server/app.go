package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/eldtechnologies/supportbot/internal/bridge"
	"github.com/eldtechnologies/supportbot/internal/config"
	"github.com/eldtechnologies/supportbot/internal/engine"
	"github.com/eldtechnologies/supportbot/internal/gateway"
	"github.com/eldtechnologies/supportbot/internal/logging"
	"github.com/eldtechnologies/supportbot/internal/mail"
	"github.com/eldtechnologies/supportbot/internal/models"
	"github.com/eldtechnologies/supportbot/internal/queue"
	"github.com/eldtechnologies/supportbot/internal/store"
	"github.com/eldtechnologies/supportbot/internal/tasks"
)

// App is the wired set of components shared by every command. The queue
// side (rdb, queue, scheduler, orch) is nil without a Redis server.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	store     store.DataStore
	rdb       redis.UniversalClient
	queue     *queue.Queue
	scheduler *queue.Scheduler
	orch      *tasks.Orchestrator

	hub    *bridge.Hub
	bridge *bridge.Bridge
	runner *tasks.Runner
}

// loadApp reads the configuration and builds the App for a command.
func loadApp(ctx context.Context, command string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Options{
		Service:     "supportbot-" + command,
		Development: cfg.IsDevelopment(),
		ToStdout:    cfg.LogToStdout,
		Folder:      cfg.LogFolder,
		Filename:    command + ".log",
	})
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if seedFlag != "" {
		if _, err := a.seed(ctx, seedFlag); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	s, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.store = s

	if cfg.RedisURL != "" {
		rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		logger.Info().Msg("connected to Redis")
		a.attachRedis(rdb)
	} else {
		logger.Warn().Msg("REDIS_URL not set, background tasks are disabled")
	}

	a.hub = bridge.NewHub(logger)
	var publisher bridge.Publisher = bridge.NewLocalPublisher(a.hub)
	if a.rdb != nil {
		publisher = bridge.NewRedisPublisher(a.rdb, cfg.RedisRoot)
	}

	eng := engine.New(engine.Deps{
		Store: s,
		Gateway: gateway.New(gateway.Config{
			LogisticsURL: cfg.LogisticsURL,
			TelecomURL:   cfg.TelecomURL,
			Token:        cfg.APIToken,
			Timeout:      cfg.APITimeout,
		}, logger),
		Logger: logger,
	})
	a.bridge = bridge.New(bridge.Deps{
		Engine:       eng,
		Store:        s,
		Publisher:    publisher,
		UploadFolder: cfg.UploadFolder,
		Logger:       logger,
	})

	var mailer mail.Sender
	if cfg.MailEnabled() {
		mailer = mail.New(mail.Config{
			Server:   cfg.MailServer,
			Port:     cfg.MailPort,
			Username: cfg.MailUsername,
			Password: cfg.MailPassword,
			UseTLS:   cfg.MailUseTLS,
			Sender:   cfg.MailSender,
		}, logger)
	}
	if a.orch != nil {
		a.runner = tasks.NewRunner(tasks.RunnerDeps{
			Store:         s,
			Orchestrator:  a.orch,
			Replier:       a.bridge,
			Mailer:        mailer,
			Admins:        cfg.Admins,
			Sender:        cfg.MailSender,
			SweepInterval: cfg.SweepInterval,
			ErrorWindow:   cfg.ErrorWindow,
			Logger:        logger,
		})
	}
	return a, nil
}

// attachRedis builds the queue side of the app on rdb.
func (a *App) attachRedis(rdb redis.UniversalClient) {
	a.rdb = rdb
	a.queue = queue.New(rdb, a.cfg.RedisRoot)
	a.scheduler = queue.NewScheduler(a.queue, 0, a.logger)
	a.orch = tasks.New(tasks.Deps{
		Store:     a.store,
		Queue:     a.queue,
		Scheduler: a.scheduler,
		Logger:    a.logger,
	})
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.DataStore, error) {
	switch cfg.StorageBackend() {
	case "postgres":
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		logger.Info().Msg("migrations completed")

		s, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres connection failed: %w", err)
		}
		logger.Info().Msg("connected to PostgreSQL")
		return s, nil
	case "sqlite":
		s, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite open failed: %w", err)
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite")
		return s, nil
	default:
		logger.Warn().Msg("using in-memory storage, data is lost on exit")
		return store.NewMemoryStore(), nil
	}
}

// seed loads lookup records from a YAML file into the store.
func (a *App) seed(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}
	var seed models.Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return 0, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	n, err := a.store.SeedLookups(ctx, &seed)
	if err != nil {
		return 0, fmt.Errorf("seed lookups: %w", err)
	}
	a.logger.Info().Str("file", path).Int("inserted", n).Msg("lookup records seeded")
	return n, nil
}

// requireQueue fails commands that need Redis when none is configured.
func (a *App) requireQueue() error {
	if a.orch == nil {
		return fmt.Errorf("REDIS_URL is required for this command")
	}
	return nil
}

// Close releases connections.
func (a *App) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}
