package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/culturebridge/learning-engine/internal/achievements"
	"github.com/culturebridge/learning-engine/internal/api"
	"github.com/culturebridge/learning-engine/internal/catalog"
	"github.com/culturebridge/learning-engine/internal/chain"
	"github.com/culturebridge/learning-engine/internal/cleanup"
	"github.com/culturebridge/learning-engine/internal/config"
	"github.com/culturebridge/learning-engine/internal/content"
	"github.com/culturebridge/learning-engine/internal/events"
	"github.com/culturebridge/learning-engine/internal/exchange"
	"github.com/culturebridge/learning-engine/internal/health"
	"github.com/culturebridge/learning-engine/internal/learning"
	"github.com/culturebridge/learning-engine/internal/models"
	"github.com/culturebridge/learning-engine/internal/progress"
	"github.com/culturebridge/learning-engine/internal/rewards"
	"github.com/culturebridge/learning-engine/internal/storage"
	"github.com/culturebridge/learning-engine/migrations"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		slog.Error("invalid log level", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	slog.Info("starting culturebridge-engine",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Backend,
		"redis", cfg.Redis.Enabled(),
	)

	// Create context for initialization
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	cat, err := catalog.Load(cfg.Rewards.CatalogFile)
	if err != nil {
		slog.Error("failed to load reward catalog", "file", cfg.Rewards.CatalogFile, "error", err)
		os.Exit(1)
	}

	repo, err := openRepository(initCtx, cfg)
	if err != nil {
		slog.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	if err := repo.EnsureRewardPool(initCtx, cat.RewardPoolSize()); err != nil {
		slog.Error("failed to seed reward pool", "error", err)
		os.Exit(1)
	}

	library := content.NewLibrary()
	if err := library.LoadFromDir(cfg.Content.Dir); err != nil {
		slog.Warn("failed to load content from dir", "dir", cfg.Content.Dir, "error", err)
	}

	registry := health.NewRegistry(2 * time.Second)
	registry.Register("storage", health.PingChecker(repo))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := events.NewHub(64)
	var publisher events.Publisher = hub
	var locker rewards.Locker = rewards.NewLocalLocker()
	var engineOpts []rewards.Option

	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		registry.Register("redis", health.RedisChecker(rdb))

		locker = rewards.NewRedisLocker(rdb, cfg.Rewards.LockTTL, cfg.Rewards.LockWait)

		bus := events.NewRedisBus(rdb, cfg.Redis.EventsChannel)
		if err := bus.Forward(ctx, hub); err != nil {
			slog.Error("failed to subscribe to event bus", "error", err)
			os.Exit(1)
		}
		publisher = bus
		slog.Info("redis connected", "address", cfg.Redis.Address)
	}

	if cfg.Chain.MirrorEndpoint != "" {
		redisOpt := asynq.RedisClientOpt{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}

		queue := chain.NewQueue(redisOpt)
		defer queue.Close()
		engineOpts = append(engineOpts, rewards.WithMirror(queue))

		handler := chain.NewHandler(repo, chain.NewGateway(cfg.Chain.MirrorEndpoint, cfg.Chain.Timeout))
		worker := chain.NewWorker(redisOpt, handler, cfg.Chain.Concurrency)
		if err := worker.Start(); err != nil {
			slog.Error("failed to start ledger mirror worker", "error", err)
			os.Exit(1)
		}
		defer worker.Shutdown()
		slog.Info("ledger mirror enabled", "endpoint", cfg.Chain.MirrorEndpoint)
	}

	engineOpts = append(engineOpts,
		rewards.WithLocker(locker),
		rewards.WithPublisher(publisher),
		rewards.WithLedgerTimeout(cfg.Rewards.LedgerTimeout),
	)
	engine := rewards.NewEngine(cat, repo, engineOpts...)

	exchangeStore, err := exchange.Open(cfg.Exchange.Driver, cfg.Exchange.DSN)
	if err != nil {
		slog.Error("failed to open exchange store", "driver", cfg.Exchange.Driver, "error", err)
		os.Exit(1)
	}
	defer exchangeStore.Close()
	registry.Register("exchanges", health.PingChecker(exchangeStore))

	evaluator := achievements.NewEvaluator(repo, engine,
		achievements.WithParticipations(exchangeStore),
		achievements.WithPublisher(publisher),
		achievements.WithRewards(cat.AchievementRewards),
	)
	exchanges := exchange.NewService(exchangeStore, engine, publisher,
		exchange.WithAchievements(evaluator, repo),
	)

	tracker := progress.NewTracker(progress.WeeklyTargets{
		StudyMinutes:        cfg.Learning.TargetStudyMinutes,
		VocabularyWords:     cfg.Learning.TargetVocabularyWords,
		ConversationMinutes: cfg.Learning.TargetConversationMinutes,
	})

	svc := learning.NewService(repo, engine, evaluator, library,
		learning.WithTracker(tracker),
		learning.WithLocker(locker),
		learning.WithParticipations(exchanges),
		learning.WithPublisher(publisher),
	)

	// Start session sweeper
	sweeper := cleanup.NewSweeper(svc, cfg.Cleanup.Interval, cfg.Cleanup.AbandonAfter)
	if err := sweeper.Start(ctx); err != nil {
		slog.Error("failed to start session sweeper", "error", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

	// Setup HTTP server
	server := api.NewServer(cfg.Server, api.Deps{
		Repo:      repo,
		Learning:  svc,
		Rewards:   engine,
		Library:   library,
		Exchanges: exchanges,
		Hub:       hub,
		Health:    registry,
	})
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gracefully...")

	// Cancel context to stop background workers
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("culturebridge-engine stopped")
}

// openRepository connects the configured backend. Postgres is migrated on open.
func openRepository(ctx context.Context, cfg *config.Config) (storage.Repository, error) {
	if cfg.Storage.Backend == config.BackendMemory {
		slog.Warn("using in-memory storage; data is lost on restart")
		var clients []*models.ApiClient
		if cfg.Server.BootstrapAPIKey != "" {
			clients = append(clients, &models.ApiClient{
				ID:          1,
				Name:        "bootstrap",
				ApiKey:      cfg.Server.BootstrapAPIKey,
				IsActive:    true,
				CreatedAt:   time.Now().UTC(),
				Permissions: []string{"*"},
			})
		}
		return storage.NewMemoryRepository(clients...), nil
	}

	repo, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{
		DSN:          cfg.Database.DSN,
		MaxOpenConns: int32(cfg.Database.MaxOpenConns),
		MaxIdleConns: int32(cfg.Database.MaxIdleConns),
	})
	if err != nil {
		return nil, err
	}
	slog.Info("database connected successfully")

	slog.Info("running database migrations", "dir", cfg.Database.MigrationsDir)
	if err := storage.RunMigrations(ctx, repo.Pool(), storage.MigrationSource(cfg.Database.MigrationsDir, migrations.FS)); err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return repo, nil
}
