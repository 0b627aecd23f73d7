// Package main is the entry point of the progression worker.
//
// The worker owns the background side of the progression engine:
//   - applying database migrations at startup
//   - warming the reward catalog and sharing it through Redis
//   - relaying domain events to Redis pub/sub
//   - expiring abandoned PvP matches on a schedule
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/linguaquest/progression/config"
	"github.com/linguaquest/progression/internal/application/engine"
	"github.com/linguaquest/progression/internal/domain/reward"
	"github.com/linguaquest/progression/internal/infrastructure/catalog"
	"github.com/linguaquest/progression/internal/infrastructure/messaging"
	"github.com/linguaquest/progression/internal/infrastructure/persistence/postgres"
	"github.com/linguaquest/progression/internal/infrastructure/persistence/projections"
	"github.com/linguaquest/progression/internal/infrastructure/persistence/redis"
	"github.com/linguaquest/progression/internal/infrastructure/scheduler"
	"github.com/linguaquest/progression/internal/infrastructure/scheduler/jobs"
	opshttp "github.com/linguaquest/progression/internal/interface/http"
	"github.com/linguaquest/progression/internal/interface/http/handlers"
	"github.com/linguaquest/progression/pkg/logger"
	"github.com/linguaquest/progression/pkg/retry"
	"github.com/linguaquest/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	defer func() { _ = log.Sync() }()

	log.Info("starting progression worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("reference_tz", cfg.App.ReferenceTZ),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	var conn *postgres.Connection
	err = retry.DatabaseRetrier().Do(ctx, func(ctx context.Context) error {
		c, err := postgres.NewConnection(ctx, postgresConfig(cfg.Database))
		if err != nil {
			log.Warn("database not ready", logger.Err(err))
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		conn.Close()
	}()
	log.Info("database connection established")

	if cfg.Database.AutoMigrate {
		applied, err := postgres.NewMigrator(conn).Migrate(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date", logger.Int("applied", applied))
	}

	store := postgres.NewStore(conn)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var cache *redis.Cache
	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		cache, err = redis.NewCache(redisConfig(cfg.Redis))
		if err != nil {
			log.Warn("failed to connect to Redis, shared catalog and relay disabled", logger.Err(err))
			cache = nil
		} else {
			defer func() { _ = cache.Close() }()
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REWARD CATALOG
	// ─────────────────────────────────────────────────────────────────────────
	var (
		catalogOpts  []reward.CachedCatalogOption
		catalogCache *redis.CatalogCache
	)
	if cache != nil {
		catalogCache = redis.NewCatalogCache(cache, "rewards", log)
		catalogOpts = append(catalogOpts, reward.WithSharedCache(catalogCache))
	}
	rewards := reward.NewCachedCatalog(catalog.NewFileSource(cfg.Engine.CatalogPath), cfg.Engine.CatalogTTL, catalogOpts...)

	cat, err := rewards.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to load reward catalog: %w", err)
	}
	log.Info("reward catalog loaded",
		logger.String("version", cat.Version),
		logger.Int("achievements", len(cat.Achievements)),
		logger.Int("quests", len(cat.Quests)),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = log
	bus := messaging.NewInMemoryEventBus(busCfg)
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	if err := bus.SubscribeAll(messaging.LogEvents(log)); err != nil {
		return fmt.Errorf("failed to subscribe event logger: %w", err)
	}
	if cache != nil {
		relay := messaging.NewRedisRelay(cache, cfg.Redis.WriteTimeout)
		if err := bus.SubscribeAll(relay.Handle); err != nil {
			return fmt.Errorf("failed to subscribe redis relay: %w", err)
		}
		log.Info("relaying events to Redis", logger.String("instance_id", relay.InstanceID()))
	}

	cards := projections.NewProgressCardView()
	if err := cards.Register(bus); err != nil {
		return fmt.Errorf("failed to register progress cards: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ENGINE
	// ─────────────────────────────────────────────────────────────────────────
	eng, err := engine.New(engine.Deps{
		Store:     store,
		Catalog:   rewards,
		Reference: timeutil.NewReference(timeutil.SystemClock{}, cfg.App.Location),
		Features:  cfg.Features,
		Events:    bus,
		Logger:    log,
	}, engine.Options{
		StoreTimeout:      cfg.Engine.StoreTimeout,
		StreakCASAttempts: cfg.Engine.StreakCASAttempts,
		MaxBet:            cfg.Match.MaxBet,
		AbandonAfter:      cfg.Match.AbandonAfter,
	})
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	var (
		sched  *scheduler.Scheduler
		expire = jobs.NewExpireMatchesJob(eng, log)
	)
	if cfg.Scheduler.Enabled {
		schedCfg := scheduler.DefaultConfig()
		schedCfg.Logger = log
		schedCfg.Timezone = cfg.App.Location
		schedCfg.MaxConcurrentJobs = cfg.Scheduler.MaxConcurrentJobs
		schedCfg.JobTimeout = cfg.Scheduler.JobTimeout
		sched = scheduler.NewScheduler(schedCfg)

		if err := sched.Register(expire, cfg.Scheduler.ExpireMatchesInterval); err != nil {
			return fmt.Errorf("failed to register jobs: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		log.Info("scheduler disabled")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. OPS SERVER
	// ─────────────────────────────────────────────────────────────────────────
	var ops *opshttp.Server
	if cfg.Observability.OpsAddr != "" {
		health := handlers.NewCompositeHealthChecker(cfg.App.Version)
		health.SetTimeout(cfg.Engine.StoreTimeout)
		health.AddCritical("postgres", handlers.NewPingCheck(store))
		if cache != nil {
			health.AddOptional("redis", handlers.NewPingCheck(cache))
		}

		metrics := map[string]opshttp.MetricsFunc{
			"event_bus":      func() interface{} { return bus.Stats() },
			"progress_cards": func() interface{} { return cards.Count() },
			"expire_matches": func() interface{} { return expire.LastRunStats() },
			"postgres_pool":  func() interface{} { return conn.Stats() },
			"features":       func() interface{} { return cfg.Features.Snapshot() },
		}
		if sched != nil {
			metrics["scheduler"] = func() interface{} { return sched.Stats() }
		}
		if catalogCache != nil {
			metrics["catalog_breaker"] = func() interface{} { return catalogCache.BreakerState().String() }
		}

		opsCfg := opshttp.DefaultConfig()
		opsCfg.Addr = cfg.Observability.OpsAddr
		ops = opshttp.NewServer(opsCfg, opshttp.Dependencies{Health: health, Metrics: metrics, Logger: log})

		errCh := ops.StartAsync()
		go func() {
			if err := <-errCh; err != nil {
				log.Error("ops server stopped", logger.Err(err))
			}
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("progression worker is running")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	log.Info("starting graceful shutdown...", logger.Duration("timeout", cfg.App.ShutdownTimeout))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if ops != nil {
			if err := ops.Shutdown(shutdownCtx); err != nil {
				log.Warn("ops server shutdown failed", logger.Err(err))
			}
		}
		if sched != nil {
			if err := sched.Stop(); err != nil {
				log.Warn("scheduler stop failed", logger.Err(err))
			}
		}
	}()

	select {
	case <-done:
		log.Info("shutdown completed successfully",
			logger.Int("progress_cards", cards.Count()),
			logger.Int64("events_applied", cards.GetVersion()-1),
		)
	case <-shutdownCtx.Done():
		log.Warn("shutdown timed out, abandoning running jobs")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger builds the process logger from the observability settings.
func setupLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Format = cfg.Observability.LogFormat
	switch {
	case cfg.IsProduction():
		opts.Format = "json"
	case cfg.IsDevelopment() && opts.Format == "":
		opts.Format = "console"
	}
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}
	return logger.New(opts)
}

func postgresConfig(db config.DatabaseConfig) postgres.Config {
	pc := postgres.DefaultConfig()
	pc.URL = db.URL
	if db.MaxOpenConns > 0 {
		pc.MaxConns = int32(db.MaxOpenConns)
	}
	if db.MaxIdleConns > 0 {
		pc.MinConns = int32(db.MaxIdleConns)
	}
	if db.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = db.ConnMaxLifetime
	}
	if db.ConnMaxIdleTime > 0 {
		pc.MaxConnIdleTime = db.ConnMaxIdleTime
	}
	return pc
}

func redisConfig(rc config.RedisConfig) redis.Config {
	c := redis.DefaultConfig()
	c.URL = rc.URL
	if rc.Host != "" {
		c.Host = rc.Host
	}
	if rc.Port > 0 {
		c.Port = rc.Port
	}
	c.Password = rc.Password
	c.DB = rc.DB
	if rc.PoolSize > 0 {
		c.PoolSize = rc.PoolSize
	}
	c.MinIdleConns = rc.MinIdleConns
	if rc.DialTimeout > 0 {
		c.DialTimeout = rc.DialTimeout
	}
	if rc.ReadTimeout > 0 {
		c.ReadTimeout = rc.ReadTimeout
	}
	if rc.WriteTimeout > 0 {
		c.WriteTimeout = rc.WriteTimeout
	}
	return c
}
