package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"rental-manager-backend/internal/config"
	"rental-manager-backend/internal/jobs"
	"rental-manager-backend/internal/lock"
	"rental-manager-backend/internal/logger"
	"rental-manager-backend/internal/observability"
	"rental-manager-backend/internal/repository"
	"rental-manager-backend/internal/repository/memory"
	"rental-manager-backend/internal/repository/postgres"
	"rental-manager-backend/internal/service"
)

// Repos is the storage backing the status engine.
type Repos struct {
	Store     repository.RentalStatusStore
	Logs      repository.StatusLogRepository
	Retention repository.StatusLogRetention
}

// App holds everything both binaries need.
type App struct {
	Cfg          *config.Config
	DB           *sql.DB
	Redis        *redis.Client
	Repos        Repos
	RentalStatus service.RentalStatusService
	Jobs         *jobs.JobRunner

	telemetry observability.Shutdown
}

// New connects storage, the run lock and telemetry, then wires the service
// and job runner.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Cfg: cfg}

	shutdown, err := observability.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.telemetry = shutdown

	if err := a.wireRepos(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}

	locker, err := a.wireLocker(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	rs := cfg.RentalStatus
	a.RentalStatus = service.NewRentalStatusService(a.Repos.Store, a.Repos.Logs, service.RentalStatusOptions{
		Workers:            rs.BatchWorkers,
		PageSize:           rs.BatchPageSize,
		MaxConflictRetries: rs.MaxConflictRetries,
		ItemsPerSecond:     rs.MaxItemsPerSecond,
		Location:           rs.Location(),
	})
	a.Jobs = jobs.NewJobRunner(a.RentalStatus, a.Repos.Retention, locker, cfg)
	return a, nil
}

func (a *App) wireRepos(ctx context.Context) error {
	if a.Cfg.Database.Driver == "memory" {
		logger.Warn("Using in-memory rental store; data is lost on exit")
		store := memory.NewStore()
		a.Repos = Repos{Store: store, Logs: store, Retention: store}
		return nil
	}

	logger.Info("Connecting to database...", "host", a.Cfg.Database.Host, "port", a.Cfg.Database.Port, "database", a.Cfg.Database.Database)
	db, err := sql.Open("postgres", a.Cfg.GetDatabaseConnectionString())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(a.Cfg.Database.MaxOpenConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}
	logger.Info("Database connection established")

	a.DB = db
	store := postgres.NewStore(db)
	a.Repos = Repos{Store: store, Logs: store, Retention: store}
	return nil
}

func (a *App) wireLocker(ctx context.Context) (lock.Locker, error) {
	if a.Cfg.Redis.Addr == "" {
		logger.Info("No redis configured, batch runs are not locked across instances")
		return lock.NoopLocker{}, nil
	}

	a.Redis = redis.NewClient(&redis.Options{
		Addr:     a.Cfg.Redis.Addr,
		Password: a.Cfg.Redis.Password,
		DB:       a.Cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.Redis.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis %s: %w", a.Cfg.Redis.Addr, err)
	}
	logger.Info("Redis connection established", "addr", a.Cfg.Redis.Addr)
	return lock.NewRedisLocker(a.Redis), nil
}

// Close releases connections and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry(ctx))
	}
	return errors.Join(errs...)
}
