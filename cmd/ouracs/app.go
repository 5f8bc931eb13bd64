package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/config"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/consolidation"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/metrics"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/migration"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/optimizer"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/repository/etcd"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/repository/memory"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/repository/postgres"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/repository/redis"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/resource"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/scheduler"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/server"
)

// app holds the wired optimizer and the infrastructure behind it.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry

	inventory *memory.Inventory
	service   *optimizer.Service
	events    server.EventSource
	etcd      *etcd.Client
	checks    map[string]server.HealthChecker

	closers []func()
}

// newApp connects the configured backends and builds the optimizer service.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		checks:   make(map[string]server.HealthChecker),
	}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg

	if cfg.Inventory.Path != "" {
		inv, err := memory.LoadInventory(cfg.Inventory.Path)
		if err != nil {
			return err
		}
		a.inventory = inv
		a.logger.Info("Loaded inventory",
			zap.String("path", cfg.Inventory.Path),
			zap.Strings("datacenters", inv.Datacenters()),
		)
	} else {
		a.logger.Warn("No inventory configured, starting empty")
		a.inventory = memory.NewInventory()
	}

	var (
		db    *postgres.DB
		cache *redis.Cache
		err   error
	)
	if cfg.Database.Enabled {
		db, err = postgres.NewDB(ctx, cfg.Database, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		a.checks["postgres"] = db
	}
	if cfg.Redis.Enabled {
		cache, err = redis.NewCache(cfg.Redis, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { cache.Close() })
		a.checks["redis"] = cache
	}
	if cfg.Etcd.Enabled {
		a.etcd, err = etcd.NewClient(cfg.Etcd, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { a.etcd.Close() })
		a.checks["etcd"] = a.etcd
	}

	repos := optimizer.Repositories{Inventory: a.inventory}

	switch cfg.State.Backend {
	case "redis":
		repos.States = redis.NewStateRepository(cache, cfg.State.TTL)
	case "postgres":
		repos.States = postgres.NewStateRepository(db, a.logger)
	case "etcd":
		repos.States = etcd.NewStateRepository(a.etcd)
	default:
		repos.States = memory.NewStateRepository()
	}

	if db != nil {
		repos.Plans = postgres.NewPlanRepository(db, a.logger)
	} else {
		repos.Plans = memory.NewPlanRepository()
	}

	if a.etcd != nil {
		repos.Locker = a.etcd
	} else {
		repos.Locker = memory.NewLocker()
	}

	if cache != nil {
		repos.Events = cache
		a.events = cache
	} else {
		bus := memory.NewEventBus(a.logger)
		repos.Events = bus
		a.events = bus
	}
	repos.Executor = optimizer.ExecutorChain{a.inventory, optimizer.NewEventExecutor(repos.Events)}

	model := resource.NewModel(cfg.Optimizer.Thresholds())
	engine, err := scheduler.New(cfg.Optimizer.Scheduler(), model, cfg.Power, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create construction engine: %w", err)
	}
	m, err := metrics.New(a.registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	a.service, err = optimizer.NewService(
		cfg.Optimizer.Service(),
		engine,
		consolidation.NewPlanner(cfg.Consolidation, model, a.logger),
		migration.New(model, a.logger),
		repos,
		m,
		a.logger,
	)
	if err != nil {
		return err
	}

	a.logger.Info("Optimizer initialized",
		zap.String("variant", cfg.Optimizer.Variant),
		zap.String("state_backend", cfg.State.Backend),
		zap.Bool("postgres", db != nil),
		zap.Bool("redis", cache != nil),
		zap.Bool("etcd", a.etcd != nil),
	)
	return nil
}

// Close releases backends in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
