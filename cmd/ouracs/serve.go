package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/auth"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/config"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/drs"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/server"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/tracing"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic consolidation loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := setupLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting OUR-ACS optimizer",
		zap.String("version", version),
		zap.String("commit", commit),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received signal", zap.String("signal", sig.String()))
		cancel()
	}()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, version, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := []server.ServerOption{
		server.WithEvents(a.events),
		server.WithMetrics(a.registry),
		server.WithVMRegistrar(a.inventory),
	}
	for name, check := range a.checks {
		opts = append(opts, server.WithHealthCheck(name, check))
	}
	if cfg.Auth.Enabled {
		opts = append(opts, server.WithAuth(auth.NewJWTManager(cfg.Auth)))
	}
	srv := server.New(cfg, a.service, logger, opts...)

	var leader drs.LeaderChecker
	if a.etcd != nil {
		l, err := a.etcd.CampaignForLeader(ctx, "drs", func(isLeader bool) {
			if isLeader {
				logger.Info("This instance now runs the consolidation loop")
			} else {
				logger.Info("This instance is now a follower")
			}
		})
		if err != nil {
			logger.Warn("Failed to start leader election", zap.Error(err))
		} else {
			leader = l
			defer func() {
				resignCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := l.Resign(resignCtx); err != nil {
					logger.Warn("Failed to resign leadership", zap.Error(err))
				}
			}()
		}
	}
	go drs.NewEngine(cfg.DRS, a.service, a.inventory, leader, logger).Start(ctx)

	if err := srv.Run(ctx); err != nil {
		logger.Error("Server error", zap.Error(err))
		return err
	}

	logger.Info("Goodbye!")
	return nil
}
