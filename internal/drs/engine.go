// Package drs runs periodic consolidation of every managed datacenter.
package drs

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/config"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/optimizer"
)

// Optimizer is the part of optimizer.Service the loop drives.
type Optimizer interface {
	Optimize(ctx context.Context, req *optimizer.Request) (*optimizer.Result, error)
	PrunePlans(ctx context.Context, retention time.Duration) error
}

// DatacenterLister supplies the datacenters to consolidate when none are
// configured.
type DatacenterLister interface {
	Datacenters() []string
}

// LeaderChecker checks if this instance is the leader.
type LeaderChecker interface {
	IsLeader() bool
}

// Engine periodically consolidates datacenters. In manual mode plans are
// only recorded; in full mode they are handed to the executor.
type Engine struct {
	config        config.DRSConfig
	optimizer     Optimizer
	lister        DatacenterLister
	leaderChecker LeaderChecker
	logger        *zap.Logger

	mu           sync.RWMutex
	isRunning    bool
	lastAnalysis time.Time
}

// NewEngine creates a new DRS engine. lister and leaderChecker may be nil.
func NewEngine(
	cfg config.DRSConfig,
	opt Optimizer,
	lister DatacenterLister,
	leaderChecker LeaderChecker,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		config:        cfg,
		optimizer:     opt,
		lister:        lister,
		leaderChecker: leaderChecker,
		logger:        logger.With(zap.String("component", "drs")),
	}
}

// Start runs the consolidation loop until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	if !e.config.Enabled {
		e.logger.Info("DRS engine disabled")
		return
	}

	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return
	}
	e.isRunning = true
	e.mu.Unlock()

	e.logger.Info("Starting DRS engine",
		zap.Duration("interval", e.config.Interval),
		zap.String("automation_level", e.config.AutomationLevel),
		zap.Strings("datacenters", e.config.Datacenters),
	)

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	e.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("DRS engine stopped")
			e.mu.Lock()
			e.isRunning = false
			e.mu.Unlock()
			return
		case <-ticker.C:
			e.RunOnce(ctx)
		}
	}
}

// RunOnce consolidates every datacenter once and prunes old plans. It
// returns the results of the calls that completed.
func (e *Engine) RunOnce(ctx context.Context) []*optimizer.Result {
	if e.leaderChecker != nil && !e.leaderChecker.IsLeader() {
		e.logger.Debug("Not leader, skipping DRS analysis")
		return nil
	}

	start := time.Now()
	var results []*optimizer.Result
	for _, dcID := range e.datacenters() {
		if ctx.Err() != nil {
			break
		}
		res, err := e.optimizer.Optimize(ctx, &optimizer.Request{
			DatacenterID: dcID,
			Mode:         optimizer.ModeConsolidation,
			Execute:      e.config.AutomationLevel == "full",
		})
		switch {
		case errors.Is(err, domain.ErrDatacenterBusy):
			e.logger.Debug("Datacenter busy, skipping", zap.String("datacenter_id", dcID))
			continue
		case err != nil:
			e.logger.Error("Consolidation failed", zap.String("datacenter_id", dcID), zap.Error(err))
			continue
		}
		results = append(results, res)

		if res.Plan != nil {
			e.logger.Info("DRS plan recorded",
				zap.String("datacenter_id", dcID),
				zap.String("plan_id", res.Plan.ID),
				zap.Int("steps", len(res.Plan.Steps)),
				zap.Int("unresolved", len(res.Plan.Unresolved)),
				zap.Bool("executed", e.config.AutomationLevel == "full"),
			)
		}
	}

	if e.config.PlanRetention > 0 {
		if err := e.optimizer.PrunePlans(ctx, e.config.PlanRetention); err != nil {
			e.logger.Warn("Failed to cleanup old plans", zap.Error(err))
		}
	}

	e.mu.Lock()
	e.lastAnalysis = time.Now()
	e.mu.Unlock()

	e.logger.Debug("DRS analysis complete",
		zap.Duration("duration", time.Since(start)),
		zap.Int("plans", len(results)),
	)
	return results
}

// LastAnalysis returns when the last cycle finished.
func (e *Engine) LastAnalysis() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastAnalysis
}

func (e *Engine) datacenters() []string {
	if len(e.config.Datacenters) > 0 {
		return e.config.Datacenters
	}
	if e.lister != nil {
		return e.lister.Datacenters()
	}
	return nil
}
