// Package optimizer runs placement and consolidation calls end to end: it
// snapshots the inventory, drives the construction engine, selects a
// solution, sequences its migrations and records the outcome.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/exp/rand"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/consolidation"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/metrics"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/migration"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/scheduler"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/selection"
)

const tracerName = "github.com/ehsankhodayar/OUR-ACS-sub000/internal/optimizer"

// Mode is the kind of optimization call.
type Mode string

const (
	// ModePlacement places new VMs given in the request.
	ModePlacement Mode = "placement"
	// ModeConsolidation re-places running VMs picked by the consolidation
	// planner.
	ModeConsolidation Mode = "consolidation"
)

// Config holds the service settings that sit around the engine.
type Config struct {
	// Selection is the policy picking one solution from the archive.
	Selection string `mapstructure:"selection"`
	// Deadline bounds the engine run. Zero means no deadline.
	Deadline time.Duration `mapstructure:"deadline"`
	// Seed fixes the RNG of calls that do not carry their own. Zero seeds
	// from the clock.
	Seed uint64 `mapstructure:"seed"`
}

// DefaultConfig returns the default service configuration.
func DefaultConfig() Config {
	return Config{
		Selection: string(selection.PolicyKneePoint),
		Deadline:  30 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := selection.ParsePolicy(c.Selection); err != nil {
		return err
	}
	if c.Deadline < 0 {
		return &domain.ConfigError{Field: "deadline", Reason: "must not be negative"}
	}
	return nil
}

// Request is one optimization call for one datacenter.
type Request struct {
	DatacenterID string
	Mode         Mode
	// VMs are the VMs to place in placement mode. A VM already known to the
	// inventory is re-placed with its inventory record.
	VMs []*domain.VM
	// Seed overrides the configured seed when non-zero.
	Seed uint64
	// Execute hands the plan to the executor once it is recorded.
	Execute bool
}

// Result is the outcome of a call. Solution is nil when no feasible
// assignment of the whole batch was found. Otherwise it is the selected
// assignment with the plan's reroutes applied, and MigrationMap and
// PlacementMap split it. Entries the plan could not schedule are listed in
// Plan.Unresolved.
type Result struct {
	SessionID    string                  `json:"session_id"`
	DatacenterID string                  `json:"datacenter_id"`
	Mode         Mode                    `json:"mode"`
	Batch        []string                `json:"batch"`
	Solution     domain.Solution         `json:"solution"`
	MigrationMap domain.Solution         `json:"migration_map,omitempty"`
	PlacementMap domain.Solution         `json:"placement_map,omitempty"`
	Objectives   *domain.ObjectiveVector `json:"objectives,omitempty"`
	Plan         *domain.MigrationPlan   `json:"plan,omitempty"`
	Report       *consolidation.Report   `json:"report,omitempty"`
	Generations  int                     `json:"generations"`
	Stop         scheduler.StopReason    `json:"stop,omitempty"`
	ArchiveSize  int                     `json:"archive_size"`
	Seed         uint64                  `json:"seed"`
}

// Repositories bundles the collaborators of the service.
type Repositories struct {
	Inventory Inventory
	States    StateRepository
	Plans     PlanRepository
	Locker    Locker
	Events    EventPublisher
	Executor  PlanExecutor
}

// Service orchestrates optimization calls.
type Service struct {
	config    Config
	selection selection.Policy
	engine    *scheduler.Engine
	planner   *consolidation.Planner
	sequencer *migration.Sequencer
	repos     Repositories
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewService creates a new optimizer service.
func NewService(
	cfg Config,
	engine *scheduler.Engine,
	planner *consolidation.Planner,
	sequencer *migration.Sequencer,
	repos Repositories,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, _ := selection.ParsePolicy(cfg.Selection)
	if repos.Executor == nil && repos.Events != nil {
		repos.Executor = NewEventExecutor(repos.Events)
	}
	return &Service{
		config:    cfg,
		selection: policy,
		engine:    engine,
		planner:   planner,
		sequencer: sequencer,
		repos:     repos,
		metrics:   m,
		logger:    logger.With(zap.String("component", "optimizer")),
	}, nil
}

// Optimize runs one call. Calls for the same datacenter are serialized by
// the locker; a busy datacenter fails fast with domain.ErrDatacenterBusy.
func (s *Service) Optimize(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()
	variant := string(s.engine.Policy().Variant)

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	unlock, err := s.repos.Locker.TryLock(ctx, req.DatacenterID)
	if err != nil {
		if errors.Is(err, domain.ErrDatacenterBusy) {
			s.metrics.ObserveRun(req.DatacenterID, string(req.Mode), variant, metrics.OutcomeBusy, time.Since(start))
		}
		return nil, err
	}
	defer unlock()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "optimizer.Optimize", trace.WithAttributes(
		attribute.String("datacenter_id", req.DatacenterID),
		attribute.String("mode", string(req.Mode)),
		attribute.String("variant", variant),
	))
	defer span.End()

	s.logger.Info("Starting optimization",
		zap.String("datacenter_id", req.DatacenterID),
		zap.String("mode", string(req.Mode)),
		zap.Int("requested_vms", len(req.VMs)),
	)

	res, outcome, err := s.optimize(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.ObserveRun(req.DatacenterID, string(req.Mode), variant, metrics.OutcomeError, time.Since(start))
		s.publish(ctx, domain.Event{
			Type:         domain.EventOptimizationFailed,
			DatacenterID: req.DatacenterID,
			Message:      err.Error(),
		})
		s.logger.Error("Optimization failed",
			zap.String("datacenter_id", req.DatacenterID),
			zap.String("mode", string(req.Mode)),
			zap.Error(err),
		)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("session_id", res.SessionID),
		attribute.String("outcome", outcome),
		attribute.Int("generations", res.Generations),
	)
	s.metrics.ObserveRun(req.DatacenterID, string(req.Mode), variant, outcome, time.Since(start))

	s.logger.Info("Optimization finished",
		zap.String("datacenter_id", req.DatacenterID),
		zap.String("session_id", res.SessionID),
		zap.String("outcome", outcome),
		zap.Int("batch_size", len(res.Batch)),
		zap.Int("migrations", len(res.MigrationMap)),
		zap.Int("placements", len(res.PlacementMap)),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (s *Service) optimize(ctx context.Context, req *Request) (*Result, string, error) {
	res := &Result{
		SessionID:    uuid.NewString(),
		DatacenterID: req.DatacenterID,
		Mode:         req.Mode,
		Seed:         s.seed(req),
	}

	snap, err := s.snapshot(ctx, req)
	if err != nil {
		return nil, "", err
	}

	switch req.Mode {
	case ModePlacement:
		for _, vm := range req.VMs {
			res.Batch = append(res.Batch, vm.ID)
		}
	case ModeConsolidation:
		res.Batch, res.Report, err = s.planner.Batch(snap)
		if err != nil {
			return nil, "", fmt.Errorf("failed to build consolidation batch: %w", err)
		}
	}
	if len(res.Batch) == 0 {
		res.Solution = domain.Solution{}
		s.logger.Info("Nothing to optimize", zap.String("datacenter_id", req.DatacenterID))
		return res, metrics.OutcomeNoop, nil
	}

	s.publish(ctx, domain.Event{
		Type:         domain.EventOptimizationStarted,
		DatacenterID: req.DatacenterID,
		SessionID:    res.SessionID,
	})

	state, err := s.loadState(ctx, req.DatacenterID)
	if err != nil {
		return nil, "", err
	}

	runCtx := ctx
	if s.config.Deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.config.Deadline)
		defer cancel()
	}
	run, err := s.engine.Run(runCtx, scheduler.Input{
		Snapshot: snap,
		Batch:    res.Batch,
		State:    state,
		RNG:      rand.New(rand.NewSource(res.Seed)),
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to run construction engine: %w", err)
	}
	res.Generations = run.Generations
	res.Stop = run.Stop
	res.ArchiveSize = len(run.Archive)
	s.metrics.ObserveGenerations(string(s.engine.Policy().Variant), run.Generations)

	sol, objectives, ok, err := s.choose(run)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		if err := s.repos.States.Save(ctx, run.StateFor(nil)); err != nil {
			return nil, "", fmt.Errorf("failed to save optimizer state: %w", err)
		}
		s.publish(ctx, domain.Event{
			Type:         domain.EventOptimizationCompleted,
			DatacenterID: req.DatacenterID,
			SessionID:    res.SessionID,
			Message:      "no feasible solution",
		})
		return res, metrics.OutcomeInfeasible, nil
	}

	sol, objectives, plan, err := s.sequence(snap, res.Batch, sol, objectives)
	if err != nil {
		return nil, "", err
	}
	res.Solution = sol
	res.Objectives = &objectives
	res.MigrationMap, res.PlacementMap = sol.Split(snap)
	s.metrics.SetSelected(req.DatacenterID, objectives.ActiveHosts, objectives.Power)

	if err := s.repos.States.Save(ctx, run.StateFor(sol)); err != nil {
		return nil, "", fmt.Errorf("failed to save optimizer state: %w", err)
	}

	plan.SessionID = res.SessionID
	plan.Objectives = res.Objectives
	res.Plan = plan
	s.metrics.ObservePlan(req.DatacenterID, len(plan.Steps), len(plan.Rerouted), unresolvedByReason(plan))

	if err := s.repos.Plans.Create(ctx, plan); err != nil {
		return nil, "", fmt.Errorf("failed to record plan: %w", err)
	}
	if lockErr := plan.Err(); lockErr != nil {
		s.logger.Warn("Plan excludes migrations", zap.String("plan_id", plan.ID), zap.Error(lockErr))
	}

	if req.Execute && s.repos.Executor != nil {
		if err := s.repos.Executor.Execute(ctx, plan); err != nil {
			return nil, "", fmt.Errorf("failed to execute plan: %w", err)
		}
	}

	s.publish(ctx, domain.Event{
		Type:         domain.EventOptimizationCompleted,
		DatacenterID: req.DatacenterID,
		SessionID:    res.SessionID,
		PlanID:       plan.ID,
	})
	return res, metrics.OutcomeFeasible, nil
}

// snapshot captures the inventory once, adding the new VMs of a placement
// request.
func (s *Service) snapshot(ctx context.Context, req *Request) (*domain.Snapshot, error) {
	hosts, err := s.repos.Inventory.ListHosts(ctx, req.DatacenterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("datacenter %s: %w", req.DatacenterID, domain.ErrNotFound)
	}
	vms, err := s.repos.Inventory.ListVMs(ctx, req.DatacenterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list vms: %w", err)
	}

	known := make(map[string]bool, len(vms))
	for _, vm := range vms {
		known[vm.ID] = true
	}
	for _, vm := range req.VMs {
		if known[vm.ID] {
			continue
		}
		c := vm.Clone()
		c.Created = false
		c.HostID = ""
		vms = append(vms, c)
	}

	return domain.NewSnapshot(req.DatacenterID, hosts, vms)
}

func (s *Service) loadState(ctx context.Context, datacenterID string) (*domain.OptimizerState, error) {
	state, err := s.repos.States.Get(ctx, datacenterID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load optimizer state: %w", err)
	}
	return state, nil
}

// choose applies the selection policy to the archive, or takes the engine's
// best solution for policies without one.
func (s *Service) choose(run *scheduler.Result) (domain.Solution, domain.ObjectiveVector, bool, error) {
	if len(run.Archive) > 0 {
		entry, ok, err := selection.Select(s.selection, run.Archive)
		if err != nil || !ok {
			return nil, domain.ObjectiveVector{}, false, err
		}
		return entry.Solution.Clone(), entry.Objectives, true, nil
	}
	if run.Best == nil {
		return nil, domain.ObjectiveVector{}, false, nil
	}
	return run.Best.Clone(), run.Objectives, true, nil
}

// sequence orders the selected solution into a plan and folds the plan's
// reroutes back into the solution, re-scoring it when they changed it.
func (s *Service) sequence(snap *domain.Snapshot, batch []string, sol domain.Solution, objectives domain.ObjectiveVector) (domain.Solution, domain.ObjectiveVector, *domain.MigrationPlan, error) {
	migrations, placements := sol.Split(snap)
	plan, err := s.sequencer.Sequence(snap, migrations, placements)
	if err != nil {
		return nil, objectives, nil, fmt.Errorf("failed to sequence migrations: %w", err)
	}
	if len(plan.Rerouted) == 0 {
		return sol, objectives, plan, nil
	}
	sol = applyReroutes(sol, plan.Rerouted)
	objectives, err = s.engine.Evaluate(snap, sol, batch)
	if err != nil {
		return nil, objectives, nil, fmt.Errorf("failed to evaluate rerouted solution: %w", err)
	}
	return sol, objectives, plan, nil
}

// applyReroutes returns sol with every rerouted VM sent to the host the plan
// actually uses.
func applyReroutes(sol domain.Solution, reroutes []domain.Reroute) domain.Solution {
	out := sol.Clone()
	for _, rr := range reroutes {
		out[rr.VMID] = rr.TargetHostID
	}
	return out
}

func (s *Service) seed(req *Request) uint64 {
	switch {
	case req.Seed != 0:
		return req.Seed
	case s.config.Seed != 0:
		return s.config.Seed
	default:
		return uint64(time.Now().UnixNano())
	}
}

func (s *Service) publish(ctx context.Context, event domain.Event) {
	if s.repos.Events == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	if err := s.repos.Events.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

// GetState returns the warm-start state of a datacenter.
func (s *Service) GetState(ctx context.Context, datacenterID string) (*domain.OptimizerState, error) {
	return s.repos.States.Get(ctx, datacenterID)
}

// ResetState forgets the warm-start history of a datacenter. It waits for no
// call: a busy datacenter returns domain.ErrDatacenterBusy.
func (s *Service) ResetState(ctx context.Context, datacenterID string) error {
	unlock, err := s.repos.Locker.TryLock(ctx, datacenterID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.repos.States.Delete(ctx, datacenterID); err != nil {
		return fmt.Errorf("failed to reset optimizer state: %w", err)
	}
	s.logger.Info("Optimizer state reset", zap.String("datacenter_id", datacenterID))
	s.publish(ctx, domain.Event{Type: domain.EventStateReset, DatacenterID: datacenterID})
	return nil
}

// ListPlans returns recent plans of a datacenter.
func (s *Service) ListPlans(ctx context.Context, datacenterID string, limit int) ([]*domain.MigrationPlan, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repos.Plans.ListByDatacenter(ctx, datacenterID, limit)
}

// GetPlan returns a plan by ID.
func (s *Service) GetPlan(ctx context.Context, id string) (*domain.MigrationPlan, error) {
	return s.repos.Plans.Get(ctx, id)
}

// PrunePlans deletes plans older than the retention window.
func (s *Service) PrunePlans(ctx context.Context, retention time.Duration) error {
	return s.repos.Plans.DeleteOld(ctx, time.Now().Add(-retention))
}

func validateRequest(req *Request) error {
	if req == nil || req.DatacenterID == "" {
		return fmt.Errorf("datacenter id is required: %w", domain.ErrInvalidArgument)
	}
	switch req.Mode {
	case ModePlacement:
		if len(req.VMs) == 0 {
			return fmt.Errorf("placement needs at least one vm: %w", domain.ErrInvalidArgument)
		}
		seen := make(map[string]bool, len(req.VMs))
		for _, vm := range req.VMs {
			if vm == nil || vm.ID == "" {
				return fmt.Errorf("vm id is required: %w", domain.ErrInvalidArgument)
			}
			if seen[vm.ID] {
				return fmt.Errorf("vm %s listed twice: %w", vm.ID, domain.ErrInvalidArgument)
			}
			seen[vm.ID] = true
			if vm.Demand.IsNegative() {
				return fmt.Errorf("vm %s has negative demand: %w", vm.ID, domain.ErrInvalidArgument)
			}
		}
	case ModeConsolidation:
		if len(req.VMs) > 0 {
			return fmt.Errorf("consolidation takes no vms: %w", domain.ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("unknown mode %q: %w", req.Mode, domain.ErrInvalidArgument)
	}
	return nil
}

func unresolvedByReason(plan *domain.MigrationPlan) map[string]int {
	out := make(map[string]int)
	for _, u := range plan.Unresolved {
		out[string(u.Reason)]++
	}
	return out
}
