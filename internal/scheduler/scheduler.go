package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/objective"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/pareto"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/pheromone"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/repair"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/resource"
)

const tracerName = "github.com/ehsankhodayar/OUR-ACS-sub000/internal/scheduler"

// Phase is the state of a run.
type Phase string

const (
	PhaseIdle            Phase = "IDLE"
	PhaseIterating       Phase = "ITERATING"
	PhaseAntConstructing Phase = "ANT_CONSTRUCTING"
	PhaseScoring         Phase = "SCORING"
	PhaseGenerationDone  Phase = "GENERATION_DONE"
	PhaseTerminal        Phase = "TERMINAL"
)

// Progress is reported to an Observer on every phase change.
type Progress struct {
	Phase      Phase
	Generation int
	Ant        int
	// Budget is the host budget M of the generation.
	Budget int
	// BestHosts is the host count of the best feasible solution so far, or
	// zero when none was found yet.
	BestHosts int
}

// StopReason tells why a run ended.
type StopReason string

const (
	StopCompleted StopReason = "COMPLETED"
	StopDeadline  StopReason = "DEADLINE"
)

// Input is one placement or consolidation request.
type Input struct {
	Snapshot *domain.Snapshot
	// Batch lists the VMs to place in submission order.
	Batch []string
	// Hosts restricts the allowed hosts. Empty means every snapshot host.
	Hosts []string
	// State warm-starts the pheromone table. May be nil.
	State *domain.OptimizerState
	// RNG drives every random choice of the run. Nil seeds from the clock.
	RNG *rand.Rand
	// Observer is called from the engine goroutine only. May be nil.
	Observer func(Progress)
}

// Result is the outcome of a run.
type Result struct {
	// Best is the best feasible solution found, nil when none became feasible.
	Best       domain.Solution
	Objectives domain.ObjectiveVector
	// Archive holds the non-dominated feasible solutions for policies that
	// keep one.
	Archive     []pareto.Entry
	Generations int
	Stop        StopReason
	// Inherited is the number of warm-start trails reused.
	Inherited int
	// State is the warm-start state recording Best as the final placement.
	// Callers that pick another solution use StateFor.
	State *domain.OptimizerState

	export func(sol domain.Solution) *domain.OptimizerState
}

// StateFor returns the warm-start state of this run with sol as the session's
// final placement. A nil sol records the current residence of every VM.
func (r *Result) StateFor(sol domain.Solution) *domain.OptimizerState {
	if r.export == nil {
		return r.State
	}
	return r.export(sol)
}

// Engine runs ants over generations to build VM to host assignments.
type Engine struct {
	config    Config
	policy    Policy
	model     *resource.Model
	evaluator *objective.Evaluator
	repairer  *repair.Repairer
	logger    *zap.Logger
}

// New creates a new Engine instance.
func New(config Config, model *resource.Model, scorer objective.HostScorer, logger *zap.Logger) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	policy, err := PolicyFor(Variant(config.Variant))
	if err != nil {
		return nil, err
	}
	return &Engine{
		config:    config,
		policy:    policy,
		model:     model,
		evaluator: objective.NewEvaluator(model, scorer),
		repairer:  repair.New(model, logger),
		logger:    logger.With(zap.String("component", "scheduler"), zap.String("variant", config.Variant)),
	}, nil
}

// Policy returns the construction policy in use.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Evaluate scores a solution for batch with the engine's objective model.
func (e *Engine) Evaluate(snap *domain.Snapshot, sol domain.Solution, batch []string) (domain.ObjectiveVector, error) {
	return e.evaluator.Evaluate(snap, sol, domain.NewVMSet(batch...))
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Run executes the colony until G generations complete or ctx is done. The
// deadline is checked once per generation; the best feasible solution so far
// is returned either way.
func (e *Engine) Run(ctx context.Context, in Input) (*Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "scheduler.Run")
	defer span.End()

	col, err := e.prepare(in)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("datacenter_id", in.Snapshot.DatacenterID),
		attribute.String("variant", string(e.policy.Variant)),
		attribute.Int("batch_size", len(col.batch)),
		attribute.Int("hosts", len(col.hosts)),
	)

	rng := in.RNG
	if rng == nil {
		rng = rand.New(rand.NewSource(uint64(time.Now().UnixNano())))
	}
	observe := func(p Progress) {
		if in.Observer != nil {
			in.Observer(p)
		}
	}

	logger := e.logger.With(
		zap.String("datacenter_id", in.Snapshot.DatacenterID),
		zap.Int("batch_size", len(col.batch)),
		zap.Int("hosts", len(col.hosts)),
	)
	observe(Progress{Phase: PhaseIdle})

	table, inherited, err := e.initTable(col, in.State)
	if err != nil {
		return nil, err
	}

	var archive *pareto.Archive
	if e.policy.UseArchive {
		archive = pareto.NewArchive(e.config.ArchiveSize)
	}

	budget := len(col.hosts)
	var best *candidate
	result := &Result{Stop: StopCompleted, Inherited: inherited}

	for g := 0; g < e.config.Generations; g++ {
		if ctx.Err() != nil {
			result.Stop = StopDeadline
			logger.Warn("Deadline reached, stopping early", zap.Int("generation", g))
			break
		}
		observe(Progress{Phase: PhaseIterating, Generation: g, Budget: budget, BestHosts: hostsOf(best)})

		ants, err := e.runAnts(col, table.Snapshot(), budget, rng, func(ant int) {
			observe(Progress{Phase: PhaseAntConstructing, Generation: g, Ant: ant, Budget: budget, BestHosts: hostsOf(best)})
		})
		if err != nil {
			return nil, err
		}
		observe(Progress{Phase: PhaseScoring, Generation: g, Budget: budget, BestHosts: hostsOf(best)})

		var genBest *candidate
		var feasible []*candidate
		for _, a := range ants {
			table.LocalUpdate(a.sol, a.occ, e.config.LocalDecay)
			if a.feasible {
				feasible = append(feasible, a)
			}
			if genBest == nil || better(a, genBest) {
				genBest = a
			}
		}

		if !genBest.feasible && genBest.complete {
			repaired, err := e.repair(col, genBest)
			if err != nil {
				return nil, err
			}
			if repaired.feasible {
				logger.Debug("Repair rescued generation best", zap.Int("generation", g))
				genBest = repaired
				feasible = append(feasible, repaired)
			}
		}

		if genBest.feasible {
			budget = shrink(budget, genBest.budgetHosts)
			if best == nil || better(genBest, best) {
				best = genBest
			}
		}

		reinforce := genBest
		if !genBest.feasible && best != nil {
			reinforce = best
		}
		table.GlobalUpdate(reinforce.sol, reinforce.occ, e.config.GlobalDecay,
			e.policy.Reinforcement(reinforce.hostsUsed, reinforce.wastage))

		if archive != nil && len(feasible) > 0 {
			entries, err := e.entries(col, feasible)
			if err != nil {
				return nil, err
			}
			archive.Merge(pareto.NonDominatedFront(entries))
			archive.Prune(rng)
		}

		result.Generations++
		observe(Progress{Phase: PhaseGenerationDone, Generation: g, Budget: budget, BestHosts: hostsOf(best)})
	}

	if best != nil {
		result.Best = best.sol.Clone()
		result.Objectives, err = e.evaluator.Evaluate(col.snap, best.sol, col.batchSet)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate best solution: %w", err)
		}
	}
	if archive != nil {
		result.Archive = archive.Entries()
	}
	result.export = func(sol domain.Solution) *domain.OptimizerState {
		return table.Export(in.Snapshot.DatacenterID, string(e.policy.Variant), col.placement(sol), in.State)
	}
	result.State = result.export(result.Best)
	observe(Progress{Phase: PhaseTerminal, Generation: result.Generations, Budget: budget, BestHosts: hostsOf(best)})

	logger.Info("Construction finished",
		zap.Int("generations", result.Generations),
		zap.String("stop", string(result.Stop)),
		zap.Bool("feasible", best != nil),
		zap.Int("hosts_used", hostsOf(best)),
		zap.Int("archive_size", len(result.Archive)),
		zap.Int("inherited_trails", inherited),
	)
	span.SetAttributes(attribute.Bool("feasible", best != nil), attribute.Int("generations", result.Generations))
	return result, nil
}

// prepare validates the input and builds the shared ant context.
func (e *Engine) prepare(in Input) (*colony, error) {
	if in.Snapshot == nil {
		return nil, &domain.InfeasibleInput{Reason: "missing snapshot"}
	}
	if len(in.Batch) == 0 {
		return nil, &domain.InfeasibleInput{Reason: "empty vm batch"}
	}

	col := &colony{
		config:   e.config,
		policy:   e.policy,
		model:    e.model,
		snap:     in.Snapshot,
		batchSet: make(domain.VMSet, len(in.Batch)),
		allowed:  make(map[string]bool),
	}
	for _, id := range in.Batch {
		vm, ok := in.Snapshot.VM(id)
		if !ok {
			return nil, &domain.InfeasibleInput{Reason: fmt.Sprintf("unknown vm %q in batch", id)}
		}
		if col.batchSet.Has(id) {
			return nil, &domain.InfeasibleInput{Reason: fmt.Sprintf("vm %q listed twice in batch", id)}
		}
		col.batchSet[id] = struct{}{}
		col.batch = append(col.batch, vm)
	}

	if len(in.Hosts) == 0 {
		col.hosts = in.Snapshot.Hosts()
	} else {
		for _, id := range in.Hosts {
			h, ok := in.Snapshot.Host(id)
			if !ok {
				return nil, &domain.InfeasibleInput{Reason: fmt.Sprintf("unknown host %q", id)}
			}
			col.hosts = append(col.hosts, h)
		}
	}
	if len(col.hosts) == 0 {
		return nil, &domain.InfeasibleInput{Reason: "empty host list"}
	}
	for _, h := range col.hosts {
		col.allowed[h.ID] = true
	}

	col.base = in.Snapshot.Occupancy(nil, col.batchSet)
	return col, nil
}

// initTable sizes the table by the VMs (VM x VM) or hosts (VM x Host) in play
// and warm-starts it from a compatible state.
func (e *Engine) initTable(col *colony, state *domain.OptimizerState) (*pheromone.Table, int, error) {
	vmIDs := col.batchSet.Sorted()
	for _, h := range col.hosts {
		vmIDs = append(vmIDs, col.base[h.ID].VMIDs...)
	}
	hostIDs := make([]string, 0, len(col.hosts))
	for _, h := range col.hosts {
		hostIDs = append(hostIDs, h.ID)
	}

	size := len(vmIDs)
	if e.policy.Shape == domain.ShapeVMHost {
		size = len(hostIDs)
	}
	table, err := pheromone.New(e.policy.Shape, size)
	if err != nil {
		return nil, 0, err
	}

	var warm *domain.OptimizerState
	if state.CompatibleWith(string(e.policy.Variant), e.policy.Shape) {
		warm = state
	}
	return table, table.Initialize(vmIDs, hostIDs, warm), nil
}

// runAnts constructs one solution per ant. Every ant gets its own RNG seeded
// in ant order, so parallel and sequential runs produce the same solutions.
func (e *Engine) runAnts(col *colony, table *pheromone.Table, budget int, rng *rand.Rand, started func(ant int)) ([]*candidate, error) {
	seeds := make([]uint64, e.config.Ants)
	for i := range seeds {
		seeds[i] = rng.Uint64()
	}
	out := make([]*candidate, len(seeds))

	if !e.config.Parallel {
		for i, seed := range seeds {
			started(i)
			c, err := col.construct(table, budget, rand.New(rand.NewSource(seed)))
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	}

	workers := e.config.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i, seed := range seeds {
		started(i)
		g.Go(func() error {
			c, err := col.construct(table, budget, rand.New(rand.NewSource(seed)))
			if err != nil {
				return err
			}
			out[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// repair runs local search on an infeasible complete candidate and cleans the
// result.
func (e *Engine) repair(col *colony, cand *candidate) (*candidate, error) {
	p := repair.Problem{Snapshot: col.snap, Batch: col.batchSet, Hosts: col.hosts}
	sol, err := e.repairer.Repair(p, cand.sol)
	if err != nil {
		return nil, fmt.Errorf("failed to repair solution: %w", err)
	}
	if sol, err = e.repairer.Clean(p, sol); err != nil {
		return nil, fmt.Errorf("failed to clean repaired solution: %w", err)
	}
	return col.evaluateSolution(sol)
}

func (e *Engine) entries(col *colony, cands []*candidate) ([]pareto.Entry, error) {
	out := make([]pareto.Entry, 0, len(cands))
	for _, c := range cands {
		v, err := e.evaluator.Evaluate(col.snap, c.sol, col.batchSet)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate candidate: %w", err)
		}
		out = append(out, pareto.NewEntry(c.sol.Clone(), v, e.policy.Objectives))
	}
	return out, nil
}

// shrink lowers the host budget below the hosts a feasible solution used,
// never below one.
func shrink(budget, used int) int {
	if used < budget {
		budget = used
	}
	if budget > 1 {
		budget--
	}
	return budget
}

func hostsOf(c *candidate) int {
	if c == nil {
		return 0
	}
	return c.hostsUsed
}
