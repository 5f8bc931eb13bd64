package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/optimizer"
)

// Ensure PlanRepository implements optimizer.PlanRepository
var _ optimizer.PlanRepository = (*PlanRepository)(nil)

// PlanRepository is an in-memory implementation of the plan store.
type PlanRepository struct {
	mu   sync.RWMutex
	data map[string]*domain.MigrationPlan
}

// NewPlanRepository creates a new in-memory plan repository.
func NewPlanRepository() *PlanRepository {
	return &PlanRepository{data: make(map[string]*domain.MigrationPlan)}
}

// Create stores a new plan.
func (r *PlanRepository) Create(ctx context.Context, p *domain.MigrationPlan) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.data[p.ID]; exists {
		return domain.ErrAlreadyExists
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	r.data[p.ID] = clonePlan(p)
	return nil
}

// Get retrieves a plan by ID.
func (r *PlanRepository) Get(ctx context.Context, id string) (*domain.MigrationPlan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clonePlan(p), nil
}

// ListByDatacenter returns the newest plans of a datacenter first.
func (r *PlanRepository) ListByDatacenter(ctx context.Context, datacenterID string, limit int) ([]*domain.MigrationPlan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.MigrationPlan
	for _, p := range r.data {
		if p.DatacenterID == datacenterID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i, p := range out {
		out[i] = clonePlan(p)
	}
	return out, nil
}

// DeleteOld removes plans created before olderThan.
func (r *PlanRepository) DeleteOld(ctx context.Context, olderThan time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, p := range r.data {
		if p.CreatedAt.Before(olderThan) {
			delete(r.data, id)
		}
	}
	return nil
}

func clonePlan(p *domain.MigrationPlan) *domain.MigrationPlan {
	c := *p
	c.Steps = append([]domain.MigrationEdge(nil), p.Steps...)
	c.Rerouted = append([]domain.Reroute(nil), p.Rerouted...)
	c.Unresolved = append([]domain.UnresolvedMigration(nil), p.Unresolved...)
	if p.Placements != nil {
		c.Placements = make(map[string]string, len(p.Placements))
		for k, v := range p.Placements {
			c.Placements[k] = v
		}
	}
	if p.Objectives != nil {
		o := *p.Objectives
		c.Objectives = &o
	}
	return &c
}
