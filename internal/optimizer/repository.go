package optimizer

import (
	"context"
	"time"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
)

// Inventory is the source of hosts and VMs. Implementations return copies the
// service may keep.
type Inventory interface {
	// ListHosts returns every host of a datacenter.
	ListHosts(ctx context.Context, datacenterID string) ([]*domain.Host, error)

	// ListVMs returns every VM known in a datacenter, placed or not.
	ListVMs(ctx context.Context, datacenterID string) ([]*domain.VM, error)
}

// StateRepository persists warm-start state per datacenter.
type StateRepository interface {
	// Get returns domain.ErrNotFound when the datacenter has no state yet.
	Get(ctx context.Context, datacenterID string) (*domain.OptimizerState, error)

	// Save creates or replaces the state of its datacenter.
	Save(ctx context.Context, state *domain.OptimizerState) error

	// Delete removes the state. Deleting a missing state is not an error.
	Delete(ctx context.Context, datacenterID string) error
}

// PlanRepository stores sequenced migration plans.
type PlanRepository interface {
	Create(ctx context.Context, plan *domain.MigrationPlan) error

	// Get returns domain.ErrNotFound for unknown plans.
	Get(ctx context.Context, id string) (*domain.MigrationPlan, error)

	// ListByDatacenter returns the newest plans first.
	ListByDatacenter(ctx context.Context, datacenterID string, limit int) ([]*domain.MigrationPlan, error)

	// DeleteOld removes plans created before olderThan.
	DeleteOld(ctx context.Context, olderThan time.Time) error
}

// Locker serializes optimization calls per datacenter.
type Locker interface {
	// TryLock returns domain.ErrDatacenterBusy when the datacenter is held.
	// The returned func releases the lock.
	TryLock(ctx context.Context, datacenterID string) (func(), error)
}

// EventPublisher fans optimizer events out to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// PlanExecutor receives committed plans. Executing migrations on real
// hypervisors is outside this service.
type PlanExecutor interface {
	Execute(ctx context.Context, plan *domain.MigrationPlan) error
}
