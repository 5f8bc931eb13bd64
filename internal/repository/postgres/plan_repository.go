package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/optimizer"
)

// Ensure PlanRepository implements optimizer.PlanRepository
var _ optimizer.PlanRepository = (*PlanRepository)(nil)

// PlanRepository stores migration plans in the migration_plans table.
type PlanRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPlanRepository creates a new PostgreSQL plan repository.
func NewPlanRepository(db *DB, logger *zap.Logger) *PlanRepository {
	return &PlanRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "plan")),
	}
}

// planColumns holds the JSON encoded columns of a plan row.
type planColumns struct {
	steps, placements, rerouted, unresolved, objectives []byte
}

func encodePlan(p *domain.MigrationPlan) (*planColumns, error) {
	var c planColumns
	var err error
	if c.steps, err = json.Marshal(p.Steps); err != nil {
		return nil, fmt.Errorf("failed to marshal steps: %w", err)
	}
	if c.placements, err = json.Marshal(p.Placements); err != nil {
		return nil, fmt.Errorf("failed to marshal placements: %w", err)
	}
	if c.rerouted, err = json.Marshal(p.Rerouted); err != nil {
		return nil, fmt.Errorf("failed to marshal rerouted: %w", err)
	}
	if c.unresolved, err = json.Marshal(p.Unresolved); err != nil {
		return nil, fmt.Errorf("failed to marshal unresolved: %w", err)
	}
	if c.objectives, err = json.Marshal(p.Objectives); err != nil {
		return nil, fmt.Errorf("failed to marshal objectives: %w", err)
	}
	return &c, nil
}

func (c *planColumns) decode(p *domain.MigrationPlan) error {
	if err := json.Unmarshal(c.steps, &p.Steps); err != nil {
		return fmt.Errorf("failed to unmarshal steps: %w", err)
	}
	if err := json.Unmarshal(c.placements, &p.Placements); err != nil {
		return fmt.Errorf("failed to unmarshal placements: %w", err)
	}
	if err := json.Unmarshal(c.rerouted, &p.Rerouted); err != nil {
		return fmt.Errorf("failed to unmarshal rerouted: %w", err)
	}
	if err := json.Unmarshal(c.unresolved, &p.Unresolved); err != nil {
		return fmt.Errorf("failed to unmarshal unresolved: %w", err)
	}
	if err := json.Unmarshal(c.objectives, &p.Objectives); err != nil {
		return fmt.Errorf("failed to unmarshal objectives: %w", err)
	}
	return nil
}

// Create stores a new plan.
func (r *PlanRepository) Create(ctx context.Context, p *domain.MigrationPlan) error {
	cols, err := encodePlan(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO migration_plans (
			id, datacenter_id, session_id, steps, placements,
			rerouted, unresolved, objectives, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.pool.Exec(ctx, query,
		p.ID,
		p.DatacenterID,
		p.SessionID,
		cols.steps,
		cols.placements,
		cols.rerouted,
		cols.unresolved,
		cols.objectives,
		p.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create plan", zap.Error(err), zap.String("id", p.ID))
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert plan: %w", err)
	}

	r.logger.Debug("Created plan", zap.String("id", p.ID), zap.String("datacenter_id", p.DatacenterID))
	return nil
}

const selectPlan = `
	SELECT id, datacenter_id, session_id, steps, placements,
	       rerouted, unresolved, objectives, created_at
	FROM migration_plans
`

// Get retrieves a plan by ID.
func (r *PlanRepository) Get(ctx context.Context, id string) (*domain.MigrationPlan, error) {
	p, err := scanPlan(r.db.pool.QueryRow(ctx, selectPlan+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return p, nil
}

// ListByDatacenter returns the newest plans of a datacenter first.
func (r *PlanRepository) ListByDatacenter(ctx context.Context, datacenterID string, limit int) ([]*domain.MigrationPlan, error) {
	rows, err := r.db.pool.Query(ctx,
		selectPlan+` WHERE datacenter_id = $1 ORDER BY created_at DESC LIMIT $2`,
		datacenterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []*domain.MigrationPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// DeleteOld removes plans created before olderThan.
func (r *PlanRepository) DeleteOld(ctx context.Context, olderThan time.Time) error {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM migration_plans WHERE created_at < $1`, olderThan)
	if err != nil {
		return fmt.Errorf("failed to delete old plans: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		r.logger.Info("Deleted old plans", zap.Int64("count", n))
	}
	return nil
}

func scanPlan(row pgx.Row) (*domain.MigrationPlan, error) {
	p := &domain.MigrationPlan{}
	var cols planColumns
	var sessionID *string
	err := row.Scan(
		&p.ID,
		&p.DatacenterID,
		&sessionID,
		&cols.steps,
		&cols.placements,
		&cols.rerouted,
		&cols.unresolved,
		&cols.objectives,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if sessionID != nil {
		p.SessionID = *sessionID
	}
	if err := cols.decode(p); err != nil {
		return nil, err
	}
	return p, nil
}
