package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/optimizer"
)

// Ensure StateRepository implements optimizer.StateRepository
var _ optimizer.StateRepository = (*StateRepository)(nil)

// StateRepository stores warm-start state in the optimizer_states table.
type StateRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewStateRepository creates a new PostgreSQL state repository.
func NewStateRepository(db *DB, logger *zap.Logger) *StateRepository {
	return &StateRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "optimizer_state")),
	}
}

// Get retrieves the state of a datacenter.
func (r *StateRepository) Get(ctx context.Context, datacenterID string) (*domain.OptimizerState, error) {
	query := `
		SELECT datacenter_id, variant, shape, trails, placement, sessions, updated_at
		FROM optimizer_states
		WHERE datacenter_id = $1
	`

	s := &domain.OptimizerState{}
	var shape string
	var trailsJSON, placementJSON []byte
	err := r.db.pool.QueryRow(ctx, query, datacenterID).Scan(
		&s.DatacenterID,
		&s.Variant,
		&shape,
		&trailsJSON,
		&placementJSON,
		&s.Sessions,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get optimizer state: %w", err)
	}
	s.Shape = domain.PheromoneShape(shape)

	if err := json.Unmarshal(trailsJSON, &s.Trails); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trails: %w", err)
	}
	if err := json.Unmarshal(placementJSON, &s.Placement); err != nil {
		return nil, fmt.Errorf("failed to unmarshal placement: %w", err)
	}
	return s, nil
}

// Save upserts the state of its datacenter.
func (r *StateRepository) Save(ctx context.Context, s *domain.OptimizerState) error {
	trailsJSON, err := json.Marshal(s.Trails)
	if err != nil {
		return fmt.Errorf("failed to marshal trails: %w", err)
	}
	placementJSON, err := json.Marshal(s.Placement)
	if err != nil {
		return fmt.Errorf("failed to marshal placement: %w", err)
	}

	query := `
		INSERT INTO optimizer_states (
			datacenter_id, variant, shape, trails, placement, sessions, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (datacenter_id) DO UPDATE SET
			variant = EXCLUDED.variant,
			shape = EXCLUDED.shape,
			trails = EXCLUDED.trails,
			placement = EXCLUDED.placement,
			sessions = EXCLUDED.sessions,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.pool.Exec(ctx, query,
		s.DatacenterID,
		s.Variant,
		string(s.Shape),
		trailsJSON,
		placementJSON,
		s.Sessions,
		s.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to save optimizer state", zap.Error(err), zap.String("datacenter_id", s.DatacenterID))
		return fmt.Errorf("failed to upsert optimizer state: %w", err)
	}
	return nil
}

// Delete removes the state of a datacenter.
func (r *StateRepository) Delete(ctx context.Context, datacenterID string) error {
	if _, err := r.db.pool.Exec(ctx, `DELETE FROM optimizer_states WHERE datacenter_id = $1`, datacenterID); err != nil {
		return fmt.Errorf("failed to delete optimizer state: %w", err)
	}
	return nil
}
