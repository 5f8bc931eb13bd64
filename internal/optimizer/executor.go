package optimizer

import (
	"context"
	"fmt"
	"time"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
)

// EventExecutor hands plans to whoever listens for plan.committed events.
type EventExecutor struct {
	events EventPublisher
}

// NewEventExecutor creates an executor publishing on events.
func NewEventExecutor(events EventPublisher) *EventExecutor {
	return &EventExecutor{events: events}
}

// Execute publishes the plan.
func (e *EventExecutor) Execute(ctx context.Context, plan *domain.MigrationPlan) error {
	err := e.events.Publish(ctx, domain.Event{
		Type:         domain.EventPlanCommitted,
		DatacenterID: plan.DatacenterID,
		SessionID:    plan.SessionID,
		PlanID:       plan.ID,
		Plan:         plan,
		Time:         time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish plan %s: %w", plan.ID, err)
	}
	return nil
}

// ExecutorChain runs executors in order and stops at the first failure.
type ExecutorChain []PlanExecutor

// Execute hands the plan to every executor in the chain.
func (c ExecutorChain) Execute(ctx context.Context, plan *domain.MigrationPlan) error {
	for _, e := range c {
		if err := e.Execute(ctx, plan); err != nil {
			return err
		}
	}
	return nil
}
