package optimizer

import (
	"context"
	"errors"
	"testing"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
)

type recordingExecutor struct {
	name  string
	calls *[]string
	err   error
}

func (r recordingExecutor) Execute(ctx context.Context, plan *domain.MigrationPlan) error {
	*r.calls = append(*r.calls, r.name)
	return r.err
}

func TestEventExecutor_Execute(t *testing.T) {
	events := &MockEvents{}
	plan := &domain.MigrationPlan{ID: "p1", DatacenterID: "dc-1", SessionID: "s1"}

	if err := NewEventExecutor(events).Execute(context.Background(), plan); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(events.events) != 1 {
		t.Fatalf("Expected one event, got %d", len(events.events))
	}
	e := events.events[0]
	if e.Type != domain.EventPlanCommitted || e.PlanID != "p1" || e.Plan != plan {
		t.Errorf("Unexpected event %+v", e)
	}
}

func TestExecutorChain_Execute(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	chain := ExecutorChain{
		recordingExecutor{name: "apply", calls: &calls},
		recordingExecutor{name: "fail", calls: &calls, err: boom},
		recordingExecutor{name: "never", calls: &calls},
	}

	err := chain.Execute(context.Background(), &domain.MigrationPlan{ID: "p1"})
	if !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}
	if len(calls) != 2 || calls[0] != "apply" || calls[1] != "fail" {
		t.Errorf("Expected chain to stop at the failure, got %v", calls)
	}
}
