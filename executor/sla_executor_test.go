package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	api "github.com/mohitkumar/loanflow/api/v1"
	"github.com/mohitkumar/loanflow/cache"
	"github.com/mohitkumar/loanflow/config"
	"github.com/mohitkumar/loanflow/flow"
	"github.com/mohitkumar/loanflow/metadata"
	"github.com/mohitkumar/loanflow/model"
	"github.com/mohitkumar/loanflow/persistence"
	"github.com/mohitkumar/loanflow/persistence/memory"
	"github.com/mohitkumar/loanflow/util"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recordingEmitter) Emit(kind model.EventKind, entityId string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, model.Event{Kind: kind, EntityId: entityId, Payload: payload})
}

func (r *recordingEmitter) Audit(entry model.AuditEntry) {}

func (r *recordingEmitter) breaches() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Event
	for _, ev := range r.events {
		if ev.Kind == model.EVENT_SLA_BREACHED {
			out = append(out, ev)
		}
	}
	return out
}

type countingRedeliverer struct {
	calls atomic.Int32
}

func (c *countingRedeliverer) RetryFailed() int {
	c.calls.Inc()
	return 0
}

type conflictingStorage struct {
	persistence.InstanceStorage
}

func (c conflictingStorage) UpdateInstance(ctx context.Context, inst *model.WorkflowInstance, expectedVersion int64) error {
	return api.ConflictError{Entity: "instance", Id: inst.Id}
}

var (
	start   = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	slaConf = config.SlaConfig{
		SweepInterval:      10 * time.Millisecond,
		EscalationInterval: 4 * time.Hour,
		EscalationChain:    []model.Role{"RegionalManager", "ChiefCreditOfficer"},
	}
)

func startInstance(t *testing.T, storage persistence.Storage, clock util.Clock) (*flow.TransitionExecutor, model.InstanceView) {
	catalog := metadata.NewCatalogService(storage, cache.NewDefinitionCache())
	_, err := catalog.EnsureDefault(context.Background())
	require.NoError(t, err)
	exec := flow.NewTransitionExecutor(storage, catalog, &recordingEmitter{}, clock)
	view, err := exec.StartWorkflow(context.Background(), flow.StartRequest{
		ApplicationId:   "app-1",
		ApplicationType: metadata.DEFAULT_APPLICATION_TYPE,
		ActorUserId:     "lo-1",
		ActorRole:       metadata.ROLE_LOAN_OFFICER,
	})
	require.NoError(t, err)
	return exec, view
}

func TestSlaSweepEscalatesAlongChain(t *testing.T) {
	ctx := context.Background()
	storage := memory.NewMemoryStorage()
	clock := util.NewManualClock(start)
	exec, inst := startInstance(t, storage, clock)
	emitter := &recordingEmitter{}
	var wg sync.WaitGroup
	sla := NewSlaExecutor(storage, emitter, nil, clock, slaConf, &wg)

	n, err := sla.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	steps := []struct {
		advance time.Duration
		want    int
		level   int
		role    model.Role
	}{
		{advance: 25 * time.Hour, want: 1, level: 1, role: "RegionalManager"},
		{advance: time.Hour, want: 0, level: 1, role: "RegionalManager"},
		{advance: 3 * time.Hour, want: 1, level: 2, role: "ChiefCreditOfficer"},
		{advance: 4 * time.Hour, want: 1, level: 3, role: "ChiefCreditOfficer"},
	}
	for i, st := range steps {
		clock.Advance(st.advance)
		n, err := sla.Sweep(ctx)
		require.NoError(t, err)
		require.Equal(t, st.want, n, "step %d", i)

		// repeating a cycle changes nothing
		n, err = sla.Sweep(ctx)
		require.NoError(t, err)
		require.Equal(t, 0, n, "step %d repeat", i)

		view, err := exec.GetInstance(ctx, inst.Id)
		require.NoError(t, err)
		require.True(t, view.IsSlaBreached)
		require.Equal(t, st.level, view.EscalationLevel)
		require.Equal(t, st.role, view.EscalatedToRole)
		require.Equal(t, metadata.STATUS_BRANCH_REVIEW, view.CurrentStatus)
	}
	require.Len(t, emitter.breaches(), 3)

	view, err := exec.Transition(ctx, inst.Id, model.ACTION_APPROVE, "bm-1", metadata.ROLE_BRANCH_MANAGER, "")
	require.NoError(t, err)
	require.False(t, view.IsSlaBreached)
	require.Equal(t, 0, view.EscalationLevel)
	require.Empty(t, view.EscalatedToRole)
}

func TestSlaSweepSkipsConflicts(t *testing.T) {
	ctx := context.Background()
	storage := memory.NewMemoryStorage()
	clock := util.NewManualClock(start)
	exec, inst := startInstance(t, storage, clock)
	emitter := &recordingEmitter{}
	var wg sync.WaitGroup
	sla := NewSlaExecutor(conflictingStorage{storage}, emitter, nil, clock, slaConf, &wg)

	clock.Advance(25 * time.Hour)
	n, err := sla.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Empty(t, emitter.breaches())

	view, err := exec.GetInstance(ctx, inst.Id)
	require.NoError(t, err)
	require.False(t, view.IsSlaBreached)
}

func TestSlaExecutorTicksAndRedelivers(t *testing.T) {
	storage := memory.NewMemoryStorage()
	clock := util.NewManualClock(start)
	exec, inst := startInstance(t, storage, clock)
	clock.Advance(25 * time.Hour)

	redeliverer := &countingRedeliverer{}
	var wg sync.WaitGroup
	sla := NewSlaExecutor(storage, &recordingEmitter{}, redeliverer, clock, slaConf, &wg)
	require.NoError(t, sla.Start())

	require.Eventually(t, func() bool {
		view, err := exec.GetInstance(context.Background(), inst.Id)
		return err == nil && view.IsSlaBreached && redeliverer.calls.Load() > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sla.Stop())
	wg.Wait()
}

type countingExpirer struct {
	calls    atomic.Int32
	handoffs atomic.Int32
}

func (c *countingExpirer) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	c.calls.Inc()
	return 0, errors.New("storage unavailable")
}

func (c *countingExpirer) RetryHandoffs(ctx context.Context, now time.Time) (int, error) {
	c.handoffs.Inc()
	return 1, nil
}

func TestReviewExpiryExecutorTicks(t *testing.T) {
	expirer := &countingExpirer{}
	var wg sync.WaitGroup
	ex := NewReviewExpiryExecutor(expirer, util.NewManualClock(start), 10*time.Millisecond, &wg)
	require.NoError(t, ex.Start())
	require.Eventually(t, func() bool { return expirer.calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return expirer.handoffs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, ex.Stop())
	wg.Wait()
}
