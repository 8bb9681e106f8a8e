package committee

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	api "github.com/mohitkumar/loanflow/api/v1"
	"github.com/mohitkumar/loanflow/cache"
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

func (r *recordingEmitter) count(kind model.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

var start = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

// flakyStorage fails the next review header write once armed.
type flakyStorage struct {
	persistence.Storage
	failNext atomic.Bool
}

func (s *flakyStorage) UpdateReview(ctx context.Context, review *model.CommitteeReview, expectedVersion int64) error {
	if s.failNext.CAS(true, false) {
		return errors.New("transient storage error")
	}
	return s.Storage.UpdateReview(ctx, review, expectedVersion)
}

// flakyTransitioner fails the next outcome hand-off once armed.
type flakyTransitioner struct {
	Transitioner
	failNext atomic.Bool
}

func (f *flakyTransitioner) Apply(ctx context.Context, req flow.TransitionRequest) (model.InstanceView, error) {
	if f.failNext.CAS(true, false) {
		return model.InstanceView{}, errors.New("downstream unavailable")
	}
	return f.Transitioner.Apply(ctx, req)
}

type fixture struct {
	engine   *Engine
	executor *flow.TransitionExecutor
	storage  *flakyStorage
	handoff  *flakyTransitioner
	clock    *util.ManualClock
	emitter  *recordingEmitter
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, Config{LockStripes: 16})
}

func newFixtureWith(t *testing.T, conf Config) *fixture {
	storage := &flakyStorage{Storage: memory.NewMemoryStorage()}
	catalog := metadata.NewCatalogService(storage, cache.NewDefinitionCache())
	_, err := catalog.EnsureDefault(context.Background())
	require.NoError(t, err)
	clock := util.NewManualClock(start)
	emitter := &recordingEmitter{}
	executor := flow.NewTransitionExecutor(storage, catalog, emitter, clock)
	handoff := &flakyTransitioner{Transitioner: executor}
	return &fixture{
		engine:   NewEngine(storage, catalog, handoff, emitter, clock, conf),
		executor: executor,
		storage:  storage,
		handoff:  handoff,
		clock:    clock,
		emitter:  emitter,
	}
}

func (f *fixture) pending(t *testing.T) []*model.CommitteeReview {
	pending, err := f.storage.ListPendingHandoffs(context.Background())
	require.NoError(t, err)
	return pending
}

// toCommittee walks a fresh application up to the committee stage.
func (f *fixture) toCommittee(t *testing.T, applicationId string) model.InstanceView {
	ctx := context.Background()
	amount := 2000000.0
	view, err := f.executor.StartWorkflow(ctx, flow.StartRequest{
		ApplicationId:   applicationId,
		ApplicationType: metadata.DEFAULT_APPLICATION_TYPE,
		ActorUserId:     "lo-1",
		ActorRole:       metadata.ROLE_LOAN_OFFICER,
		Terms:           model.Terms{Amount: &amount},
	})
	require.NoError(t, err)
	for _, role := range []model.Role{metadata.ROLE_BRANCH_MANAGER, metadata.ROLE_CREDIT_ANALYST, metadata.ROLE_RISK_MANAGER} {
		view, err = f.executor.Transition(ctx, view.Id, model.ACTION_APPROVE, "u", role, "")
		require.NoError(t, err)
	}
	require.Equal(t, metadata.STATUS_COMMITTEE_REVIEW, view.CurrentStatus)
	return view
}

func (f *fixture) circulate(t *testing.T, applicationId string, members []string, min int) model.ReviewView {
	review, err := f.engine.Circulate(context.Background(), CirculateRequest{
		ApplicationId:        applicationId,
		CommitteeType:        "CreditCommittee",
		MemberUserIds:        members,
		ChairpersonId:        members[0],
		Deadline:             f.clock.Now().Add(72 * time.Hour),
		MinimumApprovalVotes: min,
	})
	require.NoError(t, err)
	return review
}

func TestFiveMemberReviewApprovesOnThirdApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.toCommittee(t, "app-1")
	members := []string{"chair", "m2", "m3", "m4", "m5"}
	review := f.circulate(t, "app-1", members, 3)
	require.Equal(t, 5, review.RequiredVotes)
	require.Equal(t, model.REVIEW_IN_PROGRESS, review.Status)

	approved := 1500000.0
	_, err := f.engine.SetTermsOverride(ctx, review.Id, "chair", model.Terms{Amount: &approved})
	require.NoError(t, err)

	votes := []model.Vote{model.VOTE_APPROVE, model.VOTE_APPROVE, model.VOTE_REJECT, model.VOTE_APPROVE}
	for i, v := range votes {
		view, err := f.engine.CastVote(ctx, review.Id, members[i], v, "")
		require.NoError(t, err)
		if i < 3 {
			require.Equal(t, model.REVIEW_IN_PROGRESS, view.Status, "vote %d", i)
		} else {
			require.Equal(t, model.REVIEW_DECIDED, view.Status)
			require.Equal(t, model.DECISION_APPROVED, view.FinalDecision)
			require.NotNil(t, view.DecidedAt)
		}
	}

	_, err = f.engine.CastVote(ctx, review.Id, "m5", model.VOTE_REJECT, "")
	var notOpen api.ReviewNotOpenError
	require.True(t, errors.As(err, &notOpen))

	final, err := f.executor.GetInstance(ctx, inst.Id)
	require.NoError(t, err)
	require.True(t, final.IsCompleted)
	require.Equal(t, metadata.STATUS_APPROVED, final.FinalStatus)
	require.Equal(t, approved, *final.Terms.Amount)
	require.Equal(t, 1, f.emitter.count(model.EVENT_REVIEW_DECIDED))
	require.Equal(t, 4, f.emitter.count(model.EVENT_VOTE_CAST))
}

func TestRejectionWhenQuorumUnreachable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.toCommittee(t, "app-1")
	members := []string{"chair", "m2", "m3"}
	review := f.circulate(t, "app-1", members, 2)

	view, err := f.engine.CastVote(ctx, review.Id, "m2", model.VOTE_REJECT, "weak cash flow")
	require.NoError(t, err)
	require.Equal(t, model.REVIEW_IN_PROGRESS, view.Status)
	view, err = f.engine.CastVote(ctx, review.Id, "m3", model.VOTE_REJECT, "")
	require.NoError(t, err)
	require.Equal(t, model.REVIEW_DECIDED, view.Status)
	require.Equal(t, model.DECISION_REJECTED, view.FinalDecision)

	final, err := f.executor.GetInstance(ctx, inst.Id)
	require.NoError(t, err)
	require.Equal(t, metadata.STATUS_REJECTED, final.FinalStatus)

	logs, err := f.executor.History(ctx, inst.Id)
	require.NoError(t, err)
	last := logs[len(logs)-1]
	require.Equal(t, model.ACTION_REJECT, last.Action)
	require.Equal(t, "chair", last.PerformedBy)
	require.NotEmpty(t, last.Comment)
}

func permutations(votes []model.Vote) [][]model.Vote {
	if len(votes) <= 1 {
		return [][]model.Vote{append([]model.Vote(nil), votes...)}
	}
	var out [][]model.Vote
	for i := range votes {
		rest := make([]model.Vote, 0, len(votes)-1)
		rest = append(rest, votes[:i]...)
		rest = append(rest, votes[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]model.Vote{votes[i]}, p...))
		}
	}
	return out
}

func TestDecisionDoesNotDependOnVoteOrder(t *testing.T) {
	A, R, X := model.VOTE_APPROVE, model.VOTE_REJECT, model.VOTE_ABSTAIN
	scenarios := map[string]struct {
		votes []model.Vote
		min   int
		want  model.Decision
	}{
		"three approvals":      {votes: []model.Vote{A, A, R, R, A}, min: 3, want: model.DECISION_APPROVED},
		"two approvals":        {votes: []model.Vote{A, A, R, R, R}, min: 3, want: model.DECISION_REJECTED},
		"abstain with quorum":  {votes: []model.Vote{A, X, R, A, A}, min: 3, want: model.DECISION_APPROVED},
		"abstain blocks":       {votes: []model.Vote{A, X, X, R, A}, min: 3, want: model.DECISION_REJECTED},
		"unanimous required":   {votes: []model.Vote{A, A, A, A}, min: 4, want: model.DECISION_APPROVED},
		"single approve quota": {votes: []model.Vote{R, R, A}, min: 1, want: model.DECISION_APPROVED},
	}
	for name, sc := range scenarios {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			for i, order := range permutations(sc.votes) {
				app := fmt.Sprintf("app-%d", i)
				f.toCommittee(t, app)
				members := make([]string, len(order))
				for j := range order {
					members[j] = fmt.Sprintf("m%d", j)
				}
				review := f.circulate(t, app, members, sc.min)
				closed := false
				for j, v := range order {
					view, err := f.engine.CastVote(ctx, review.Id, members[j], v, "")
					if closed {
						var notOpen api.ReviewNotOpenError
						require.True(t, errors.As(err, &notOpen))
						continue
					}
					require.NoError(t, err)
					if view.Status == model.REVIEW_DECIDED {
						closed = true
						require.Equal(t, sc.want, view.FinalDecision, "order %v", order)
					}
				}
				require.True(t, closed, "order %v never decided", order)
			}
		})
	}
}

func TestDecide(t *testing.T) {
	require.Equal(t, model.DECISION_NONE, Decide(model.Tally{Approve: 2, Reject: 1, Undecided: 2}, 3))
	require.Equal(t, model.DECISION_APPROVED, Decide(model.Tally{Approve: 3, Undecided: 2}, 3))
	require.Equal(t, model.DECISION_REJECTED, Decide(model.Tally{Approve: 1, Reject: 3, Undecided: 1}, 3))
	require.Equal(t, model.DECISION_REJECTED, Decide(model.Tally{Approve: 2, Abstain: 1, Undecided: 0}, 3))
}

func TestVoteErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.toCommittee(t, "app-1")
	review := f.circulate(t, "app-1", []string{"chair", "m2", "m3"}, 3)

	_, err := f.engine.CastVote(ctx, review.Id, "m2", model.VOTE_APPROVE, "")
	require.NoError(t, err)
	_, err = f.engine.CastVote(ctx, review.Id, "m2", model.VOTE_REJECT, "")
	var already api.AlreadyVotedError
	require.True(t, errors.As(err, &already))

	_, err = f.engine.CastVote(ctx, review.Id, "outsider", model.VOTE_APPROVE, "")
	var notMember api.NotAMemberError
	require.True(t, errors.As(err, &notMember))

	_, err = f.engine.CastVote(ctx, review.Id, "m3", "Maybe", "")
	var verr api.ValidationError
	require.True(t, errors.As(err, &verr))

	_, err = f.engine.CastVote(ctx, "missing", "m3", model.VOTE_APPROVE, "")
	require.True(t, api.IsNotFound(err))

	full, err := f.engine.GetReview(ctx, review.Id)
	require.NoError(t, err)
	m, ok := full.Member("m2")
	require.True(t, ok)
	require.Equal(t, model.VOTE_APPROVE, m.Vote)
}

func TestCirculateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.toCommittee(t, "app-1")

	req := CirculateRequest{
		ApplicationId:        "app-1",
		CommitteeType:        "CreditCommittee",
		MemberUserIds:        []string{"m2", "m2", "chair"},
		ChairpersonId:        "chair",
		Deadline:             start.Add(time.Hour),
		MinimumApprovalVotes: 3,
	}
	_, err := f.engine.Circulate(ctx, req)
	var quorum api.QuorumMisconfiguredError
	require.True(t, errors.As(err, &quorum))
	require.Equal(t, 2, quorum.RequiredVotes)

	req.MinimumApprovalVotes = 0
	_, err = f.engine.Circulate(ctx, req)
	require.True(t, errors.As(err, &quorum))

	req.MinimumApprovalVotes = 2
	req.Deadline = start.Add(-time.Minute)
	_, err = f.engine.Circulate(ctx, req)
	var verr api.ValidationError
	require.True(t, errors.As(err, &verr))

	req.Deadline = start.Add(time.Hour)
	review, err := f.engine.Circulate(ctx, req)
	require.NoError(t, err)
	require.Len(t, review.Members, 2)
	require.True(t, review.Members[0].IsChairperson)

	_, err = f.engine.Circulate(ctx, req)
	require.True(t, api.IsConflict(err))

	_, err = f.executor.StartWorkflow(ctx, flow.StartRequest{
		ApplicationId:   "app-2",
		ApplicationType: metadata.DEFAULT_APPLICATION_TYPE,
		ActorUserId:     "lo-1",
		ActorRole:       metadata.ROLE_LOAN_OFFICER,
	})
	require.NoError(t, err)
	req.ApplicationId = "app-2"
	_, err = f.engine.Circulate(ctx, req)
	var invalid api.InvalidTransitionError
	require.True(t, errors.As(err, &invalid))

	req.ApplicationId = "app-unknown"
	_, err = f.engine.Circulate(ctx, req)
	require.True(t, api.IsNotFound(err))
}

func TestConcurrentVotesDecideOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.toCommittee(t, "app-1")
	members := []string{"chair", "m2", "m3", "m4", "m5", "m6", "m7"}
	review := f.circulate(t, "app-1", members, 3)

	var wg sync.WaitGroup
	errs := make([]error, len(members))
	for i, userId := range members {
		wg.Add(1)
		go func(i int, userId string) {
			defer wg.Done()
			_, errs[i] = f.engine.CastVote(ctx, review.Id, userId, model.VOTE_APPROVE, "")
		}(i, userId)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		var notOpen api.ReviewNotOpenError
		require.True(t, errors.As(err, &notOpen), "unexpected error %v", err)
	}
	require.GreaterOrEqual(t, accepted, 3)
	require.Equal(t, 1, f.emitter.count(model.EVENT_REVIEW_DECIDED))

	logs, err := f.executor.History(ctx, inst.Id)
	require.NoError(t, err)
	committeeApprovals := 0
	for _, l := range logs {
		if l.FromStatus == metadata.STATUS_COMMITTEE_REVIEW {
			committeeApprovals++
		}
	}
	require.Equal(t, 1, committeeApprovals)
}

func TestExpireOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.toCommittee(t, "app-1")
	review := f.circulate(t, "app-1", []string{"chair", "m2", "m3"}, 2)
	_, err := f.engine.CastVote(ctx, review.Id, "m2", model.VOTE_APPROVE, "")
	require.NoError(t, err)

	n, err := f.engine.ExpireOverdue(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 0, n)

	f.clock.Advance(73 * time.Hour)
	_, err = f.engine.CastVote(ctx, review.Id, "m3", model.VOTE_APPROVE, "")
	var notOpen api.ReviewNotOpenError
	require.True(t, errors.As(err, &notOpen))

	n, err = f.engine.ExpireOverdue(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	closed, err := f.engine.GetReview(ctx, review.Id)
	require.NoError(t, err)
	require.Equal(t, model.REVIEW_EXPIRED, closed.Status)
	require.Equal(t, model.DECISION_REJECTED, closed.FinalDecision)

	final, err := f.executor.GetInstance(ctx, inst.Id)
	require.NoError(t, err)
	require.Equal(t, metadata.STATUS_REJECTED, final.FinalStatus)

	n, err = f.engine.ExpireOverdue(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestViewsCommentsDocumentsAndOverrides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.toCommittee(t, "app-1")
	review := f.circulate(t, "app-1", []string{"chair", "m2"}, 2)

	m, err := f.engine.RecordView(ctx, review.Id, "m2")
	require.NoError(t, err)
	require.Equal(t, 1, m.ViewCount)
	first := *m.FirstViewedAt
	f.clock.Advance(time.Minute)
	m, err = f.engine.RecordView(ctx, review.Id, "m2")
	require.NoError(t, err)
	require.Equal(t, 2, m.ViewCount)
	require.Equal(t, first, *m.FirstViewedAt)

	_, err = f.engine.RecordView(ctx, review.Id, "outsider")
	var notMember api.NotAMemberError
	require.True(t, errors.As(err, &notMember))

	c, err := f.engine.AddComment(ctx, review.Id, "m2", "collateral looks thin", "shared")
	require.NoError(t, err)
	require.Equal(t, model.VISIBILITY_SHARED, c.Visibility)
	_, err = f.engine.AddComment(ctx, review.Id, "m2", "  ", "")
	var verr api.ValidationError
	require.True(t, errors.As(err, &verr))
	_, err = f.engine.AddComment(ctx, review.Id, "m2", "note", "public")
	require.True(t, errors.As(err, &verr))
	_, err = f.engine.AddComment(ctx, review.Id, "outsider", "note", "")
	require.True(t, errors.As(err, &notMember))

	d, err := f.engine.AddDocument(ctx, review.Id, "chair", "valuation.pdf", "s3://docs/valuation.pdf", "")
	require.NoError(t, err)
	require.Equal(t, model.VISIBILITY_INTERNAL, d.Visibility)

	rate := 7.5
	_, err = f.engine.SetTermsOverride(ctx, review.Id, "m2", model.Terms{Rate: &rate})
	var unauthorized api.UnauthorizedError
	require.True(t, errors.As(err, &unauthorized))
	view, err := f.engine.SetTermsOverride(ctx, review.Id, "chair", model.Terms{Rate: &rate})
	require.NoError(t, err)
	require.Equal(t, rate, *view.Overrides.Rate)
	_, err = f.engine.SetTermsOverride(ctx, review.Id, "chair", model.Terms{})
	require.True(t, errors.As(err, &verr))

	full, err := f.engine.GetReview(ctx, review.Id)
	require.NoError(t, err)
	require.Len(t, full.Comments, 1)
	require.Len(t, full.Documents, 1)
	require.Equal(t, 2, full.Members[1].ViewCount)
}

func TestSweepClosesResolvedReviewAfterFailedWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.toCommittee(t, "app-1")
	review := f.circulate(t, "app-1", []string{"chair", "m2", "m3"}, 2)

	_, err := f.engine.CastVote(ctx, review.Id, "chair", model.VOTE_APPROVE, "")
	require.NoError(t, err)
	f.storage.failNext.Store(true)
	_, err = f.engine.CastVote(ctx, review.Id, "m2", model.VOTE_APPROVE, "")
	require.ErrorContains(t, err, "transient storage error")

	stuck, err := f.engine.GetReview(ctx, review.Id)
	require.NoError(t, err)
	require.Equal(t, model.REVIEW_IN_PROGRESS, stuck.Status)
	require.Equal(t, 2, stuck.Tally().Approve)

	f.clock.Advance(73 * time.Hour)
	n, err := f.engine.ExpireOverdue(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	closed, err := f.engine.GetReview(ctx, review.Id)
	require.NoError(t, err)
	require.Equal(t, model.REVIEW_DECIDED, closed.Status)
	require.Equal(t, model.DECISION_APPROVED, closed.FinalDecision)
	require.True(t, closed.HandedOff)

	final, err := f.executor.GetInstance(ctx, inst.Id)
	require.NoError(t, err)
	require.Equal(t, metadata.STATUS_APPROVED, final.FinalStatus)
}

func TestSweepDecidesResolvedReviewBeforeDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.toCommittee(t, "app-1")
	review := f.circulate(t, "app-1", []string{"chair", "m2", "m3"}, 2)

	_, err := f.engine.CastVote(ctx, review.Id, "m2", model.VOTE_REJECT, "")
	require.NoError(t, err)
	f.storage.failNext.Store(true)
	_, err = f.engine.CastVote(ctx, review.Id, "m3", model.VOTE_REJECT, "")
	require.ErrorContains(t, err, "transient storage error")

	n, err := f.engine.ExpireOverdue(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	closed, err := f.engine.GetReview(ctx, review.Id)
	require.NoError(t, err)
	require.Equal(t, model.REVIEW_DECIDED, closed.Status)
	require.Equal(t, model.DECISION_REJECTED, closed.FinalDecision)

	final, err := f.executor.GetInstance(ctx, inst.Id)
	require.NoError(t, err)
	require.Equal(t, metadata.STATUS_REJECTED, final.FinalStatus)
}

func TestRetryHandoffsAppliesFailedOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.toCommittee(t, "app-1")
	review := f.circulate(t, "app-1", []string{"chair", "m2", "m3"}, 2)

	_, err := f.engine.CastVote(ctx, review.Id, "chair", model.VOTE_APPROVE, "")
	require.NoError(t, err)
	f.handoff.failNext.Store(true)
	view, err := f.engine.CastVote(ctx, review.Id, "m2", model.VOTE_APPROVE, "")
	require.NoError(t, err)
	require.Equal(t, model.REVIEW_DECIDED, view.Status)

	current, err := f.executor.GetInstance(ctx, inst.Id)
	require.NoError(t, err)
	require.Equal(t, metadata.STATUS_COMMITTEE_REVIEW, current.CurrentStatus)
	pending := f.pending(t)
	require.Len(t, pending, 1)
	require.Equal(t, review.Id, pending[0].Id)

	n, err := f.engine.RetryHandoffs(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Empty(t, f.pending(t))

	final, err := f.executor.GetInstance(ctx, inst.Id)
	require.NoError(t, err)
	require.Equal(t, metadata.STATUS_APPROVED, final.FinalStatus)
	logs, err := f.executor.History(ctx, inst.Id)
	require.NoError(t, err)
	require.Equal(t, "chair", logs[len(logs)-1].PerformedBy)

	n, err = f.engine.RetryHandoffs(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestRetryHandoffsSkipsInstanceThatMovedOn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.toCommittee(t, "app-1")
	review := f.circulate(t, "app-1", []string{"chair", "m2"}, 1)

	f.handoff.failNext.Store(true)
	_, err := f.engine.CastVote(ctx, review.Id, "chair", model.VOTE_APPROVE, "")
	require.NoError(t, err)
	_, err = f.executor.Transition(ctx, inst.Id, model.ACTION_REJECT, "chair", metadata.ROLE_CREDIT_COMMITTEE, "rejected outside the review")
	require.NoError(t, err)

	n, err := f.engine.RetryHandoffs(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Empty(t, f.pending(t))

	final, err := f.executor.GetInstance(ctx, inst.Id)
	require.NoError(t, err)
	require.Equal(t, metadata.STATUS_REJECTED, final.FinalStatus)
}

func TestRecirculationSupersedesExpiredReview(t *testing.T) {
	f := newFixtureWith(t, Config{LockStripes: 16, RecirculationWindow: 24 * time.Hour})
	ctx := context.Background()
	inst := f.toCommittee(t, "app-1")
	first := f.circulate(t, "app-1", []string{"chair", "m2", "m3"}, 2)
	_, err := f.engine.CastVote(ctx, first.Id, "m2", model.VOTE_APPROVE, "")
	require.NoError(t, err)

	f.clock.Advance(73 * time.Hour)
	n, err := f.engine.ExpireOverdue(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	expired, err := f.engine.GetReview(ctx, first.Id)
	require.NoError(t, err)
	require.Equal(t, model.REVIEW_EXPIRED, expired.Status)
	require.Equal(t, model.DECISION_REJECTED, expired.FinalDecision)
	current, err := f.executor.GetInstance(ctx, inst.Id)
	require.NoError(t, err)
	require.Equal(t, metadata.STATUS_COMMITTEE_REVIEW, current.CurrentStatus)

	n, err = f.engine.RetryHandoffs(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 0, n)

	second := f.circulate(t, "app-1", []string{"chair", "m2", "m3"}, 2)
	superseded, err := f.engine.GetReview(ctx, first.Id)
	require.NoError(t, err)
	require.True(t, superseded.HandedOff)
	require.Equal(t, second.Id, superseded.SupersededBy)
	require.Empty(t, f.pending(t))

	f.clock.Advance(25 * time.Hour)
	n, err = f.engine.RetryHandoffs(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 0, n)
	current, err = f.executor.GetInstance(ctx, inst.Id)
	require.NoError(t, err)
	require.Equal(t, metadata.STATUS_COMMITTEE_REVIEW, current.CurrentStatus)

	for _, userId := range []string{"chair", "m3"} {
		_, err = f.engine.CastVote(ctx, second.Id, userId, model.VOTE_APPROVE, "")
		require.NoError(t, err)
	}
	final, err := f.executor.GetInstance(ctx, inst.Id)
	require.NoError(t, err)
	require.Equal(t, metadata.STATUS_APPROVED, final.FinalStatus)
}

func TestExpiredReviewRejectsAfterRecirculationWindow(t *testing.T) {
	f := newFixtureWith(t, Config{LockStripes: 16, RecirculationWindow: 24 * time.Hour})
	ctx := context.Background()
	inst := f.toCommittee(t, "app-1")
	review := f.circulate(t, "app-1", []string{"chair", "m2", "m3"}, 2)

	f.clock.Advance(73 * time.Hour)
	n, err := f.engine.ExpireOverdue(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, f.pending(t), 1)

	f.clock.Advance(23 * time.Hour)
	n, err = f.engine.RetryHandoffs(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 0, n)

	f.clock.Advance(time.Hour)
	n, err = f.engine.RetryHandoffs(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Empty(t, f.pending(t))

	final, err := f.executor.GetInstance(ctx, inst.Id)
	require.NoError(t, err)
	require.Equal(t, metadata.STATUS_REJECTED, final.FinalStatus)
	closed, err := f.engine.GetReview(ctx, review.Id)
	require.NoError(t, err)
	require.Empty(t, closed.SupersededBy)
}
