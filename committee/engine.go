package committee

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	api "github.com/mohitkumar/loanflow/api/v1"
	"github.com/mohitkumar/loanflow/bridge"
	"github.com/mohitkumar/loanflow/flow"
	"github.com/mohitkumar/loanflow/logger"
	"github.com/mohitkumar/loanflow/metadata"
	"github.com/mohitkumar/loanflow/metrics"
	"github.com/mohitkumar/loanflow/model"
	"github.com/mohitkumar/loanflow/persistence"
	"github.com/mohitkumar/loanflow/util"
	"go.uber.org/zap"
)

type Config struct {
	// CommitteeRole owns the outgoing edges of the stage a review is circulated from.
	CommitteeRole       model.Role
	ConflictRetries     int
	LockStripes         int
	// RecirculationWindow holds the Reject of an expired review back for this
	// long so the application can be circulated again. Zero rejects at once.
	RecirculationWindow time.Duration
}

// Transitioner applies the committee outcome to the parent instance.
type Transitioner interface {
	Apply(ctx context.Context, req flow.TransitionRequest) (model.InstanceView, error)
}

type CirculateRequest struct {
	ApplicationId        string
	CommitteeType        string
	MemberUserIds        []string
	ChairpersonId        string
	Deadline             time.Time
	MinimumApprovalVotes int
}

type Engine struct {
	storage  persistence.Storage
	catalog  metadata.CatalogService
	executor Transitioner
	emitter  bridge.Emitter
	clock    util.Clock
	locks    *reviewLocks
	conf     Config
}

func NewEngine(storage persistence.Storage, catalog metadata.CatalogService, executor Transitioner, emitter bridge.Emitter, clock util.Clock, conf Config) *Engine {
	if len(conf.CommitteeRole) == 0 {
		conf.CommitteeRole = metadata.ROLE_CREDIT_COMMITTEE
	}
	if conf.ConflictRetries <= 0 {
		conf.ConflictRetries = 5
	}
	return &Engine{
		storage:  storage,
		catalog:  catalog,
		executor: executor,
		emitter:  emitter,
		clock:    clock,
		locks:    newReviewLocks(conf.LockStripes),
		conf:     conf,
	}
}

// Circulate opens a review for the open instance of an application. The
// chairperson always votes; duplicate member ids collapse into one seat.
func (e *Engine) Circulate(ctx context.Context, req CirculateRequest) (model.ReviewView, error) {
	if len(strings.TrimSpace(req.ChairpersonId)) == 0 {
		return model.ReviewView{}, api.ValidationError{Message: "chairperson can not be empty"}
	}
	inst, err := e.storage.GetOpenInstanceByApplication(ctx, req.ApplicationId)
	if err != nil {
		return model.ReviewView{}, err
	}
	def, err := e.catalog.Get(ctx, inst.DefinitionId, inst.DefinitionVersion)
	if err != nil {
		return model.ReviewView{}, err
	}
	if !e.committeeStage(def, inst.CurrentStatus) {
		return model.ReviewView{}, api.InvalidTransitionError{FromStatus: string(inst.CurrentStatus), Action: "Circulate"}
	}
	participants := util.Unique(append([]string{req.ChairpersonId}, req.MemberUserIds...))
	required := len(participants)
	if req.MinimumApprovalVotes < 1 || req.MinimumApprovalVotes > required {
		return model.ReviewView{}, api.QuorumMisconfiguredError{RequiredVotes: required, MinimumApprovalVotes: req.MinimumApprovalVotes}
	}
	now := e.clock.Now()
	if !req.Deadline.After(now) {
		return model.ReviewView{}, api.ValidationError{Message: "deadline must be in the future"}
	}
	reviewId := uuid.New().String()
	superseded, err := e.supersede(ctx, req.ApplicationId, reviewId)
	if err != nil {
		return model.ReviewView{}, err
	}
	if superseded > 0 {
		current, err := e.storage.GetOpenInstanceByApplication(ctx, req.ApplicationId)
		if err != nil {
			return model.ReviewView{}, err
		}
		if current.Id != inst.Id || current.CurrentStatus != inst.CurrentStatus {
			return model.ReviewView{}, api.InvalidTransitionError{FromStatus: string(current.CurrentStatus), Action: "Circulate"}
		}
	}
	review := &model.CommitteeReview{
		Id:                   reviewId,
		ApplicationId:        req.ApplicationId,
		InstanceId:           inst.Id,
		CommitteeType:        req.CommitteeType,
		Status:               model.REVIEW_IN_PROGRESS,
		ChairpersonId:        req.ChairpersonId,
		CirculatedAt:         now,
		DeadlineAt:           req.Deadline,
		RequiredVotes:        required,
		MinimumApprovalVotes: req.MinimumApprovalVotes,
	}
	for _, userId := range participants {
		review.Members = append(review.Members, model.CommitteeMember{
			UserId:        userId,
			Role:          e.conf.CommitteeRole,
			IsChairperson: userId == req.ChairpersonId,
		})
	}
	if err := e.storage.CreateReview(ctx, review); err != nil {
		return model.ReviewView{}, err
	}
	logger.Info("committee review circulated", zap.String("review", review.Id), zap.String("application", review.ApplicationId), zap.Int("requiredVotes", required), zap.Int("minimumApprovalVotes", req.MinimumApprovalVotes))
	e.emitter.Audit(model.AuditEntry{
		EntityType: "review",
		EntityId:   review.Id,
		Actor:      req.ChairpersonId,
		Action:     "Circulate",
		Timestamp:  now,
		After:      review.View(),
	})
	return review.View(), nil
}

func (e *Engine) committeeStage(def *model.WorkflowDefinition, status model.Status) bool {
	owned := false
	for _, tr := range def.Transitions {
		if tr.FromStatus != status {
			continue
		}
		if tr.RequiredRole != e.conf.CommitteeRole {
			return false
		}
		owned = true
	}
	return owned
}

func (e *Engine) GetReview(ctx context.Context, reviewId string) (*model.CommitteeReview, error) {
	return e.storage.GetReview(ctx, reviewId)
}

func (e *Engine) openReview(ctx context.Context, reviewId string) (*model.CommitteeReview, error) {
	review, err := e.storage.GetReview(ctx, reviewId)
	if err != nil {
		return nil, err
	}
	if review.Status != model.REVIEW_IN_PROGRESS || !review.DeadlineAt.After(e.clock.Now()) {
		return nil, api.ReviewNotOpenError{ReviewId: reviewId, Status: string(review.Status)}
	}
	return review, nil
}

// CastVote records an immutable vote and then evaluates the decision rule.
func (e *Engine) CastVote(ctx context.Context, reviewId string, userId string, vote model.Vote, comment string) (model.ReviewView, error) {
	if vote != model.VOTE_APPROVE && vote != model.VOTE_REJECT && vote != model.VOTE_ABSTAIN {
		return model.ReviewView{}, api.ValidationError{Message: fmt.Sprintf("unknown vote %q", vote)}
	}
	err := flow.RetryOnConflict(ctx, e.conf.ConflictRetries, func() error {
		review, err := e.openReview(ctx, reviewId)
		if err != nil {
			return err
		}
		member, ok := review.Member(userId)
		if !ok {
			return api.NotAMemberError{ReviewId: reviewId, UserId: userId}
		}
		if member.HasVoted() {
			return api.AlreadyVotedError{ReviewId: reviewId, UserId: userId}
		}
		now := e.clock.Now()
		next := *member
		next.Vote = vote
		next.VotedAt = &now
		next.VoteComment = strings.TrimSpace(comment)
		if next.FirstViewedAt == nil {
			next.FirstViewedAt = &now
			next.ViewCount++
		}
		return e.storage.UpdateMember(ctx, reviewId, &next, member.Version, review.Version)
	})
	if err != nil {
		return model.ReviewView{}, err
	}
	metrics.Vote(ctx, string(vote))
	logger.Info("committee vote cast", zap.String("review", reviewId), zap.String("user", userId), zap.String("vote", string(vote)))
	e.emitter.Emit(model.EVENT_VOTE_CAST, reviewId, map[string]any{
		"reviewId": reviewId,
		"userId":   userId,
		"vote":     vote,
	})
	e.emitter.Audit(model.AuditEntry{
		EntityType: "review",
		EntityId:   reviewId,
		Actor:      userId,
		Action:     "Vote" + string(vote),
		Timestamp:  e.clock.Now(),
	})
	return e.evaluate(ctx, reviewId)
}

// Decide applies the quorum rule to a tally. Abstentions count toward
// participation only.
func Decide(t model.Tally, minimumApprovalVotes int) model.Decision {
	if t.Approve >= minimumApprovalVotes {
		return model.DECISION_APPROVED
	}
	if t.Approve+t.Undecided < minimumApprovalVotes {
		return model.DECISION_REJECTED
	}
	return model.DECISION_NONE
}

// evaluate closes the review when the tally resolves. Only the writer whose
// header update commits fires the downstream transition.
func (e *Engine) evaluate(ctx context.Context, reviewId string) (model.ReviewView, error) {
	unlock := e.locks.Lock(reviewId)
	var decided *model.CommitteeReview
	var view model.ReviewView
	err := flow.RetryOnConflict(ctx, e.conf.ConflictRetries, func() error {
		decided = nil
		review, err := e.storage.GetReview(ctx, reviewId)
		if err != nil {
			return err
		}
		view = review.View()
		if review.Status != model.REVIEW_IN_PROGRESS {
			return nil
		}
		tally := review.Tally()
		decision := Decide(tally, review.MinimumApprovalVotes)
		if decision == model.DECISION_NONE {
			return nil
		}
		now := e.clock.Now()
		review.Status = model.REVIEW_DECIDED
		review.FinalDecision = decision
		review.DecidedAt = &now
		review.DecisionRationale = rationale(decision, tally, review.MinimumApprovalVotes)
		if err := e.storage.UpdateReview(ctx, review, review.Version); err != nil {
			return err
		}
		decided = review
		view = review.View()
		return nil
	})
	unlock()
	if err != nil {
		return model.ReviewView{}, err
	}
	if decided != nil {
		e.report(ctx, decided)
		e.handoffNow(ctx, decided)
	}
	return view, nil
}

func rationale(decision model.Decision, t model.Tally, quorum int) string {
	return fmt.Sprintf("%s with %d approve, %d reject, %d abstain against a quorum of %d", strings.ToLower(string(decision)), t.Approve, t.Reject, t.Abstain, quorum)
}

// report announces a closed review and records it in the audit trail.
func (e *Engine) report(ctx context.Context, review *model.CommitteeReview) {
	metrics.Decision(ctx, string(review.Status)+"/"+string(review.FinalDecision))
	logger.Info("committee review closed", zap.String("review", review.Id), zap.String("status", string(review.Status)), zap.String("decision", string(review.FinalDecision)))
	e.emitter.Emit(model.EVENT_REVIEW_DECIDED, review.Id, map[string]any{
		"reviewId":      review.Id,
		"applicationId": review.ApplicationId,
		"instanceId":    review.InstanceId,
		"status":        review.Status,
		"decision":      review.FinalDecision,
		"rationale":     review.DecisionRationale,
		"tally":         review.Tally(),
	})
	e.emitter.Audit(model.AuditEntry{
		EntityType: "review",
		EntityId:   review.Id,
		Actor:      review.ChairpersonId,
		Action:     string(review.Status),
		Timestamp:  e.clock.Now(),
		After:      review.View(),
	})
}

// handoffNow hands the outcome over unless it is an expiry still inside the
// recirculation window. Failures stay pending for RetryHandoffs.
func (e *Engine) handoffNow(ctx context.Context, review *model.CommitteeReview) {
	if !e.handoffDue(review, e.clock.Now()) {
		logger.Info("holding expired review for recirculation", zap.String("review", review.Id), zap.Duration("window", e.conf.RecirculationWindow))
		return
	}
	if err := e.handoff(ctx, review.Id); err != nil {
		logger.Error("error applying committee outcome, will retry", zap.String("review", review.Id), zap.String("instance", review.InstanceId), zap.Error(err))
	}
}

func (e *Engine) handoffDue(review *model.CommitteeReview, now time.Time) bool {
	if review.Status != model.REVIEW_EXPIRED || e.conf.RecirculationWindow <= 0 || review.DecidedAt == nil {
		return true
	}
	return !now.Before(review.DecidedAt.Add(e.conf.RecirculationWindow))
}

// handoff applies Approve or Reject to the parent instance as the chairperson
// and marks the review handed off. An instance that already left the
// committee stage has nothing left to receive.
func (e *Engine) handoff(ctx context.Context, reviewId string) error {
	unlock := e.locks.Lock(reviewId)
	defer unlock()
	review, err := e.storage.GetReview(ctx, reviewId)
	if err != nil {
		return err
	}
	if !review.AwaitingHandoff() {
		return nil
	}
	req := flow.TransitionRequest{
		InstanceId:  review.InstanceId,
		Action:      review.FinalDecision.Action(),
		ActorUserId: review.ChairpersonId,
		ActorRole:   e.conf.CommitteeRole,
		Comment:     review.DecisionRationale,
	}
	if review.FinalDecision == model.DECISION_APPROVED {
		req.Terms = review.Overrides
	}
	err = flow.RetryOnConflict(ctx, e.conf.ConflictRetries, func() error {
		_, err := e.executor.Apply(ctx, req)
		return err
	})
	var invalid api.InvalidTransitionError
	switch {
	case err == nil:
	case errors.As(err, &invalid), api.IsNotFound(err):
		logger.Warn("instance no longer awaits committee outcome", zap.String("review", review.Id), zap.String("instance", review.InstanceId), zap.Error(err))
	default:
		return err
	}
	return flow.RetryOnConflict(ctx, e.conf.ConflictRetries, func() error {
		current, err := e.storage.GetReview(ctx, reviewId)
		if err != nil {
			return err
		}
		if !current.AwaitingHandoff() {
			return nil
		}
		current.HandedOff = true
		return e.storage.UpdateReview(ctx, current, current.Version)
	})
}

// RetryHandoffs applies outcomes of closed reviews that have not reached
// their instance yet and returns how many were handed off.
func (e *Engine) RetryHandoffs(ctx context.Context, now time.Time) (int, error) {
	pending, err := e.storage.ListPendingHandoffs(ctx)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, review := range pending {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if !e.handoffDue(review, now) {
			continue
		}
		if err := e.handoff(ctx, review.Id); err != nil {
			logger.Error("error retrying committee outcome", zap.String("review", review.Id), zap.String("instance", review.InstanceId), zap.Error(err))
			continue
		}
		done++
	}
	return done, nil
}

// supersede marks expired reviews of the application that still wait for
// their Reject as replaced by a new circulation.
func (e *Engine) supersede(ctx context.Context, applicationId string, reviewId string) (int, error) {
	pending, err := e.storage.ListPendingHandoffs(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, old := range pending {
		if old.ApplicationId != applicationId || old.Status != model.REVIEW_EXPIRED {
			continue
		}
		unlock := e.locks.Lock(old.Id)
		err := flow.RetryOnConflict(ctx, e.conf.ConflictRetries, func() error {
			current, err := e.storage.GetReview(ctx, old.Id)
			if err != nil {
				return err
			}
			if !current.AwaitingHandoff() {
				return nil
			}
			current.HandedOff = true
			current.SupersededBy = reviewId
			return e.storage.UpdateReview(ctx, current, current.Version)
		})
		unlock()
		if err != nil {
			return n, err
		}
		logger.Info("expired review superseded", zap.String("review", old.Id), zap.String("by", reviewId))
		n++
	}
	return n, nil
}

func (e *Engine) RecordView(ctx context.Context, reviewId string, userId string) (model.CommitteeMember, error) {
	var out model.CommitteeMember
	err := flow.RetryOnConflict(ctx, e.conf.ConflictRetries, func() error {
		review, err := e.storage.GetReview(ctx, reviewId)
		if err != nil {
			return err
		}
		member, ok := review.Member(userId)
		if !ok {
			return api.NotAMemberError{ReviewId: reviewId, UserId: userId}
		}
		now := e.clock.Now()
		next := *member
		if next.FirstViewedAt == nil {
			next.FirstViewedAt = &now
		}
		next.ViewCount++
		if err := e.storage.UpdateMember(ctx, reviewId, &next, member.Version, persistence.AnyVersion); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

func (e *Engine) AddComment(ctx context.Context, reviewId string, authorId string, body string, visibility string) (model.CommitteeComment, error) {
	vis, err := model.ParseVisibility(visibility)
	if err != nil {
		return model.CommitteeComment{}, api.ValidationError{Message: err.Error()}
	}
	if len(strings.TrimSpace(body)) == 0 {
		return model.CommitteeComment{}, api.ValidationError{Message: "comment body can not be empty"}
	}
	if _, err := e.participant(ctx, reviewId, authorId); err != nil {
		return model.CommitteeComment{}, err
	}
	comment := model.CommitteeComment{
		Id:         uuid.New().String(),
		AuthorId:   authorId,
		Body:       strings.TrimSpace(body),
		Visibility: vis,
		CreatedAt:  e.clock.Now(),
	}
	if err := e.storage.AppendComment(ctx, reviewId, comment); err != nil {
		return model.CommitteeComment{}, err
	}
	return comment, nil
}

func (e *Engine) AddDocument(ctx context.Context, reviewId string, uploadedBy string, name string, storageRef string, visibility string) (model.CommitteeDocument, error) {
	vis, err := model.ParseVisibility(visibility)
	if err != nil {
		return model.CommitteeDocument{}, api.ValidationError{Message: err.Error()}
	}
	if len(strings.TrimSpace(name)) == 0 || len(strings.TrimSpace(storageRef)) == 0 {
		return model.CommitteeDocument{}, api.ValidationError{Message: "document name and storage reference are required"}
	}
	if _, err := e.participant(ctx, reviewId, uploadedBy); err != nil {
		return model.CommitteeDocument{}, err
	}
	doc := model.CommitteeDocument{
		Id:         uuid.New().String(),
		UploadedBy: uploadedBy,
		Name:       strings.TrimSpace(name),
		StorageRef: storageRef,
		Visibility: vis,
		AttachedAt: e.clock.Now(),
	}
	if err := e.storage.AppendDocument(ctx, reviewId, doc); err != nil {
		return model.CommitteeDocument{}, err
	}
	return doc, nil
}

func (e *Engine) participant(ctx context.Context, reviewId string, userId string) (*model.CommitteeReview, error) {
	review, err := e.openReview(ctx, reviewId)
	if err != nil {
		return nil, err
	}
	if _, ok := review.Member(userId); !ok {
		return nil, api.NotAMemberError{ReviewId: reviewId, UserId: userId}
	}
	return review, nil
}

// SetTermsOverride stores the amount, tenor or rate the committee approves
// with. Only the chairperson may set it and only while voting is open.
func (e *Engine) SetTermsOverride(ctx context.Context, reviewId string, userId string, terms model.Terms) (model.ReviewView, error) {
	if terms.IsEmpty() {
		return model.ReviewView{}, api.ValidationError{Message: "at least one of amount, tenor or rate is required"}
	}
	if (terms.Amount != nil && *terms.Amount <= 0) || (terms.TenorMonths != nil && *terms.TenorMonths <= 0) || (terms.Rate != nil && *terms.Rate < 0) {
		return model.ReviewView{}, api.ValidationError{Message: "terms must be positive"}
	}
	unlock := e.locks.Lock(reviewId)
	defer unlock()
	var view model.ReviewView
	err := flow.RetryOnConflict(ctx, e.conf.ConflictRetries, func() error {
		review, err := e.participant(ctx, reviewId, userId)
		if err != nil {
			return err
		}
		if review.ChairpersonId != userId {
			return api.UnauthorizedError{Action: "SetTermsOverride", ActorRole: "member", RequiredRole: "chairperson"}
		}
		if terms.Amount != nil {
			review.Overrides.Amount = terms.Amount
		}
		if terms.TenorMonths != nil {
			review.Overrides.TenorMonths = terms.TenorMonths
		}
		if terms.Rate != nil {
			review.Overrides.Rate = terms.Rate
		}
		if err := e.storage.UpdateReview(ctx, review, review.Version); err != nil {
			return err
		}
		view = review.View()
		return nil
	})
	return view, err
}

// ExpireOverdue settles open reviews: a resolved tally closes as Decided
// with its decision, an unresolved one past its deadline closes as
// Expired/Rejected. It returns how many reviews were closed.
func (e *Engine) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	open, err := e.storage.ListOpenReviews(ctx)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, r := range open {
		if r.Status != model.REVIEW_IN_PROGRESS {
			continue
		}
		if r.DeadlineAt.After(now) && Decide(r.Tally(), r.MinimumApprovalVotes) == model.DECISION_NONE {
			continue
		}
		review, err := e.settle(ctx, r.Id, now)
		if err != nil {
			if api.IsConflict(err) {
				logger.Debug("review changed while settling, skipping", zap.String("review", r.Id))
				continue
			}
			logger.Error("error settling review", zap.String("review", r.Id), zap.Error(err))
			continue
		}
		if review == nil {
			continue
		}
		closed++
		e.report(ctx, review)
		e.handoffNow(ctx, review)
	}
	return closed, nil
}

func (e *Engine) settle(ctx context.Context, reviewId string, now time.Time) (*model.CommitteeReview, error) {
	unlock := e.locks.Lock(reviewId)
	defer unlock()
	review, err := e.storage.GetReview(ctx, reviewId)
	if err != nil {
		return nil, err
	}
	if review.Status != model.REVIEW_IN_PROGRESS {
		return nil, nil
	}
	tally := review.Tally()
	decision := Decide(tally, review.MinimumApprovalVotes)
	switch {
	case decision != model.DECISION_NONE:
		review.Status = model.REVIEW_DECIDED
		review.FinalDecision = decision
		review.DecisionRationale = rationale(decision, tally, review.MinimumApprovalVotes)
	case !review.DeadlineAt.After(now):
		review.Status = model.REVIEW_EXPIRED
		review.FinalDecision = model.DECISION_REJECTED
		review.DecisionRationale = fmt.Sprintf("expired at deadline with %d approve, %d reject, %d abstain against a quorum of %d", tally.Approve, tally.Reject, tally.Abstain, review.MinimumApprovalVotes)
	default:
		return nil, nil
	}
	review.DecidedAt = &now
	if err := e.storage.UpdateReview(ctx, review, review.Version); err != nil {
		return nil, err
	}
	return review, nil
}
