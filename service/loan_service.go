package service

import (
	"context"

	api "github.com/mohitkumar/loanflow/api/v1"
	"github.com/mohitkumar/loanflow/committee"
	"github.com/mohitkumar/loanflow/flow"
	"github.com/mohitkumar/loanflow/metadata"
	"github.com/mohitkumar/loanflow/model"
)

// LoanService turns wire requests into pipeline and committee calls. Strings
// from the wire are parsed into the closed vocabularies here.
type LoanService struct {
	catalog   metadata.CatalogService
	executor  *flow.TransitionExecutor
	tracker   *flow.Tracker
	committee *committee.Engine
}

func NewLoanService(catalog metadata.CatalogService, executor *flow.TransitionExecutor, tracker *flow.Tracker, committee *committee.Engine) *LoanService {
	return &LoanService{
		catalog:   catalog,
		executor:  executor,
		tracker:   tracker,
		committee: committee,
	}
}

func validation(err error) error {
	return api.ValidationError{Message: err.Error()}
}

func (s *LoanService) PublishDefinition(ctx context.Context, def model.WorkflowDefinition) (*model.WorkflowDefinition, error) {
	return s.catalog.Publish(ctx, def)
}

func (s *LoanService) GetDefinition(ctx context.Context, req api.GetRequest) (*model.WorkflowDefinition, error) {
	return s.catalog.Get(ctx, req.Id, req.Version)
}

func (s *LoanService) GetActiveDefinition(ctx context.Context, applicationType string) (*model.WorkflowDefinition, error) {
	return s.catalog.GetActive(ctx, applicationType)
}

func (s *LoanService) StartWorkflow(ctx context.Context, req api.StartWorkflowRequest) (model.InstanceView, error) {
	appType := req.ApplicationType
	if len(appType) == 0 {
		appType = metadata.DEFAULT_APPLICATION_TYPE
	}
	return s.executor.StartWorkflow(ctx, flow.StartRequest{
		ApplicationId:   req.ApplicationId,
		ApplicationType: appType,
		ActorUserId:     req.ActorUserId,
		ActorRole:       model.Role(req.ActorRole),
		Comment:         req.Comment,
		Terms:           model.Terms{Amount: req.Amount, TenorMonths: req.TenorMonths, Rate: req.Rate},
		Attributes:      req.Attributes,
	})
}

func (s *LoanService) Transition(ctx context.Context, req api.TransitionRequest) (model.InstanceView, error) {
	action, err := model.ParseAction(req.Action)
	if err != nil {
		return model.InstanceView{}, validation(err)
	}
	return s.executor.Transition(ctx, req.InstanceId, action, req.ActorUserId, model.Role(req.ActorRole), req.Comment)
}

func (s *LoanService) Assign(ctx context.Context, req api.AssignRequest) (model.InstanceView, error) {
	return s.executor.Assign(ctx, req.InstanceId, req.UserId)
}

func (s *LoanService) GetInstance(ctx context.Context, id string) (model.InstanceView, error) {
	return s.executor.GetInstance(ctx, id)
}

func (s *LoanService) History(ctx context.Context, id string) ([]model.WorkflowTransitionLog, error) {
	return s.executor.History(ctx, id)
}

func (s *LoanService) QueueForRole(ctx context.Context, role string) ([]model.InstanceView, error) {
	return s.tracker.QueueForRole(ctx, model.Role(role))
}

func (s *LoanService) Overdue(ctx context.Context) ([]model.InstanceView, error) {
	return s.tracker.Overdue(ctx)
}

func (s *LoanService) Circulate(ctx context.Context, req api.CirculateRequest) (model.ReviewView, error) {
	return s.committee.Circulate(ctx, committee.CirculateRequest{
		ApplicationId:        req.ApplicationId,
		CommitteeType:        req.CommitteeType,
		MemberUserIds:        req.Members,
		ChairpersonId:        req.ChairpersonId,
		Deadline:             req.Deadline,
		MinimumApprovalVotes: req.MinimumApprovalVotes,
	})
}

func (s *LoanService) CastVote(ctx context.Context, req api.VoteRequest) (model.ReviewView, error) {
	vote, err := model.ParseVote(req.Vote)
	if err != nil {
		return model.ReviewView{}, validation(err)
	}
	return s.committee.CastVote(ctx, req.ReviewId, req.UserId, vote, req.Comment)
}

func (s *LoanService) RecordView(ctx context.Context, req api.ViewRequest) (model.CommitteeMember, error) {
	return s.committee.RecordView(ctx, req.ReviewId, req.UserId)
}

func (s *LoanService) AddComment(ctx context.Context, req api.CommentRequest) (model.CommitteeComment, error) {
	return s.committee.AddComment(ctx, req.ReviewId, req.AuthorId, req.Body, req.Visibility)
}

func (s *LoanService) AddDocument(ctx context.Context, req api.DocumentRequest) (model.CommitteeDocument, error) {
	return s.committee.AddDocument(ctx, req.ReviewId, req.UploadedBy, req.Name, req.StorageRef, req.Visibility)
}

func (s *LoanService) SetTermsOverride(ctx context.Context, req api.TermsRequest) (model.ReviewView, error) {
	return s.committee.SetTermsOverride(ctx, req.ReviewId, req.UserId, model.Terms{Amount: req.Amount, TenorMonths: req.TenorMonths, Rate: req.Rate})
}

func (s *LoanService) GetReview(ctx context.Context, id string) (*model.CommitteeReview, error) {
	return s.committee.GetReview(ctx, id)
}
