package rpc

import (
	"context"

	api "github.com/mohitkumar/loanflow/api/v1"
	"github.com/mohitkumar/loanflow/model"
	"github.com/mohitkumar/loanflow/service"
	"google.golang.org/grpc"
)

const ServiceName = "loanflow.v1.LoanFlowService"

var LoanFlowServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LoanFlowServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("PublishDefinition", func(ctx context.Context, s *service.LoanService, req model.WorkflowDefinition) (*model.WorkflowDefinition, error) {
			return s.PublishDefinition(ctx, req)
		}),
		unary("GetDefinition", func(ctx context.Context, s *service.LoanService, req api.GetRequest) (*model.WorkflowDefinition, error) {
			return s.GetDefinition(ctx, req)
		}),
		unary("GetActiveDefinition", func(ctx context.Context, s *service.LoanService, req api.ActiveDefinitionRequest) (*model.WorkflowDefinition, error) {
			return s.GetActiveDefinition(ctx, req.ApplicationType)
		}),
		unary("StartWorkflow", func(ctx context.Context, s *service.LoanService, req api.StartWorkflowRequest) (model.InstanceView, error) {
			return s.StartWorkflow(ctx, req)
		}),
		unary("Transition", func(ctx context.Context, s *service.LoanService, req api.TransitionRequest) (model.InstanceView, error) {
			return s.Transition(ctx, req)
		}),
		unary("Assign", func(ctx context.Context, s *service.LoanService, req api.AssignRequest) (model.InstanceView, error) {
			return s.Assign(ctx, req)
		}),
		unary("GetInstance", func(ctx context.Context, s *service.LoanService, req api.GetRequest) (model.InstanceView, error) {
			return s.GetInstance(ctx, req.Id)
		}),
		unary("History", func(ctx context.Context, s *service.LoanService, req api.GetRequest) (api.ListResponse[model.WorkflowTransitionLog], error) {
			logs, err := s.History(ctx, req.Id)
			return api.ListResponse[model.WorkflowTransitionLog]{Items: logs}, err
		}),
		unary("QueueForRole", func(ctx context.Context, s *service.LoanService, req api.QueueRequest) (api.ListResponse[model.InstanceView], error) {
			list, err := s.QueueForRole(ctx, req.Role)
			return api.ListResponse[model.InstanceView]{Items: list}, err
		}),
		unary("Overdue", func(ctx context.Context, s *service.LoanService, req struct{}) (api.ListResponse[model.InstanceView], error) {
			list, err := s.Overdue(ctx)
			return api.ListResponse[model.InstanceView]{Items: list}, err
		}),
		unary("Circulate", func(ctx context.Context, s *service.LoanService, req api.CirculateRequest) (model.ReviewView, error) {
			return s.Circulate(ctx, req)
		}),
		unary("GetReview", func(ctx context.Context, s *service.LoanService, req api.GetRequest) (*model.CommitteeReview, error) {
			return s.GetReview(ctx, req.Id)
		}),
		unary("CastVote", func(ctx context.Context, s *service.LoanService, req api.VoteRequest) (model.ReviewView, error) {
			return s.CastVote(ctx, req)
		}),
		unary("RecordView", func(ctx context.Context, s *service.LoanService, req api.ViewRequest) (model.CommitteeMember, error) {
			return s.RecordView(ctx, req)
		}),
		unary("AddComment", func(ctx context.Context, s *service.LoanService, req api.CommentRequest) (model.CommitteeComment, error) {
			return s.AddComment(ctx, req)
		}),
		unary("AddDocument", func(ctx context.Context, s *service.LoanService, req api.DocumentRequest) (model.CommitteeDocument, error) {
			return s.AddDocument(ctx, req)
		}),
		unary("SetTermsOverride", func(ctx context.Context, s *service.LoanService, req api.TermsRequest) (model.ReviewView, error) {
			return s.SetTermsOverride(ctx, req)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "loanflow/v1/loanflow.proto",
}
