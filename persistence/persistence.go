package persistence

import (
	"context"

	"github.com/mohitkumar/loanflow/model"
)

// AnyVersion skips the concurrency token check of the guarded record.
const AnyVersion int64 = -1

type DefinitionStorage interface {
	// PublishDefinition stores def as the active version of its application type
	// and deactivates the previously active one.
	PublishDefinition(ctx context.Context, def model.WorkflowDefinition) error
	GetDefinition(ctx context.Context, id string, version int) (*model.WorkflowDefinition, error)
	GetActiveDefinition(ctx context.Context, applicationType string) (*model.WorkflowDefinition, error)
	ListDefinitionVersions(ctx context.Context, id string) ([]*model.WorkflowDefinition, error)
}

type InstanceStorage interface {
	// CreateInstance fails with a conflict when the application already has an open instance.
	CreateInstance(ctx context.Context, inst *model.WorkflowInstance, log *model.WorkflowTransitionLog) error
	GetInstance(ctx context.Context, id string) (*model.WorkflowInstance, error)
	GetOpenInstanceByApplication(ctx context.Context, applicationId string) (*model.WorkflowInstance, error)
	// UpdateInstance writes inst when the stored version equals expectedVersion and bumps inst.Version.
	UpdateInstance(ctx context.Context, inst *model.WorkflowInstance, expectedVersion int64) error
	// CommitTransition is UpdateInstance plus an append to the transition log, in one unit.
	CommitTransition(ctx context.Context, inst *model.WorkflowInstance, expectedVersion int64, log model.WorkflowTransitionLog) error
	ListOpenInstances(ctx context.Context) ([]*model.WorkflowInstance, error)
	GetTransitionLogs(ctx context.Context, instanceId string) ([]model.WorkflowTransitionLog, error)
}

type ReviewStorage interface {
	// CreateReview fails with a conflict when the application already has an InProgress review.
	CreateReview(ctx context.Context, review *model.CommitteeReview) error
	GetReview(ctx context.Context, id string) (*model.CommitteeReview, error)
	// UpdateReview writes the review header only; members, comments and documents are untouched.
	UpdateReview(ctx context.Context, review *model.CommitteeReview, expectedVersion int64) error
	// UpdateMember writes one member record guarded by its own version and,
	// unless reviewVersion is AnyVersion, by the review header version.
	UpdateMember(ctx context.Context, reviewId string, member *model.CommitteeMember, expectedVersion int64, reviewVersion int64) error
	AppendComment(ctx context.Context, reviewId string, comment model.CommitteeComment) error
	AppendDocument(ctx context.Context, reviewId string, doc model.CommitteeDocument) error
	ListOpenReviews(ctx context.Context) ([]*model.CommitteeReview, error)
	// ListPendingHandoffs returns closed reviews whose outcome has not been
	// applied to the parent instance, oldest decision first.
	ListPendingHandoffs(ctx context.Context) ([]*model.CommitteeReview, error)
}

type Storage interface {
	DefinitionStorage
	InstanceStorage
	ReviewStorage
}
