// Package storagetest holds the behaviour every persistence.Storage
// implementation must share. Backends run it from their own tests.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	api "github.com/mohitkumar/loanflow/api/v1"
	"github.com/mohitkumar/loanflow/model"
	"github.com/mohitkumar/loanflow/persistence"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func Run(t *testing.T, newStorage func(t *testing.T) persistence.Storage) {
	for scenario, fn := range map[string]func(
		t *testing.T, storage persistence.Storage,
	){
		"publish activates latest version":   testPublishDefinition,
		"instance create is unique per app":  testCreateInstance,
		"instance update checks version":     testUpdateInstance,
		"completed instance leaves open set": testCompleteInstance,
		"review create is unique per app":    testCreateReview,
		"member update checks both versions": testUpdateMember,
		"closed review leaves open set":      testCloseReview,
		"comments and documents append":      testAppendAttachments,
		"closed review awaits handoff":       testPendingHandoff,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, newStorage(t))
		})
	}
}

func id(prefix string) string {
	return prefix + "-" + uuid.New().String()
}

func definition(defId string, appType string, version int) model.WorkflowDefinition {
	return model.WorkflowDefinition{
		Id:              defId,
		ApplicationType: appType,
		Version:         version,
		InitialStatus:   "Draft",
		Stages: []model.WorkflowStage{
			{Status: "Draft", AssignedRole: "LoanOfficer", SortOrder: 1},
			{Status: "Done", IsTerminal: true, SortOrder: 2},
		},
		Transitions: []model.WorkflowTransition{
			{FromStatus: "Draft", ToStatus: "Done", Action: model.ACTION_SUBMIT, RequiredRole: "LoanOfficer"},
		},
	}
}

func instance(appId string) *model.WorkflowInstance {
	due := base.Add(24 * time.Hour)
	return &model.WorkflowInstance{
		Id:                id("inst"),
		ApplicationId:     appId,
		DefinitionId:      "def",
		DefinitionVersion: 1,
		CurrentStatus:     "BranchReview",
		AssignedRole:      "BranchManager",
		CreatedAt:         base,
		EnteredStageAt:    base,
		SlaDueAt:          &due,
	}
}

func review(appId string) *model.CommitteeReview {
	return &model.CommitteeReview{
		Id:                   id("review"),
		ApplicationId:        appId,
		InstanceId:           id("inst"),
		Status:               model.REVIEW_IN_PROGRESS,
		ChairpersonId:        "chair",
		CirculatedAt:         base,
		DeadlineAt:           base.Add(72 * time.Hour),
		RequiredVotes:        2,
		MinimumApprovalVotes: 2,
		Members: []model.CommitteeMember{
			{UserId: "chair", Role: "CreditCommittee", IsChairperson: true},
			{UserId: "m1", Role: "CreditCommittee"},
		},
	}
}

func testPublishDefinition(t *testing.T, storage persistence.Storage) {
	ctx := context.Background()
	defId, appType := id("def"), id("type")
	require.NoError(t, storage.PublishDefinition(ctx, definition(defId, appType, 1)))
	require.NoError(t, storage.PublishDefinition(ctx, definition(defId, appType, 2)))

	err := storage.PublishDefinition(ctx, definition(defId, appType, 2))
	require.True(t, api.IsConflict(err))

	active, err := storage.GetActiveDefinition(ctx, appType)
	require.NoError(t, err)
	require.Equal(t, 2, active.Version)
	require.True(t, active.IsActive)

	first, err := storage.GetDefinition(ctx, defId, 1)
	require.NoError(t, err)
	require.False(t, first.IsActive)
	require.Len(t, first.Stages, 2)

	versions, err := storage.ListDefinitionVersions(ctx, defId)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Equal(t, 1, versions[0].Version)

	_, err = storage.GetDefinition(ctx, defId, 3)
	require.True(t, api.IsNotFound(err))
	_, err = storage.GetActiveDefinition(ctx, id("missing"))
	require.True(t, api.IsNotFound(err))
}

func testCreateInstance(t *testing.T, storage persistence.Storage) {
	ctx := context.Background()
	appId := id("app")
	inst := instance(appId)
	log := &model.WorkflowTransitionLog{Id: id("log"), InstanceId: inst.Id, FromStatus: "Draft", ToStatus: "BranchReview", Action: model.ACTION_SUBMIT, PerformedAt: base}
	require.NoError(t, storage.CreateInstance(ctx, inst, log))
	require.Equal(t, int64(1), inst.Version)

	err := storage.CreateInstance(ctx, instance(appId), nil)
	require.True(t, api.IsConflict(err))

	open, err := storage.GetOpenInstanceByApplication(ctx, appId)
	require.NoError(t, err)
	require.Equal(t, inst.Id, open.Id)
	require.NotNil(t, open.SlaDueAt)
	require.True(t, open.SlaDueAt.Equal(*inst.SlaDueAt))

	logs, err := storage.GetTransitionLogs(ctx, inst.Id)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, model.ACTION_SUBMIT, logs[0].Action)

	_, err = storage.GetInstance(ctx, id("missing"))
	require.True(t, api.IsNotFound(err))
}

func testUpdateInstance(t *testing.T, storage persistence.Storage) {
	ctx := context.Background()
	inst := instance(id("app"))
	require.NoError(t, storage.CreateInstance(ctx, inst, nil))

	stale := inst.Clone()
	inst.AssignedUser = "manager-1"
	require.NoError(t, storage.UpdateInstance(ctx, inst, 1))
	require.Equal(t, int64(2), inst.Version)

	stale.AssignedUser = "manager-2"
	err := storage.UpdateInstance(ctx, stale, 1)
	require.True(t, api.IsConflict(err))

	next := inst.Clone()
	next.CurrentStatus = "CreditAnalysis"
	log := model.WorkflowTransitionLog{Id: id("log"), InstanceId: inst.Id, FromStatus: "BranchReview", ToStatus: "CreditAnalysis", Action: model.ACTION_APPROVE, PerformedAt: base.Add(time.Hour), DurationInPreviousStage: time.Hour}
	require.NoError(t, storage.CommitTransition(ctx, next, inst.Version, log))

	stored, err := storage.GetInstance(ctx, inst.Id)
	require.NoError(t, err)
	require.Equal(t, model.Status("CreditAnalysis"), stored.CurrentStatus)
	require.Equal(t, "manager-1", stored.AssignedUser)
	require.Equal(t, int64(3), stored.Version)

	logs, err := storage.GetTransitionLogs(ctx, inst.Id)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, time.Hour, logs[0].DurationInPreviousStage)
}

func testCompleteInstance(t *testing.T, storage persistence.Storage) {
	ctx := context.Background()
	appId := id("app")
	inst := instance(appId)
	require.NoError(t, storage.CreateInstance(ctx, inst, nil))

	open, err := storage.ListOpenInstances(ctx)
	require.NoError(t, err)
	require.True(t, containsInstance(open, inst.Id))

	inst.IsCompleted = true
	inst.CurrentStatus = "Approved"
	inst.FinalStatus = "Approved"
	require.NoError(t, storage.CommitTransition(ctx, inst, 1, model.WorkflowTransitionLog{Id: id("log"), InstanceId: inst.Id, Action: model.ACTION_APPROVE}))

	open, err = storage.ListOpenInstances(ctx)
	require.NoError(t, err)
	require.False(t, containsInstance(open, inst.Id))

	_, err = storage.GetOpenInstanceByApplication(ctx, appId)
	require.True(t, api.IsNotFound(err))

	require.NoError(t, storage.CreateInstance(ctx, instance(appId), nil))
}

func containsInstance(list []*model.WorkflowInstance, instId string) bool {
	for _, inst := range list {
		if inst.Id == instId {
			return true
		}
	}
	return false
}

func containsReview(list []*model.CommitteeReview, reviewId string) bool {
	for _, r := range list {
		if r.Id == reviewId {
			return true
		}
	}
	return false
}

func testCreateReview(t *testing.T, storage persistence.Storage) {
	ctx := context.Background()
	appId := id("app")
	r := review(appId)
	require.NoError(t, storage.CreateReview(ctx, r))
	require.Equal(t, int64(1), r.Version)

	err := storage.CreateReview(ctx, review(appId))
	require.True(t, api.IsConflict(err))

	stored, err := storage.GetReview(ctx, r.Id)
	require.NoError(t, err)
	require.Len(t, stored.Members, 2)
	require.Equal(t, "chair", stored.Members[0].UserId)
	require.Equal(t, int64(1), stored.Members[1].Version)

	_, err = storage.GetReview(ctx, id("missing"))
	require.True(t, api.IsNotFound(err))
}

func testUpdateMember(t *testing.T, storage persistence.Storage) {
	ctx := context.Background()
	r := review(id("app"))
	require.NoError(t, storage.CreateReview(ctx, r))

	now := base.Add(time.Hour)
	member := r.Members[1]
	member.Vote = model.VOTE_APPROVE
	member.VotedAt = &now
	require.NoError(t, storage.UpdateMember(ctx, r.Id, &member, 1, r.Version))
	require.Equal(t, int64(2), member.Version)

	again := r.Members[1]
	again.Vote = model.VOTE_REJECT
	err := storage.UpdateMember(ctx, r.Id, &again, 1, persistence.AnyVersion)
	require.True(t, api.IsConflict(err))

	r.DecisionRationale = "header moved"
	require.NoError(t, storage.UpdateReview(ctx, r, 1))

	chair := r.Members[0]
	chair.Vote = model.VOTE_APPROVE
	err = storage.UpdateMember(ctx, r.Id, &chair, 1, 1)
	require.True(t, api.IsConflict(err))

	chair.ViewCount = 1
	require.NoError(t, storage.UpdateMember(ctx, r.Id, &chair, 1, persistence.AnyVersion))

	stored, err := storage.GetReview(ctx, r.Id)
	require.NoError(t, err)
	require.Equal(t, model.VOTE_APPROVE, stored.Members[1].Vote)
	require.Equal(t, 1, stored.Members[0].ViewCount)
	require.Equal(t, "header moved", stored.DecisionRationale)

	ghost := model.CommitteeMember{UserId: "ghost"}
	err = storage.UpdateMember(ctx, r.Id, &ghost, 1, persistence.AnyVersion)
	require.True(t, api.IsNotFound(err))
}

func testCloseReview(t *testing.T, storage persistence.Storage) {
	ctx := context.Background()
	appId := id("app")
	r := review(appId)
	require.NoError(t, storage.CreateReview(ctx, r))

	open, err := storage.ListOpenReviews(ctx)
	require.NoError(t, err)
	require.True(t, containsReview(open, r.Id))

	now := base.Add(2 * time.Hour)
	r.Status = model.REVIEW_DECIDED
	r.FinalDecision = model.DECISION_APPROVED
	r.DecidedAt = &now
	require.NoError(t, storage.UpdateReview(ctx, r, 1))

	err = storage.UpdateReview(ctx, r, 1)
	require.True(t, api.IsConflict(err))

	open, err = storage.ListOpenReviews(ctx)
	require.NoError(t, err)
	require.False(t, containsReview(open, r.Id))

	stored, err := storage.GetReview(ctx, r.Id)
	require.NoError(t, err)
	require.Equal(t, model.DECISION_APPROVED, stored.FinalDecision)
	require.Len(t, stored.Members, 2)

	require.NoError(t, storage.CreateReview(ctx, review(appId)))
}

func testPendingHandoff(t *testing.T, storage persistence.Storage) {
	ctx := context.Background()
	r := review(id("app"))
	require.NoError(t, storage.CreateReview(ctx, r))

	pending, err := storage.ListPendingHandoffs(ctx)
	require.NoError(t, err)
	require.False(t, containsReview(pending, r.Id))

	now := base.Add(72 * time.Hour)
	r.Status = model.REVIEW_EXPIRED
	r.FinalDecision = model.DECISION_REJECTED
	r.DecidedAt = &now
	require.NoError(t, storage.UpdateReview(ctx, r, r.Version))

	pending, err = storage.ListPendingHandoffs(ctx)
	require.NoError(t, err)
	require.True(t, containsReview(pending, r.Id))

	r.HandedOff = true
	r.SupersededBy = "review-next"
	require.NoError(t, storage.UpdateReview(ctx, r, r.Version))

	pending, err = storage.ListPendingHandoffs(ctx)
	require.NoError(t, err)
	require.False(t, containsReview(pending, r.Id))

	stored, err := storage.GetReview(ctx, r.Id)
	require.NoError(t, err)
	require.True(t, stored.HandedOff)
	require.Equal(t, "review-next", stored.SupersededBy)
}

func testAppendAttachments(t *testing.T, storage persistence.Storage) {
	ctx := context.Background()
	r := review(id("app"))
	require.NoError(t, storage.CreateReview(ctx, r))

	require.NoError(t, storage.AppendComment(ctx, r.Id, model.CommitteeComment{Id: "c1", AuthorId: "m1", Body: "first", Visibility: model.VISIBILITY_INTERNAL, CreatedAt: base}))
	require.NoError(t, storage.AppendComment(ctx, r.Id, model.CommitteeComment{Id: "c2", AuthorId: "chair", Body: "second", Visibility: model.VISIBILITY_SHARED, CreatedAt: base}))
	require.NoError(t, storage.AppendDocument(ctx, r.Id, model.CommitteeDocument{Id: "d1", UploadedBy: "m1", Name: "financials.pdf", StorageRef: "s3://docs/d1", AttachedAt: base}))

	stored, err := storage.GetReview(ctx, r.Id)
	require.NoError(t, err)
	require.Len(t, stored.Comments, 2)
	require.Equal(t, "first", stored.Comments[0].Body)
	require.Len(t, stored.Documents, 1)
	require.Equal(t, "financials.pdf", stored.Documents[0].Name)

	err = storage.AppendComment(ctx, id("missing"), model.CommitteeComment{Id: "c3"})
	require.True(t, api.IsNotFound(err))
}
