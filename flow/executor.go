package flow

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	api "github.com/mohitkumar/loanflow/api/v1"
	"github.com/mohitkumar/loanflow/bridge"
	"github.com/mohitkumar/loanflow/logger"
	"github.com/mohitkumar/loanflow/metadata"
	"github.com/mohitkumar/loanflow/metrics"
	"github.com/mohitkumar/loanflow/model"
	"github.com/mohitkumar/loanflow/persistence"
	"github.com/mohitkumar/loanflow/util"
	"go.uber.org/zap"
)

type StartRequest struct {
	ApplicationId   string
	ApplicationType string
	ActorUserId     string
	ActorRole       model.Role
	Comment         string
	Terms           model.Terms
	Attributes      map[string]any
}

type TransitionRequest struct {
	InstanceId  string
	Action      model.Action
	ActorUserId string
	ActorRole   model.Role
	Comment     string
	// Terms, when set, replace the matching instance terms in the same commit.
	Terms model.Terms
}

// TransitionExecutor validates and applies stage transitions. Every write is
// guarded by the instance version read at the start of the call.
type TransitionExecutor struct {
	storage persistence.InstanceStorage
	catalog metadata.CatalogService
	emitter bridge.Emitter
	clock   util.Clock
}

func NewTransitionExecutor(storage persistence.InstanceStorage, catalog metadata.CatalogService, emitter bridge.Emitter, clock util.Clock) *TransitionExecutor {
	return &TransitionExecutor{
		storage: storage,
		catalog: catalog,
		emitter: emitter,
		clock:   clock,
	}
}

// StartWorkflow creates the instance of an application leaving draft by
// applying the Submit edge of the active definition's initial stage.
func (e *TransitionExecutor) StartWorkflow(ctx context.Context, req StartRequest) (model.InstanceView, error) {
	if len(req.ApplicationId) == 0 {
		return model.InstanceView{}, api.ValidationError{Message: "application id can not be empty"}
	}
	def, err := e.catalog.GetActive(ctx, req.ApplicationType)
	if err != nil {
		return model.InstanceView{}, err
	}
	now := e.clock.Now()
	inst := &model.WorkflowInstance{
		Id:                uuid.New().String(),
		ApplicationId:     req.ApplicationId,
		DefinitionId:      def.Id,
		DefinitionVersion: def.Version,
		CurrentStatus:     def.InitialStatus,
		CreatedAt:         now,
		EnteredStageAt:    now,
		Terms:             req.Terms,
		Attributes:        req.Attributes,
	}
	edge, target, err := e.resolve(def, inst, model.ACTION_SUBMIT, req.ActorRole, req.Comment)
	if err != nil {
		return model.InstanceView{}, err
	}
	log := buildLog(inst, edge, req.ActorUserId, req.ActorRole, req.Comment, now)
	enterStage(inst, target, now)
	if err := e.storage.CreateInstance(ctx, inst, &log); err != nil {
		if api.IsConflict(err) {
			metrics.Conflict(ctx, "application")
		}
		return model.InstanceView{}, err
	}
	logger.Info("workflow started", zap.String("instance", inst.Id), zap.String("application", inst.ApplicationId), zap.String("definition", def.Key()))
	e.publish(ctx, nil, inst, log)
	return inst.View(), nil
}

func (e *TransitionExecutor) Transition(ctx context.Context, instanceId string, action model.Action, actorUserId string, actorRole model.Role, comment string) (model.InstanceView, error) {
	return e.Apply(ctx, TransitionRequest{
		InstanceId:  instanceId,
		Action:      action,
		ActorUserId: actorUserId,
		ActorRole:   actorRole,
		Comment:     comment,
	})
}

func (e *TransitionExecutor) Apply(ctx context.Context, req TransitionRequest) (model.InstanceView, error) {
	if !req.Action.IsValid() {
		return model.InstanceView{}, api.ValidationError{Message: "unknown action " + string(req.Action)}
	}
	inst, err := e.storage.GetInstance(ctx, req.InstanceId)
	if err != nil {
		return model.InstanceView{}, err
	}
	if inst.IsCompleted {
		return model.InstanceView{}, api.InvalidTransitionError{FromStatus: string(inst.CurrentStatus), Action: string(req.Action)}
	}
	def, err := e.catalog.Get(ctx, inst.DefinitionId, inst.DefinitionVersion)
	if err != nil {
		return model.InstanceView{}, err
	}
	edge, target, err := e.resolve(def, inst, req.Action, req.ActorRole, req.Comment)
	if err != nil {
		return model.InstanceView{}, err
	}
	now := e.clock.Now()
	next := inst.Clone()
	log := buildLog(inst, edge, req.ActorUserId, req.ActorRole, req.Comment, now)
	enterStage(next, target, now)
	next.Terms = mergeTerms(next.Terms, req.Terms)
	if err := e.storage.CommitTransition(ctx, next, inst.Version, log); err != nil {
		if api.IsConflict(err) {
			metrics.Conflict(ctx, "instance")
			logger.Debug("transition lost the race", zap.String("instance", inst.Id), zap.Int64("version", inst.Version))
		} else {
			logger.Error("error committing transition", zap.String("instance", inst.Id), zap.Error(err))
		}
		return model.InstanceView{}, err
	}
	e.publish(ctx, inst, next, log)
	return next.View(), nil
}

func (e *TransitionExecutor) resolve(def *model.WorkflowDefinition, inst *model.WorkflowInstance, action model.Action, role model.Role, comment string) (model.WorkflowTransition, model.WorkflowStage, error) {
	edge, err := metadata.Resolve(def, inst.CurrentStatus, action, role)
	if err != nil {
		return edge, model.WorkflowStage{}, err
	}
	ok, err := metadata.EvaluateGuard(edge.Guard, guardInput(inst))
	if err != nil {
		logger.Error("error evaluating guard", zap.String("instance", inst.Id), zap.String("guard", edge.Guard), zap.Error(err))
		return edge, model.WorkflowStage{}, api.InvalidTransitionError{FromStatus: string(inst.CurrentStatus), Action: string(action)}
	}
	if !ok {
		return edge, model.WorkflowStage{}, api.InvalidTransitionError{FromStatus: string(inst.CurrentStatus), Action: string(action)}
	}
	target, ok := def.Stage(edge.ToStatus)
	if !ok {
		return edge, model.WorkflowStage{}, api.InvalidTransitionError{FromStatus: string(inst.CurrentStatus), Action: string(action)}
	}
	if (edge.RequiresComment || target.RequiresComment) && strings.TrimSpace(comment) == "" {
		return edge, target, api.CommentRequiredError{Action: string(action), ToStatus: string(target.Status)}
	}
	return edge, target, nil
}

// guardInput exposes the free attributes plus the current terms to guards.
func guardInput(inst *model.WorkflowInstance) map[string]any {
	in := make(map[string]any, len(inst.Attributes)+3)
	for k, v := range inst.Attributes {
		in[k] = v
	}
	if inst.Terms.Amount != nil {
		in["amount"] = *inst.Terms.Amount
	}
	if inst.Terms.TenorMonths != nil {
		in["tenorMonths"] = *inst.Terms.TenorMonths
	}
	if inst.Terms.Rate != nil {
		in["rate"] = *inst.Terms.Rate
	}
	return in
}

func buildLog(inst *model.WorkflowInstance, edge model.WorkflowTransition, actor string, role model.Role, comment string, now time.Time) model.WorkflowTransitionLog {
	return model.WorkflowTransitionLog{
		Id:                      uuid.New().String(),
		InstanceId:              inst.Id,
		FromStatus:              inst.CurrentStatus,
		ToStatus:                edge.ToStatus,
		Action:                  edge.Action,
		PerformedBy:             actor,
		PerformedRole:           role,
		PerformedAt:             now,
		Comment:                 strings.TrimSpace(comment),
		DurationInPreviousStage: now.Sub(inst.EnteredStageAt),
	}
}

func enterStage(inst *model.WorkflowInstance, stage model.WorkflowStage, now time.Time) {
	inst.CurrentStatus = stage.Status
	inst.EnteredStageAt = now
	inst.SlaDueAt = nil
	if stage.SlaHours > 0 {
		due := now.Add(time.Duration(stage.SlaHours) * time.Hour)
		inst.SlaDueAt = &due
	}
	inst.IsSlaBreached = false
	inst.EscalationLevel = 0
	inst.EscalatedToRole = ""
	inst.LastEscalatedAt = nil
	inst.AssignedRole = stage.AssignedRole
	inst.AssignedUser = ""
	if stage.IsTerminal {
		inst.IsCompleted = true
		inst.FinalStatus = stage.Status
	}
}

func mergeTerms(current model.Terms, overrides model.Terms) model.Terms {
	if overrides.Amount != nil {
		current.Amount = overrides.Amount
	}
	if overrides.TenorMonths != nil {
		current.TenorMonths = overrides.TenorMonths
	}
	if overrides.Rate != nil {
		current.Rate = overrides.Rate
	}
	return current
}

func (e *TransitionExecutor) publish(ctx context.Context, before *model.WorkflowInstance, after *model.WorkflowInstance, log model.WorkflowTransitionLog) {
	metrics.Transition(ctx, string(log.Action))
	logger.Info("transition committed", zap.String("instance", after.Id), zap.String("from", string(log.FromStatus)), zap.String("to", string(log.ToStatus)), zap.String("action", string(log.Action)), zap.String("by", log.PerformedBy))
	e.emitter.Emit(model.EVENT_TRANSITION_OCCURRED, after.Id, map[string]any{
		"instanceId":    after.Id,
		"applicationId": after.ApplicationId,
		"fromStatus":    log.FromStatus,
		"toStatus":      log.ToStatus,
		"action":        log.Action,
		"performedBy":   log.PerformedBy,
		"assignedRole":  after.AssignedRole,
		"isCompleted":   after.IsCompleted,
	})
	entry := model.AuditEntry{
		EntityType: "instance",
		EntityId:   after.Id,
		Actor:      log.PerformedBy,
		Action:     string(log.Action),
		Timestamp:  log.PerformedAt,
		After:      after.View(),
	}
	if before != nil {
		entry.Before = before.View()
	}
	e.emitter.Audit(entry)
}

// Assign sets the user working the instance in its current stage.
func (e *TransitionExecutor) Assign(ctx context.Context, instanceId string, userId string) (model.InstanceView, error) {
	return e.update(ctx, instanceId, "Assign", userId, func(inst *model.WorkflowInstance) {
		inst.AssignedUser = userId
	})
}

// UpdateTerms replaces the terms that are set in terms and keeps the others.
func (e *TransitionExecutor) UpdateTerms(ctx context.Context, instanceId string, actorUserId string, terms model.Terms) (model.InstanceView, error) {
	return e.update(ctx, instanceId, "UpdateTerms", actorUserId, func(inst *model.WorkflowInstance) {
		inst.Terms = mergeTerms(inst.Terms, terms)
	})
}

func (e *TransitionExecutor) update(ctx context.Context, instanceId string, op string, actor string, mutate func(*model.WorkflowInstance)) (model.InstanceView, error) {
	inst, err := e.storage.GetInstance(ctx, instanceId)
	if err != nil {
		return model.InstanceView{}, err
	}
	if inst.IsCompleted {
		return model.InstanceView{}, api.InvalidTransitionError{FromStatus: string(inst.CurrentStatus), Action: op}
	}
	next := inst.Clone()
	mutate(next)
	if err := e.storage.UpdateInstance(ctx, next, inst.Version); err != nil {
		if api.IsConflict(err) {
			metrics.Conflict(ctx, "instance")
		}
		return model.InstanceView{}, err
	}
	e.emitter.Audit(model.AuditEntry{
		EntityType: "instance",
		EntityId:   inst.Id,
		Actor:      actor,
		Action:     op,
		Timestamp:  e.clock.Now(),
		Before:     inst.View(),
		After:      next.View(),
	})
	return next.View(), nil
}

func (e *TransitionExecutor) GetInstance(ctx context.Context, instanceId string) (model.InstanceView, error) {
	inst, err := e.storage.GetInstance(ctx, instanceId)
	if err != nil {
		return model.InstanceView{}, err
	}
	return inst.View(), nil
}

func (e *TransitionExecutor) History(ctx context.Context, instanceId string) ([]model.WorkflowTransitionLog, error) {
	return e.storage.GetTransitionLogs(ctx, instanceId)
}
