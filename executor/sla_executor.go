package executor

import (
	"context"
	"sync"
	"time"

	api "github.com/mohitkumar/loanflow/api/v1"
	"github.com/mohitkumar/loanflow/bridge"
	"github.com/mohitkumar/loanflow/config"
	"github.com/mohitkumar/loanflow/logger"
	"github.com/mohitkumar/loanflow/metrics"
	"github.com/mohitkumar/loanflow/model"
	"github.com/mohitkumar/loanflow/persistence"
	"github.com/mohitkumar/loanflow/util"
	"go.uber.org/zap"
)

var _ Executor = new(SlaExecutor)

const SLA_MONITOR_ACTOR = "sla-monitor"

// Redeliverer retries bridge deliveries that failed earlier.
type Redeliverer interface {
	RetryFailed() int
}

// SlaExecutor flags overdue instances and walks them up the escalation chain.
// It only touches breach and escalation fields, never the current status.
type SlaExecutor struct {
	storage     persistence.InstanceStorage
	emitter     bridge.Emitter
	redeliverer Redeliverer
	clock       util.Clock
	conf        config.SlaConfig
	wg          *sync.WaitGroup
	stop        chan struct{}
	tw          *util.TickWorker
}

func NewSlaExecutor(storage persistence.InstanceStorage, emitter bridge.Emitter, redeliverer Redeliverer, clock util.Clock, conf config.SlaConfig, wg *sync.WaitGroup) *SlaExecutor {
	return &SlaExecutor{
		storage:     storage,
		emitter:     emitter,
		redeliverer: redeliverer,
		clock:       clock,
		conf:        conf,
		wg:          wg,
		stop:        make(chan struct{}),
	}
}

func (ex *SlaExecutor) Name() string {
	return "sla-executor"
}

// Sweep runs one monitor cycle and returns how many instances were escalated.
func (ex *SlaExecutor) Sweep(ctx context.Context) (int, error) {
	open, err := ex.storage.ListOpenInstances(ctx)
	if err != nil {
		return 0, err
	}
	now := ex.clock.Now()
	escalated := 0
	for _, inst := range open {
		if err := ctx.Err(); err != nil {
			return escalated, err
		}
		next, kind, ok := ex.escalate(inst, now)
		if !ok {
			continue
		}
		if err := ex.storage.UpdateInstance(ctx, next, inst.Version); err != nil {
			if api.IsConflict(err) {
				metrics.Conflict(ctx, "instance")
				logger.Debug("instance changed during sla sweep, skipping", zap.String("instance", inst.Id))
			} else {
				logger.Error("error escalating instance", zap.String("instance", inst.Id), zap.Error(err))
			}
			continue
		}
		escalated++
		metrics.SlaEscalation(ctx, kind)
		logger.Info("sla escalation", zap.String("instance", inst.Id), zap.String("kind", kind), zap.Int("level", next.EscalationLevel), zap.String("role", string(next.EscalatedToRole)))
		ex.emitter.Emit(model.EVENT_SLA_BREACHED, next.Id, map[string]any{
			"instanceId":      next.Id,
			"applicationId":   next.ApplicationId,
			"status":          next.CurrentStatus,
			"assignedRole":    next.AssignedRole,
			"escalatedToRole": next.EscalatedToRole,
			"escalationLevel": next.EscalationLevel,
			"slaDueAt":        next.SlaDueAt,
			"kind":            kind,
		})
		ex.emitter.Audit(model.AuditEntry{
			EntityType: "instance",
			EntityId:   next.Id,
			Actor:      SLA_MONITOR_ACTOR,
			Action:     kind,
			Timestamp:  now,
			Before:     inst.View(),
			After:      next.View(),
		})
	}
	return escalated, nil
}

func (ex *SlaExecutor) escalate(inst *model.WorkflowInstance, now time.Time) (*model.WorkflowInstance, string, bool) {
	if !inst.IsOverdue(now) {
		return nil, "", false
	}
	next := inst.Clone()
	kind := "breach"
	if !inst.IsSlaBreached {
		next.IsSlaBreached = true
		next.EscalationLevel = 1
	} else {
		if inst.LastEscalatedAt != nil && now.Sub(*inst.LastEscalatedAt) < ex.conf.EscalationInterval {
			return nil, "", false
		}
		next.EscalationLevel = inst.EscalationLevel + 1
		kind = "escalation"
	}
	next.EscalatedToRole = ex.chainRole(next.EscalationLevel)
	next.LastEscalatedAt = &now
	return next, kind, true
}

// chainRole maps level N to chain[N-1], staying on the last role past the end.
func (ex *SlaExecutor) chainRole(level int) model.Role {
	chain := ex.conf.EscalationChain
	if len(chain) == 0 {
		return ""
	}
	idx := level - 1
	if idx >= len(chain) {
		idx = len(chain) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return chain[idx]
}

func (ex *SlaExecutor) Start() error {
	fn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), ex.conf.SweepInterval)
		defer cancel()
		if _, err := ex.Sweep(ctx); err != nil {
			logger.Error("error in sla sweep", zap.Error(err))
		}
		if ex.redeliverer != nil {
			if n := ex.redeliverer.RetryFailed(); n > 0 {
				logger.Info("redelivered notifications", zap.Int("count", n))
			}
		}
	}
	ex.tw = util.NewTickWorker("sla-worker", ex.conf.SweepInterval, ex.stop, fn, ex.wg)
	ex.tw.Start()
	logger.Info("sla executor started")
	return nil
}

func (ex *SlaExecutor) Stop() error {
	if ex.tw != nil {
		ex.tw.Stop()
	}
	return nil
}
