package flow

import (
	"context"
	"sort"

	"github.com/mohitkumar/loanflow/model"
	"github.com/mohitkumar/loanflow/persistence"
	"github.com/mohitkumar/loanflow/util"
)

// Tracker answers queue questions straight from the instance table, so there
// is no separately maintained queue to drift.
type Tracker struct {
	storage persistence.InstanceStorage
	clock   util.Clock
}

func NewTracker(storage persistence.InstanceStorage, clock util.Clock) *Tracker {
	return &Tracker{
		storage: storage,
		clock:   clock,
	}
}

// QueueForRole lists open instances the role owns or has been escalated to,
// most urgent first.
func (t *Tracker) QueueForRole(ctx context.Context, role model.Role) ([]model.InstanceView, error) {
	open, err := t.storage.ListOpenInstances(ctx)
	if err != nil {
		return nil, err
	}
	var out []*model.WorkflowInstance
	for _, inst := range open {
		if inst.AssignedRole == role || (inst.IsSlaBreached && inst.EscalatedToRole == role) {
			out = append(out, inst)
		}
	}
	return views(byUrgency(out)), nil
}

func (t *Tracker) Overdue(ctx context.Context) ([]model.InstanceView, error) {
	open, err := t.storage.ListOpenInstances(ctx)
	if err != nil {
		return nil, err
	}
	now := t.clock.Now()
	var out []*model.WorkflowInstance
	for _, inst := range open {
		if inst.IsOverdue(now) {
			out = append(out, inst)
		}
	}
	return views(byUrgency(out)), nil
}

func byUrgency(list []*model.WorkflowInstance) []*model.WorkflowInstance {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		switch {
		case a.SlaDueAt != nil && b.SlaDueAt != nil:
			if !a.SlaDueAt.Equal(*b.SlaDueAt) {
				return a.SlaDueAt.Before(*b.SlaDueAt)
			}
		case a.SlaDueAt != nil:
			return true
		case b.SlaDueAt != nil:
			return false
		}
		return a.EnteredStageAt.Before(b.EnteredStageAt)
	})
	return list
}

func views(list []*model.WorkflowInstance) []model.InstanceView {
	out := make([]model.InstanceView, 0, len(list))
	for _, inst := range list {
		out = append(out, inst.View())
	}
	return out
}
