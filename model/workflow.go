package model

import (
	"fmt"
	"strings"
)

type Action string

const (
	ACTION_SUBMIT   Action = "Submit"
	ACTION_APPROVE  Action = "Approve"
	ACTION_REJECT   Action = "Reject"
	ACTION_RETURN   Action = "Return"
	ACTION_ESCALATE Action = "Escalate"
)

var actions = []Action{ACTION_SUBMIT, ACTION_APPROVE, ACTION_REJECT, ACTION_RETURN, ACTION_ESCALATE}

func Actions() []Action {
	out := make([]Action, len(actions))
	copy(out, actions)
	return out
}

func ParseAction(s string) (Action, error) {
	for _, a := range actions {
		if strings.EqualFold(string(a), s) {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", s)
}

func (a Action) IsValid() bool {
	for _, v := range actions {
		if v == a {
			return true
		}
	}
	return false
}

func (a Action) String() string {
	return string(a)
}

type Role string

type Status string

type WorkflowDefinition struct {
	Id              string               `json:"id"`
	ApplicationType string               `json:"applicationType"`
	Version         int                  `json:"version"`
	IsActive        bool                 `json:"isActive"`
	InitialStatus   Status               `json:"initialStatus"`
	Stages          []WorkflowStage      `json:"stages"`
	Transitions     []WorkflowTransition `json:"transitions"`
}

type WorkflowStage struct {
	Status          Status `json:"status"`
	DisplayName     string `json:"displayName"`
	AssignedRole    Role   `json:"assignedRole"`
	SlaHours        int    `json:"slaHours"`
	RequiresComment bool   `json:"requiresComment"`
	IsTerminal      bool   `json:"isTerminal"`
	SortOrder       int    `json:"sortOrder"`
}

type WorkflowTransition struct {
	FromStatus      Status `json:"fromStatus"`
	ToStatus        Status `json:"toStatus"`
	Action          Action `json:"action"`
	RequiredRole    Role   `json:"requiredRole"`
	RequiresComment bool   `json:"requiresComment"`
	Guard           string `json:"guard,omitempty"`
}

// Stage returns the stage with the given status code.
func (d *WorkflowDefinition) Stage(status Status) (WorkflowStage, bool) {
	for _, st := range d.Stages {
		if st.Status == status {
			return st, true
		}
	}
	return WorkflowStage{}, false
}

func (d *WorkflowDefinition) Key() string {
	return fmt.Sprintf("%s:%d", d.Id, d.Version)
}
