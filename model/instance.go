package model

import "time"

type Terms struct {
	Amount      *float64 `json:"amount,omitempty"`
	TenorMonths *int     `json:"tenorMonths,omitempty"`
	Rate        *float64 `json:"rate,omitempty"`
}

func (t Terms) IsEmpty() bool {
	return t.Amount == nil && t.TenorMonths == nil && t.Rate == nil
}

type WorkflowInstance struct {
	Id                string         `json:"id"`
	ApplicationId     string         `json:"applicationId"`
	DefinitionId      string         `json:"definitionId"`
	DefinitionVersion int            `json:"definitionVersion"`
	CurrentStatus     Status         `json:"currentStatus"`
	AssignedRole      Role           `json:"assignedRole"`
	AssignedUser      string         `json:"assignedUser,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	EnteredStageAt    time.Time      `json:"enteredStageAt"`
	SlaDueAt          *time.Time     `json:"slaDueAt,omitempty"`
	IsSlaBreached     bool           `json:"isSlaBreached"`
	EscalationLevel   int            `json:"escalationLevel"`
	EscalatedToRole   Role           `json:"escalatedToRole,omitempty"`
	LastEscalatedAt   *time.Time     `json:"lastEscalatedAt,omitempty"`
	IsCompleted       bool           `json:"isCompleted"`
	FinalStatus       Status         `json:"finalStatus,omitempty"`
	Terms             Terms          `json:"terms"`
	Attributes        map[string]any `json:"attributes,omitempty"`
	Version           int64          `json:"version"`
}

// IsOverdue reports whether the instance is open and past its SLA deadline.
func (i *WorkflowInstance) IsOverdue(now time.Time) bool {
	return !i.IsCompleted && i.SlaDueAt != nil && !i.SlaDueAt.After(now)
}

func (i *WorkflowInstance) Clone() *WorkflowInstance {
	c := *i
	if i.SlaDueAt != nil {
		t := *i.SlaDueAt
		c.SlaDueAt = &t
	}
	if i.LastEscalatedAt != nil {
		t := *i.LastEscalatedAt
		c.LastEscalatedAt = &t
	}
	if i.Attributes != nil {
		c.Attributes = make(map[string]any, len(i.Attributes))
		for k, v := range i.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

func (i *WorkflowInstance) View() InstanceView {
	return InstanceView{
		Id:              i.Id,
		ApplicationId:   i.ApplicationId,
		CurrentStatus:   i.CurrentStatus,
		AssignedRole:    i.AssignedRole,
		AssignedUser:    i.AssignedUser,
		EnteredStageAt:  i.EnteredStageAt,
		SlaDueAt:        i.SlaDueAt,
		IsSlaBreached:   i.IsSlaBreached,
		EscalationLevel: i.EscalationLevel,
		EscalatedToRole: i.EscalatedToRole,
		IsCompleted:     i.IsCompleted,
		FinalStatus:     i.FinalStatus,
		Terms:           i.Terms,
		Version:         i.Version,
	}
}

type InstanceView struct {
	Id              string     `json:"id"`
	ApplicationId   string     `json:"applicationId"`
	CurrentStatus   Status     `json:"currentStatus"`
	AssignedRole    Role       `json:"assignedRole"`
	AssignedUser    string     `json:"assignedUser,omitempty"`
	EnteredStageAt  time.Time  `json:"enteredStageAt"`
	SlaDueAt        *time.Time `json:"slaDueAt,omitempty"`
	IsSlaBreached   bool       `json:"isSlaBreached"`
	EscalationLevel int        `json:"escalationLevel"`
	EscalatedToRole Role       `json:"escalatedToRole,omitempty"`
	IsCompleted     bool       `json:"isCompleted"`
	FinalStatus     Status     `json:"finalStatus,omitempty"`
	Terms           Terms      `json:"terms"`
	Version         int64      `json:"version"`
}

type WorkflowTransitionLog struct {
	Id                      string        `json:"id"`
	InstanceId              string        `json:"instanceId"`
	FromStatus              Status        `json:"fromStatus"`
	ToStatus                Status        `json:"toStatus"`
	Action                  Action        `json:"action"`
	PerformedBy             string        `json:"performedBy"`
	PerformedRole           Role          `json:"performedRole"`
	PerformedAt             time.Time     `json:"performedAt"`
	Comment                 string        `json:"comment,omitempty"`
	DurationInPreviousStage time.Duration `json:"durationInPreviousStage"`
}
