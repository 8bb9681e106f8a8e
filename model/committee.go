package model

import (
	"fmt"
	"strings"
	"time"
)

type ReviewStatus string

const (
	REVIEW_DRAFT       ReviewStatus = "Draft"
	REVIEW_IN_PROGRESS ReviewStatus = "InProgress"
	REVIEW_DECIDED     ReviewStatus = "Decided"
	REVIEW_EXPIRED     ReviewStatus = "Expired"
)

func (s ReviewStatus) IsClosed() bool {
	return s == REVIEW_DECIDED || s == REVIEW_EXPIRED
}

type Vote string

const (
	VOTE_NONE    Vote = ""
	VOTE_APPROVE Vote = "Approve"
	VOTE_REJECT  Vote = "Reject"
	VOTE_ABSTAIN Vote = "Abstain"
)

func ParseVote(s string) (Vote, error) {
	for _, v := range []Vote{VOTE_APPROVE, VOTE_REJECT, VOTE_ABSTAIN} {
		if strings.EqualFold(string(v), s) {
			return v, nil
		}
	}
	return VOTE_NONE, fmt.Errorf("unknown vote %q", s)
}

type Decision string

const (
	DECISION_NONE     Decision = ""
	DECISION_APPROVED Decision = "Approved"
	DECISION_REJECTED Decision = "Rejected"
)

// Action returns the pipeline action that applies this decision to the parent instance.
func (d Decision) Action() Action {
	if d == DECISION_APPROVED {
		return ACTION_APPROVE
	}
	return ACTION_REJECT
}

type Visibility string

const (
	VISIBILITY_INTERNAL Visibility = "Internal"
	VISIBILITY_SHARED   Visibility = "Shared"
)

func ParseVisibility(s string) (Visibility, error) {
	switch {
	case s == "":
		return VISIBILITY_INTERNAL, nil
	case strings.EqualFold(s, string(VISIBILITY_INTERNAL)):
		return VISIBILITY_INTERNAL, nil
	case strings.EqualFold(s, string(VISIBILITY_SHARED)):
		return VISIBILITY_SHARED, nil
	}
	return "", fmt.Errorf("unknown visibility %q", s)
}

type CommitteeReview struct {
	Id                   string              `json:"id"`
	ApplicationId        string              `json:"applicationId"`
	InstanceId           string              `json:"instanceId"`
	CommitteeType        string              `json:"committeeType"`
	Status               ReviewStatus        `json:"status"`
	ChairpersonId        string              `json:"chairpersonId"`
	CirculatedAt         time.Time           `json:"circulatedAt"`
	DeadlineAt           time.Time           `json:"deadlineAt"`
	RequiredVotes        int                 `json:"requiredVotes"`
	MinimumApprovalVotes int                 `json:"minimumApprovalVotes"`
	FinalDecision        Decision            `json:"finalDecision,omitempty"`
	DecisionRationale    string              `json:"decisionRationale,omitempty"`
	DecidedAt            *time.Time          `json:"decidedAt,omitempty"`
	Overrides            Terms               `json:"overrides"`
	HandedOff            bool                `json:"handedOff,omitempty"`
	SupersededBy         string              `json:"supersededBy,omitempty"`
	Members              []CommitteeMember   `json:"members"`
	Comments             []CommitteeComment  `json:"comments,omitempty"`
	Documents            []CommitteeDocument `json:"documents,omitempty"`
	Version              int64               `json:"version"`
}

type CommitteeMember struct {
	UserId        string     `json:"userId"`
	Role          Role       `json:"role"`
	IsChairperson bool       `json:"isChairperson"`
	Vote          Vote       `json:"vote,omitempty"`
	VotedAt       *time.Time `json:"votedAt,omitempty"`
	VoteComment   string     `json:"voteComment,omitempty"`
	FirstViewedAt *time.Time `json:"firstViewedAt,omitempty"`
	ViewCount     int        `json:"viewCount"`
	Version       int64      `json:"version"`
}

func (m *CommitteeMember) HasVoted() bool {
	return m.Vote != VOTE_NONE
}

type CommitteeComment struct {
	Id         string     `json:"id"`
	AuthorId   string     `json:"authorId"`
	Body       string     `json:"body"`
	Visibility Visibility `json:"visibility"`
	CreatedAt  time.Time  `json:"createdAt"`
}

type CommitteeDocument struct {
	Id         string     `json:"id"`
	UploadedBy string     `json:"uploadedBy"`
	Name       string     `json:"name"`
	StorageRef string     `json:"storageRef"`
	Visibility Visibility `json:"visibility"`
	AttachedAt time.Time  `json:"attachedAt"`
}

// Member returns the member entry for a user.
func (r *CommitteeReview) Member(userId string) (*CommitteeMember, bool) {
	for i := range r.Members {
		if r.Members[i].UserId == userId {
			return &r.Members[i], true
		}
	}
	return nil, false
}

type Tally struct {
	Approve   int `json:"approve"`
	Reject    int `json:"reject"`
	Abstain   int `json:"abstain"`
	Undecided int `json:"undecided"`
}

func (r *CommitteeReview) Tally() Tally {
	var t Tally
	for _, m := range r.Members {
		switch m.Vote {
		case VOTE_APPROVE:
			t.Approve++
		case VOTE_REJECT:
			t.Reject++
		case VOTE_ABSTAIN:
			t.Abstain++
		default:
			t.Undecided++
		}
	}
	return t
}

func (r *CommitteeReview) Clone() *CommitteeReview {
	c := *r
	c.Members = make([]CommitteeMember, len(r.Members))
	copy(c.Members, r.Members)
	c.Comments = append([]CommitteeComment(nil), r.Comments...)
	c.Documents = append([]CommitteeDocument(nil), r.Documents...)
	return &c
}

// AwaitingHandoff reports whether the review closed but its outcome has not
// reached the parent instance yet.
func (r *CommitteeReview) AwaitingHandoff() bool {
	return r.Status.IsClosed() && !r.HandedOff
}

func (r *CommitteeReview) View() ReviewView {
	return ReviewView{
		Id:                   r.Id,
		ApplicationId:        r.ApplicationId,
		InstanceId:           r.InstanceId,
		CommitteeType:        r.CommitteeType,
		Status:               r.Status,
		DeadlineAt:           r.DeadlineAt,
		RequiredVotes:        r.RequiredVotes,
		MinimumApprovalVotes: r.MinimumApprovalVotes,
		FinalDecision:        r.FinalDecision,
		DecisionRationale:    r.DecisionRationale,
		DecidedAt:            r.DecidedAt,
		Overrides:            r.Overrides,
		HandedOff:            r.HandedOff,
		SupersededBy:         r.SupersededBy,
		Tally:                r.Tally(),
		Members:              append([]CommitteeMember(nil), r.Members...),
		Version:              r.Version,
	}
}

type ReviewView struct {
	Id                   string            `json:"id"`
	ApplicationId        string            `json:"applicationId"`
	InstanceId           string            `json:"instanceId"`
	CommitteeType        string            `json:"committeeType"`
	Status               ReviewStatus      `json:"status"`
	DeadlineAt           time.Time         `json:"deadlineAt"`
	RequiredVotes        int               `json:"requiredVotes"`
	MinimumApprovalVotes int               `json:"minimumApprovalVotes"`
	FinalDecision        Decision          `json:"finalDecision,omitempty"`
	DecisionRationale    string            `json:"decisionRationale,omitempty"`
	DecidedAt            *time.Time        `json:"decidedAt,omitempty"`
	Overrides            Terms             `json:"overrides"`
	HandedOff            bool              `json:"handedOff,omitempty"`
	SupersededBy         string            `json:"supersededBy,omitempty"`
	Tally                Tally             `json:"tally"`
	Members              []CommitteeMember `json:"members"`
	Version              int64             `json:"version"`
}
