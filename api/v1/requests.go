package api_v1

import "time"

// Request bodies shared by the REST and gRPC surfaces.

type StartWorkflowRequest struct {
	ApplicationId   string         `json:"applicationId"`
	ApplicationType string         `json:"applicationType"`
	ActorUserId     string         `json:"actorUserId"`
	ActorRole       string         `json:"actorRole"`
	Comment         string         `json:"comment,omitempty"`
	Amount          *float64       `json:"amount,omitempty"`
	TenorMonths     *int           `json:"tenorMonths,omitempty"`
	Rate            *float64       `json:"rate,omitempty"`
	Attributes      map[string]any `json:"attributes,omitempty"`
}

type TransitionRequest struct {
	InstanceId  string `json:"instanceId"`
	Action      string `json:"action"`
	ActorUserId string `json:"actorUserId"`
	ActorRole   string `json:"actorRole"`
	Comment     string `json:"comment,omitempty"`
}

type AssignRequest struct {
	InstanceId string `json:"instanceId"`
	UserId     string `json:"userId"`
}

type GetRequest struct {
	Id      string `json:"id"`
	Version int    `json:"version,omitempty"`
}

type QueueRequest struct {
	Role string `json:"role"`
}

type CirculateRequest struct {
	ApplicationId        string    `json:"applicationId"`
	CommitteeType        string    `json:"committeeType"`
	Members              []string  `json:"members"`
	ChairpersonId        string    `json:"chairpersonId"`
	Deadline             time.Time `json:"deadline"`
	MinimumApprovalVotes int       `json:"minimumApprovalVotes"`
}

type VoteRequest struct {
	ReviewId string `json:"reviewId"`
	UserId   string `json:"userId"`
	Vote     string `json:"vote"`
	Comment  string `json:"comment,omitempty"`
}

type ViewRequest struct {
	ReviewId string `json:"reviewId"`
	UserId   string `json:"userId"`
}

type CommentRequest struct {
	ReviewId   string `json:"reviewId"`
	AuthorId   string `json:"authorId"`
	Body       string `json:"body"`
	Visibility string `json:"visibility,omitempty"`
}

type DocumentRequest struct {
	ReviewId   string `json:"reviewId"`
	UploadedBy string `json:"uploadedBy"`
	Name       string `json:"name"`
	StorageRef string `json:"storageRef"`
	Visibility string `json:"visibility,omitempty"`
}

type TermsRequest struct {
	ReviewId    string   `json:"reviewId"`
	UserId      string   `json:"userId"`
	Amount      *float64 `json:"amount,omitempty"`
	TenorMonths *int     `json:"tenorMonths,omitempty"`
	Rate        *float64 `json:"rate,omitempty"`
}

type ActiveDefinitionRequest struct {
	ApplicationType string `json:"applicationType"`
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
}
