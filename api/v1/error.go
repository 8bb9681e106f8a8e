package api_v1

import (
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	status "google.golang.org/grpc/status"
)

func localizedStatus(code codes.Code, msg string) *status.Status {
	st := status.New(code, msg)
	d := &errdetails.LocalizedMessage{
		Locale:  "en-US",
		Message: msg,
	}
	std, err := st.WithDetails(d)
	if err != nil {
		return st
	}
	return std
}

type NotFoundError struct {
	Entity string
	Id     string
}

func (e NotFoundError) GRPCStatus() *status.Status {
	return localizedStatus(codes.NotFound, fmt.Sprintf("%s %s not found", e.Entity, e.Id))
}

func (e NotFoundError) Error() string {
	return e.GRPCStatus().Err().Error()
}

type UnauthorizedError struct {
	Action       string
	ActorRole    string
	RequiredRole string
}

func (e UnauthorizedError) GRPCStatus() *status.Status {
	return localizedStatus(codes.PermissionDenied, fmt.Sprintf("role %s can not perform %s, required role %s", e.ActorRole, e.Action, e.RequiredRole))
}

func (e UnauthorizedError) Error() string {
	return e.GRPCStatus().Err().Error()
}

type InvalidTransitionError struct {
	FromStatus string
	Action     string
}

func (e InvalidTransitionError) GRPCStatus() *status.Status {
	return localizedStatus(codes.FailedPrecondition, fmt.Sprintf("action %s is not allowed from status %s", e.Action, e.FromStatus))
}

func (e InvalidTransitionError) Error() string {
	return e.GRPCStatus().Err().Error()
}

type CommentRequiredError struct {
	Action   string
	ToStatus string
}

func (e CommentRequiredError) GRPCStatus() *status.Status {
	return localizedStatus(codes.InvalidArgument, fmt.Sprintf("comment is required for %s to %s", e.Action, e.ToStatus))
}

func (e CommentRequiredError) Error() string {
	return e.GRPCStatus().Err().Error()
}

// ConflictError is returned when a concurrency token check fails. It is retryable after reload.
type ConflictError struct {
	Entity string
	Id     string
	Reason string
}

func (e ConflictError) GRPCStatus() *status.Status {
	msg := fmt.Sprintf("%s %s was modified concurrently", e.Entity, e.Id)
	if e.Reason != "" {
		msg = fmt.Sprintf("%s %s conflict: %s", e.Entity, e.Id, e.Reason)
	}
	return localizedStatus(codes.Aborted, msg)
}

func (e ConflictError) Error() string {
	return e.GRPCStatus().Err().Error()
}

type AlreadyVotedError struct {
	ReviewId string
	UserId   string
}

func (e AlreadyVotedError) GRPCStatus() *status.Status {
	return localizedStatus(codes.AlreadyExists, fmt.Sprintf("user %s already voted on review %s", e.UserId, e.ReviewId))
}

func (e AlreadyVotedError) Error() string {
	return e.GRPCStatus().Err().Error()
}

type NotAMemberError struct {
	ReviewId string
	UserId   string
}

func (e NotAMemberError) GRPCStatus() *status.Status {
	return localizedStatus(codes.PermissionDenied, fmt.Sprintf("user %s is not a member of review %s", e.UserId, e.ReviewId))
}

func (e NotAMemberError) Error() string {
	return e.GRPCStatus().Err().Error()
}

type ReviewNotOpenError struct {
	ReviewId string
	Status   string
}

func (e ReviewNotOpenError) GRPCStatus() *status.Status {
	return localizedStatus(codes.FailedPrecondition, fmt.Sprintf("review %s is not open, status %s", e.ReviewId, e.Status))
}

func (e ReviewNotOpenError) Error() string {
	return e.GRPCStatus().Err().Error()
}

type QuorumMisconfiguredError struct {
	RequiredVotes        int
	MinimumApprovalVotes int
}

func (e QuorumMisconfiguredError) GRPCStatus() *status.Status {
	return localizedStatus(codes.InvalidArgument, fmt.Sprintf("minimum approval votes %d must be between 1 and %d", e.MinimumApprovalVotes, e.RequiredVotes))
}

func (e QuorumMisconfiguredError) Error() string {
	return e.GRPCStatus().Err().Error()
}

type ValidationError struct {
	Message string
}

func (e ValidationError) GRPCStatus() *status.Status {
	return localizedStatus(codes.InvalidArgument, e.Message)
}

func (e ValidationError) Error() string {
	return e.GRPCStatus().Err().Error()
}

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) GRPCStatus() *status.Status {
	return localizedStatus(codes.Internal, "error in underline storage layer")
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}
