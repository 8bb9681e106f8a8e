package api_v1

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type grpcStatuser interface {
	GRPCStatus() *status.Status
}

// Code returns the grpc code carried by err, codes.Unknown for untyped errors.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if errors.Is(err, context.Canceled) {
		return codes.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return codes.DeadlineExceeded
	}
	var st grpcStatuser
	if errors.As(err, &st) {
		return st.GRPCStatus().Code()
	}
	return codes.Unknown
}

func HTTPStatus(err error) int {
	switch Code(err) {
	case codes.OK:
		return http.StatusOK
	case codes.NotFound:
		return http.StatusNotFound
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.FailedPrecondition:
		return http.StatusUnprocessableEntity
	case codes.Aborted, codes.AlreadyExists:
		return http.StatusConflict
	case codes.Canceled, codes.DeadlineExceeded:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func IsConflict(err error) bool {
	var c ConflictError
	return errors.As(err, &c)
}

func IsNotFound(err error) bool {
	var n NotFoundError
	return errors.As(err, &n)
}

// ToStatusError unwraps err to the grpc status of the first typed error in its chain.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	var st grpcStatuser
	if errors.As(err, &st) {
		return st.GRPCStatus().Err()
	}
	if c := Code(err); c != codes.Unknown {
		return status.Error(c, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
