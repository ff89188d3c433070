// internal/errors/mapper.go
package errors

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
)

// ErrorDomain tags ErrorInfo details so clients can tell our reasons apart.
const ErrorDomain = "chaperone"

var grpcCodes = map[Kind]codes.Code{
	KindSelfAction:      codes.InvalidArgument,
	KindNotVerified:     codes.FailedPrecondition,
	KindBlocked:         codes.PermissionDenied,
	KindDuplicate:       codes.AlreadyExists,
	KindNotFound:        codes.NotFound,
	KindInvalidState:    codes.FailedPrecondition,
	KindForbidden:       codes.PermissionDenied,
	KindReadOnly:        codes.PermissionDenied,
	KindAlreadyMember:   codes.AlreadyExists,
	KindNotAMember:      codes.FailedPrecondition,
	KindEmptyMessage:    codes.InvalidArgument,
	KindInvalidArgument: codes.InvalidArgument,
}

var httpCodes = map[Kind]int{
	KindSelfAction:      http.StatusBadRequest,
	KindNotVerified:     http.StatusForbidden,
	KindBlocked:         http.StatusForbidden,
	KindDuplicate:       http.StatusConflict,
	KindNotFound:        http.StatusNotFound,
	KindInvalidState:    http.StatusConflict,
	KindForbidden:       http.StatusForbidden,
	KindReadOnly:        http.StatusForbidden,
	KindAlreadyMember:   http.StatusConflict,
	KindNotAMember:      http.StatusConflict,
	KindEmptyMessage:    http.StatusBadRequest,
	KindInvalidArgument: http.StatusBadRequest,
}

// Map converts service/repo/infra errors into gRPC-friendly status errors.
// Domain kinds carry an ErrorInfo detail whose Reason is the Kind, so a client
// can tell READ_ONLY from a generic PERMISSION_DENIED.
func Map(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return withReason(codes.NotFound, "record not found", KindNotFound)

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request timed out")

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request was canceled")
	}

	kind := KindOf(err)
	if code, ok := grpcCodes[kind]; ok {
		return withReason(code, err.Error(), kind)
	}

	// storage and other infra failures are not leaked to clients
	return status.Error(codes.Internal, "internal error")
}

// HTTPStatus maps err to an HTTP status code and the client-facing kind.
func HTTPStatus(err error) (int, Kind) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, KindNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, KindInternal
	}

	kind := KindOf(err)
	if code, ok := httpCodes[kind]; ok {
		return code, kind
	}
	return http.StatusInternalServerError, KindInternal
}

// ReasonOf extracts the Kind from a gRPC status produced by Map.
func ReasonOf(err error) Kind {
	st, ok := status.FromError(err)
	if !ok {
		return KindInternal
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == ErrorDomain {
			return Kind(info.GetReason())
		}
	}
	return KindInternal
}

func withReason(code codes.Code, msg string, kind Kind) error {
	st := status.New(code, msg)
	detailed, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason: string(kind),
		Domain: ErrorDomain,
	})
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}

// InvalidArgument creates a gRPC InvalidArgument error.
// Use this in transport code for bad input validation.
func InvalidArgument(msg string) error {
	return withReason(codes.InvalidArgument, msg, KindInvalidArgument)
}
