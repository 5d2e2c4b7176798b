package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/matheus3301/chatsync/internal/msglog"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/remote"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps engine errors onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var httpErr *remote.HTTPError
	switch {
	case errors.Is(err, intsync.ErrUnknownConversation), errors.Is(err, msglog.ErrNotFound):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, intsync.ErrMissingTarget), errors.Is(err, outbox.ErrEmptyContent):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, outbox.ErrNotFailed):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, err.Error())
	case errors.As(err, &httpErr):
		return grpcstatus.Error(httpCode(httpErr.StatusCode), err.Error())
	default:
		return grpcstatus.Error(codes.Internal, err.Error())
	}
}

func httpCode(status int) codes.Code {
	switch status {
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.AlreadyExists
	default:
		return codes.Unavailable
	}
}
