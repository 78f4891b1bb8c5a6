package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/envvault/internal/common"
	"github.com/dmitrijs2005/envvault/internal/cryptox"
	"github.com/dmitrijs2005/envvault/internal/models"
	"github.com/dmitrijs2005/envvault/internal/secretbox"
	"github.com/dmitrijs2005/envvault/internal/totp"
	"github.com/dmitrijs2005/envvault/internal/vault"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorDomain tags the ErrorInfo detail attached to every mapped status.
const ErrorDomain = "envvault"

type mappedError struct {
	reason string
	err    error
	code   codes.Code
}

// Most specific first: validation errors wrap both a cause and
// common.ErrorValidation.
var errorTable = []mappedError{
	{"AUTHENTICATION_FAILED", vault.ErrAuthentication, codes.Unauthenticated},
	{"INVALID_TOKEN", common.ErrInvalidToken, codes.Unauthenticated},
	{"UNAUTHORIZED", common.ErrorUnauthorized, codes.Unauthenticated},
	{"INVALID_TWO_FACTOR_CODE", totp.ErrInvalidCode, codes.PermissionDenied},
	{"STALE_SNAPSHOT", vault.ErrStaleSnapshot, codes.FailedPrecondition},
	{"INCOMPLETE_ROTATION", vault.ErrIncompleteRotation, codes.FailedPrecondition},
	{"TWO_FACTOR_UNAVAILABLE", secretbox.ErrNoSecret, codes.FailedPrecondition},
	{"TOO_MANY_VARIABLES", models.ErrTooManyVariables, codes.InvalidArgument},
	{"UNSUPPORTED_VERSION", models.ErrUnknownVersion, codes.InvalidArgument},
	{"INVALID_RECORD", models.ErrInvalidRecord, codes.InvalidArgument},
	{"INVALID_SALT", cryptox.ErrInvalidSalt, codes.InvalidArgument},
	{"EMPTY_SECRET", cryptox.ErrEmptySecret, codes.InvalidArgument},
	{"VALIDATION", common.ErrorValidation, codes.InvalidArgument},
	{"NOT_FOUND", common.ErrorNotFound, codes.NotFound},
	{"ALREADY_EXISTS", common.ErrorAlreadyExists, codes.AlreadyExists},
}

// ToStatus converts a service error into a gRPC status error carrying an
// ErrorInfo reason. Unknown errors become a bare Internal status so that no
// internal detail reaches the caller.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}

	for _, m := range errorTable {
		if !errors.Is(err, m.err) {
			continue
		}
		msg := err.Error()
		if m.code == codes.Unauthenticated {
			msg = "unauthorized"
		}
		st := status.New(m.code, msg)
		if withInfo, derr := st.WithDetails(&errdetails.ErrorInfo{Reason: m.reason, Domain: ErrorDomain}); derr == nil {
			st = withInfo
		}
		return st.Err()
	}

	return status.Error(codes.Internal, "internal error")
}

// decodeError reports a request body the codec rejected as InvalidArgument.
// grpc hands such failures to the handler as an Internal status whose
// message carries the codec error.
func decodeError(err error) error {
	msg := status.Convert(err).Message()
	for _, cause := range []error{models.ErrUnknownVersion, models.ErrInvalidRecord} {
		if strings.Contains(msg, cause.Error()) {
			return ToStatus(fmt.Errorf("%w: %s", cause, msg))
		}
	}
	return ToStatus(fmt.Errorf("%w: %s", common.ErrorValidation, msg))
}

// FromStatus reverses ToStatus on the client so callers can keep matching
// sentinels with errors.Is. Statuses without a known reason fall back to the
// code; anything else is returned unchanged.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != ErrorDomain {
			continue
		}
		for _, m := range errorTable {
			if m.reason != info.GetReason() {
				continue
			}
			if m.code == codes.InvalidArgument && m.err != common.ErrorValidation {
				return fmt.Errorf("%w: %w: %s", common.ErrorValidation, m.err, st.Message())
			}
			return fmt.Errorf("%w: %s", m.err, st.Message())
		}
	}

	switch st.Code() {
	case codes.Unauthenticated:
		return fmt.Errorf("%w: %s", common.ErrorUnauthorized, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", common.ErrorNotFound, st.Message())
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %s", common.ErrorAlreadyExists, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", common.ErrorValidation, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, st.Message())
	}
	return err
}
