package grpc

import (
	"context"
	"time"

	"github.com/dmitrijs2005/envvault/internal/api"
	"github.com/dmitrijs2005/envvault/internal/common"
	"github.com/dmitrijs2005/envvault/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const userIDKey ctxKey = "userID"

// publicMethods can be called without an access token.
var publicMethods = map[string]bool{
	api.MethodPing: true,
}

// UserIDFromContext returns the user ID stored by the access token interceptor.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if publicMethods[info.FullMethod] {
		return handler(ctx, req)
	}

	var accessToken string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(common.AccessTokenHeaderName)
		if len(values) > 0 {
			accessToken = values[0]
		}
	}
	if len(accessToken) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	userID, err := auth.GetUserIDFromToken(accessToken, s.jwtSecret)
	if err != nil {
		return nil, api.ToStatus(common.ErrInvalidToken)
	}

	ctx = context.WithValue(ctx, userIDKey, userID)

	return handler(ctx, req)
}

// loggingInterceptor records method, outcome code and latency of every call.
func (s *GRPCServer) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	code := status.Code(err)
	args := []any{"method", info.FullMethod, "code", code.String(), "duration", time.Since(start)}
	switch code {
	case codes.OK:
		s.logger.Debug(ctx, "rpc", args...)
	case codes.Internal, codes.Unknown:
		s.logger.Error(ctx, "rpc", args...)
	default:
		s.logger.Info(ctx, "rpc", args...)
	}

	return resp, err
}
