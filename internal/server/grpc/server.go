// Package grpc exposes envvault.VaultService over gRPC. Every method except
// Ping is scoped to the user named by the access token.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/envvault/internal/api"
	"github.com/dmitrijs2005/envvault/internal/logging"
	"github.com/dmitrijs2005/envvault/internal/models"
	"github.com/dmitrijs2005/envvault/internal/server/services"
	"google.golang.org/grpc"
)

// VaultService is the business logic behind the handlers.
type VaultService interface {
	GetSalt(ctx context.Context, userID string) ([]byte, error)
	Setup(ctx context.Context, userID string, salt []byte, password string) error
	VerifyMasterPassword(ctx context.Context, userID, password string) ([]byte, error)
	ListVariables(ctx context.Context, userID string) ([]models.EncryptedVariable, error)
	PutVariables(ctx context.Context, userID string, vars []models.EncryptedVariable) (int, error)
	DeleteVariable(ctx context.Context, userID, id string) error
	ChangeMasterPassword(ctx context.Context, userID string, r services.Rotation) (int, error)
	EnrollTwoFactor(ctx context.Context, userID string) (*services.Enrollment, error)
	VerifyTwoFactor(ctx context.Context, userID, code string) error
}

type GRPCServer struct {
	address   string
	vault     VaultService
	logger    logging.Logger
	jwtSecret []byte
}

var _ api.VaultServiceServer = (*GRPCServer)(nil)

func NewGRPCServer(a string, l logging.Logger, vs VaultService, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		vault:     vs,
		jwtSecret: []byte(secretKey),
	}
}

// NewServer builds a grpc.Server with the interceptor chain and the vault
// service registered. opts are appended after the defaults.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.accessTokenInterceptor),
	}, opts...)

	srv := grpc.NewServer(opts...)
	api.RegisterVaultServiceServer(srv, s)
	return srv
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.NewServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
