package grpc

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/envvault/internal/api"
	"github.com/dmitrijs2005/envvault/internal/common"
	"github.com/dmitrijs2005/envvault/internal/cryptox"
	"github.com/dmitrijs2005/envvault/internal/server/services"
)

func (s *GRPCServer) userID(ctx context.Context) (string, error) {
	id, ok := UserIDFromContext(ctx)
	if !ok {
		return "", api.ToStatus(common.ErrorUnauthorized)
	}
	return id, nil
}

// decodeSalt parses a base64 salt field of the request.
func decodeSalt(field, v string) ([]byte, error) {
	b, err := cryptox.DecodeBase64(v)
	if err != nil || len(b) != cryptox.SaltSize {
		return nil, api.ToStatus(fmt.Errorf("%w: %s: %w", common.ErrorValidation, field, cryptox.ErrInvalidSalt))
	}
	return b, nil
}

func (s *GRPCServer) GetSalt(ctx context.Context, req *api.GetSaltRequest) (*api.GetSaltResponse, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, err
	}

	salt, err := s.vault.GetSalt(ctx, userID)
	if err != nil {
		return nil, api.ToStatus(err)
	}

	return &api.GetSaltResponse{Salt: cryptox.EncodeBase64(salt)}, nil
}

func (s *GRPCServer) Setup(ctx context.Context, req *api.SetupRequest) (*api.SetupResponse, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, err
	}

	salt, err := decodeSalt("salt", req.Salt)
	if err != nil {
		return nil, err
	}

	if err := s.vault.Setup(ctx, userID, salt, req.MasterPassword); err != nil {
		return nil, api.ToStatus(err)
	}

	s.logger.Info(ctx, "Vault set up", "user_id", userID)
	return &api.SetupResponse{}, nil
}

func (s *GRPCServer) Unlock(ctx context.Context, req *api.UnlockRequest) (*api.UnlockResponse, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, err
	}

	salt, err := s.vault.VerifyMasterPassword(ctx, userID, req.MasterPassword)
	if err != nil {
		return nil, api.ToStatus(err)
	}

	return &api.UnlockResponse{Salt: cryptox.EncodeBase64(salt)}, nil
}

func (s *GRPCServer) ListVariables(ctx context.Context, req *api.ListVariablesRequest) (*api.ListVariablesResponse, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, err
	}

	vars, err := s.vault.ListVariables(ctx, userID)
	if err != nil {
		return nil, api.ToStatus(err)
	}

	return &api.ListVariablesResponse{Variables: vars}, nil
}

func (s *GRPCServer) PutVariables(ctx context.Context, req *api.PutVariablesRequest) (*api.PutVariablesResponse, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, err
	}

	n, err := s.vault.PutVariables(ctx, userID, req.Variables)
	if err != nil {
		return nil, api.ToStatus(err)
	}

	return &api.PutVariablesResponse{Stored: n}, nil
}

func (s *GRPCServer) DeleteVariable(ctx context.Context, req *api.DeleteVariableRequest) (*api.DeleteVariableResponse, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.vault.DeleteVariable(ctx, userID, req.ID); err != nil {
		return nil, api.ToStatus(err)
	}

	return &api.DeleteVariableResponse{}, nil
}

func (s *GRPCServer) ChangeMasterPassword(ctx context.Context, req *api.ChangeMasterPasswordRequest) (*api.ChangeMasterPasswordResponse, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, err
	}

	prev, err := decodeSalt("prevSalt", req.PrevSalt)
	if err != nil {
		return nil, err
	}
	next, err := decodeSalt("newSalt", req.NewSalt)
	if err != nil {
		return nil, err
	}

	n, err := s.vault.ChangeMasterPassword(ctx, userID, services.Rotation{
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		PrevSalt:        prev,
		NewSalt:         next,
		Variables:       req.Variables,
	})
	if err != nil {
		return nil, api.ToStatus(err)
	}

	return &api.ChangeMasterPasswordResponse{Reencrypted: n}, nil
}

func (s *GRPCServer) EnrollTwoFactor(ctx context.Context, req *api.EnrollTwoFactorRequest) (*api.EnrollTwoFactorResponse, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, err
	}

	e, err := s.vault.EnrollTwoFactor(ctx, userID)
	if err != nil {
		return nil, api.ToStatus(err)
	}

	return &api.EnrollTwoFactorResponse{Secret: e.Secret, URI: e.URI}, nil
}

func (s *GRPCServer) VerifyTwoFactor(ctx context.Context, req *api.VerifyTwoFactorRequest) (*api.VerifyTwoFactorResponse, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.vault.VerifyTwoFactor(ctx, userID, req.Code); err != nil {
		return nil, api.ToStatus(err)
	}

	return &api.VerifyTwoFactorResponse{}, nil
}

func (s *GRPCServer) Ping(ctx context.Context, req *api.PingRequest) (*api.PingResponse, error) {
	return &api.PingResponse{Status: "OK"}, nil
}
