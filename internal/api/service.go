package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "envvault.VaultService"

// Full method names, as seen by interceptors.
const (
	MethodGetSalt              = "/" + ServiceName + "/GetSalt"
	MethodSetup                = "/" + ServiceName + "/Setup"
	MethodUnlock               = "/" + ServiceName + "/Unlock"
	MethodListVariables        = "/" + ServiceName + "/ListVariables"
	MethodPutVariables         = "/" + ServiceName + "/PutVariables"
	MethodDeleteVariable       = "/" + ServiceName + "/DeleteVariable"
	MethodChangeMasterPassword = "/" + ServiceName + "/ChangeMasterPassword"
	MethodEnrollTwoFactor      = "/" + ServiceName + "/EnrollTwoFactor"
	MethodVerifyTwoFactor      = "/" + ServiceName + "/VerifyTwoFactor"
	MethodPing                 = "/" + ServiceName + "/Ping"
)

// VaultServiceServer is implemented by the gRPC server.
type VaultServiceServer interface {
	GetSalt(context.Context, *GetSaltRequest) (*GetSaltResponse, error)
	Setup(context.Context, *SetupRequest) (*SetupResponse, error)
	Unlock(context.Context, *UnlockRequest) (*UnlockResponse, error)
	ListVariables(context.Context, *ListVariablesRequest) (*ListVariablesResponse, error)
	PutVariables(context.Context, *PutVariablesRequest) (*PutVariablesResponse, error)
	DeleteVariable(context.Context, *DeleteVariableRequest) (*DeleteVariableResponse, error)
	ChangeMasterPassword(context.Context, *ChangeMasterPasswordRequest) (*ChangeMasterPasswordResponse, error)
	EnrollTwoFactor(context.Context, *EnrollTwoFactorRequest) (*EnrollTwoFactorResponse, error)
	VerifyTwoFactor(context.Context, *VerifyTwoFactorRequest) (*VerifyTwoFactorResponse, error)
	Ping(context.Context, *PingRequest) (*PingResponse, error)
}

// unary builds a MethodDesc that decodes Req, runs it through the server's
// interceptor chain and dispatches to call.
func unary[Req, Resp any](name string, call func(VaultServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, decodeError(err)
			}
			if interceptor == nil {
				return call(srv.(VaultServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(VaultServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes envvault.VaultService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VaultServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetSalt", VaultServiceServer.GetSalt),
		unary("Setup", VaultServiceServer.Setup),
		unary("Unlock", VaultServiceServer.Unlock),
		unary("ListVariables", VaultServiceServer.ListVariables),
		unary("PutVariables", VaultServiceServer.PutVariables),
		unary("DeleteVariable", VaultServiceServer.DeleteVariable),
		unary("ChangeMasterPassword", VaultServiceServer.ChangeMasterPassword),
		unary("EnrollTwoFactor", VaultServiceServer.EnrollTwoFactor),
		unary("VerifyTwoFactor", VaultServiceServer.VerifyTwoFactor),
		unary("Ping", VaultServiceServer.Ping),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "envvault/vault.api",
}

func RegisterVaultServiceServer(s grpc.ServiceRegistrar, srv VaultServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Invoke performs a unary call of method on conn using the JSON codec.
func Invoke[Resp any](ctx context.Context, conn grpc.ClientConnInterface, method string, req any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := conn.Invoke(ctx, method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
