// Package remote talks to the envvault server over gRPC. Client offers the
// same operations as the local SQLite store so either can back a vault.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/envvault/internal/api"
	"github.com/dmitrijs2005/envvault/internal/common"
	"github.com/dmitrijs2005/envvault/internal/cryptox"
	"github.com/dmitrijs2005/envvault/internal/models"
	"github.com/dmitrijs2005/envvault/internal/vault"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// DefaultTimeout bounds calls whose context carries no deadline.
const DefaultTimeout = 12 * time.Second

var (
	ErrUnavailable   = errors.New("server unavailable")
	ErrWrongPassword = fmt.Errorf("%w: wrong master password", vault.ErrAuthentication)
)

type Client struct {
	conn        *grpc.ClientConn
	accessToken string
	timeout     time.Duration
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (c *Client) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if method != api.MethodPing {
		ctx = withAccessToken(ctx, c.accessToken)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// New connects to endpoint using accessToken for every authenticated call.
// Extra dial options are appended after the defaults.
func New(endpoint, accessToken string, opts ...grpc.DialOption) (*Client, error) {
	c := &Client{accessToken: accessToken, timeout: DefaultTimeout}

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func call[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := api.Invoke[Resp](ctx, c.conn, method, req)
	if err != nil {
		return nil, mapError(err)
	}
	return resp, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	default:
		return api.FromStatus(err)
	}
}

func (c *Client) Ping(ctx context.Context) error {
	resp, err := call[api.PingResponse](ctx, c, api.MethodPing, &api.PingRequest{})
	if err != nil {
		return err
	}
	if resp.Status != "OK" {
		return ErrUnavailable
	}
	return nil
}

func (c *Client) Initialized(ctx context.Context) (bool, error) {
	_, err := c.Salt(ctx)
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Init registers the salt and master password verifier on the server. It
// fails with common.ErrorAlreadyExists when the account is already set up.
func (c *Client) Init(ctx context.Context, salt []byte, password string) error {
	if len(salt) != cryptox.SaltSize {
		return cryptox.ErrInvalidSalt
	}
	_, err := call[api.SetupResponse](ctx, c, api.MethodSetup, &api.SetupRequest{
		Salt:           cryptox.EncodeBase64(salt),
		MasterPassword: password,
	})
	return err
}

// Salt returns the account salt. An account that was never set up yields an
// error wrapping common.ErrorNotFound.
func (c *Client) Salt(ctx context.Context) ([]byte, error) {
	resp, err := call[api.GetSaltResponse](ctx, c, api.MethodGetSalt, &api.GetSaltRequest{})
	if err != nil {
		return nil, err
	}
	return decodeSalt(resp.Salt)
}

// VerifyPassword asks the server to check password against its verifier.
func (c *Client) VerifyPassword(ctx context.Context, password string) error {
	_, err := call[api.UnlockResponse](ctx, c, api.MethodUnlock, &api.UnlockRequest{MasterPassword: password})
	if errors.Is(err, common.ErrorUnauthorized) {
		return ErrWrongPassword
	}
	return err
}

func (c *Client) PutVariable(ctx context.Context, v models.EncryptedVariable) error {
	if err := v.Validate(); err != nil {
		return err
	}
	_, err := c.PutVariables(ctx, []models.EncryptedVariable{v})
	return err
}

// PutVariables uploads vs in batches of at most models.MaxBulkVariables and
// returns how many records the server stored.
func (c *Client) PutVariables(ctx context.Context, vs []models.EncryptedVariable) (int, error) {
	stored := 0
	for start := 0; start < len(vs); start += models.MaxBulkVariables {
		end := min(start+models.MaxBulkVariables, len(vs))
		resp, err := call[api.PutVariablesResponse](ctx, c, api.MethodPutVariables, &api.PutVariablesRequest{
			Variables: vs[start:end],
		})
		if err != nil {
			return stored, err
		}
		stored += resp.Stored
	}
	return stored, nil
}

func (c *Client) GetVariable(ctx context.Context, id string) (models.EncryptedVariable, error) {
	vs, err := c.ListVariables(ctx)
	if err != nil {
		return models.EncryptedVariable{}, err
	}
	for _, v := range vs {
		if v.ID == id {
			return v, nil
		}
	}
	return models.EncryptedVariable{}, common.ErrorNotFound
}

func (c *Client) ListVariables(ctx context.Context) ([]models.EncryptedVariable, error) {
	resp, err := call[api.ListVariablesResponse](ctx, c, api.MethodListVariables, &api.ListVariablesRequest{})
	if err != nil {
		return nil, err
	}
	return resp.Variables, nil
}

func (c *Client) DeleteVariable(ctx context.Context, id string) error {
	_, err := call[api.DeleteVariableResponse](ctx, c, api.MethodDeleteVariable, &api.DeleteVariableRequest{ID: id})
	return err
}

// LoadVault reads the salt and then every variable. The two reads are not
// atomic; the server rejects a commit built on a salt that has since changed.
func (c *Client) LoadVault(ctx context.Context) (vault.Snapshot, error) {
	salt, err := c.Salt(ctx)
	if err != nil {
		return vault.Snapshot{}, err
	}
	vs, err := c.ListVariables(ctx)
	if err != nil {
		return vault.Snapshot{}, err
	}
	return vault.Snapshot{Salt: salt, Variables: vs}, nil
}

// CommitRotation sends the whole re-encrypted vault in a single request.
func (c *Client) CommitRotation(ctx context.Context, rc vault.RotationCommit) error {
	if len(rc.NewSalt) != cryptox.SaltSize {
		return cryptox.ErrInvalidSalt
	}
	vs := rc.Variables
	if vs == nil {
		vs = []models.EncryptedVariable{}
	}
	_, err := call[api.ChangeMasterPasswordResponse](ctx, c, api.MethodChangeMasterPassword, &api.ChangeMasterPasswordRequest{
		CurrentPassword: rc.Credentials.Current,
		NewPassword:     rc.Credentials.New,
		PrevSalt:        cryptox.EncodeBase64(rc.PrevSalt),
		NewSalt:         cryptox.EncodeBase64(rc.NewSalt),
		Variables:       vs,
	})
	return err
}

// EnrollTwoFactor asks the server for a fresh TOTP secret.
func (c *Client) EnrollTwoFactor(ctx context.Context) (secret, uri string, err error) {
	resp, err := call[api.EnrollTwoFactorResponse](ctx, c, api.MethodEnrollTwoFactor, &api.EnrollTwoFactorRequest{})
	if err != nil {
		return "", "", err
	}
	return resp.Secret, resp.URI, nil
}

// VerifyTwoFactor confirms a pending enrollment with a code from the
// authenticator. A wrong code yields totp.ErrInvalidCode.
func (c *Client) VerifyTwoFactor(ctx context.Context, code string) error {
	_, err := call[api.VerifyTwoFactorResponse](ctx, c, api.MethodVerifyTwoFactor, &api.VerifyTwoFactorRequest{Code: code})
	return err
}

func decodeSalt(s string) ([]byte, error) {
	salt, err := cryptox.DecodeBase64(s)
	if err != nil || len(salt) != cryptox.SaltSize {
		return nil, fmt.Errorf("server returned a malformed salt: %w", cryptox.ErrInvalidSalt)
	}
	return salt, nil
}

var _ vault.Store = (*Client)(nil)
