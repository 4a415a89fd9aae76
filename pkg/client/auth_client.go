package client

import (
	"context"
	"net/http"

	"github.com/code-sigs/svcbox/pkg/auth"
	"github.com/code-sigs/svcbox/pkg/errs"
)

const AuthServiceName = "auth-service"

// AuthClient 调用集中的 auth-service，实现 auth.Verifier
type AuthClient struct {
	client  *Client
	service string
}

func NewAuthClient(c *Client, service string) *AuthClient {
	if service == "" {
		service = AuthServiceName
	}
	return &AuthClient{client: c, service: service}
}

type validateResponse struct {
	Valid bool `json:"valid"`
	auth.User
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set(auth.HeaderAuthorization, auth.BearerHeader(token))
	return h
}

// ValidateToken POST /auth/validate，仅当响应 valid 为 true 时返回用户
func (a *AuthClient) ValidateToken(ctx context.Context, token string) (*auth.User, error) {
	resp, err := a.client.Do(ctx, &Request{
		Service:   a.service,
		Method:    http.MethodPost,
		Path:      "/auth/validate",
		Header:    bearer(token),
		Retryable: true,
	})
	if err != nil {
		if errs.IsClientRequest(err) {
			return nil, errs.WithCode(errs.Wrap(err, "invalid token"), errs.ErrorInvalidToken)
		}
		return nil, err
	}
	var out validateResponse
	if err := resp.JSON(&out); err != nil {
		return nil, errs.Wrap(err, "decode validate response")
	}
	if !out.Valid {
		return nil, errs.WithCode(errs.New("invalid token"), errs.ErrorInvalidToken)
	}
	user := out.User
	user.IsAuthenticated = true
	if user.Roles == nil {
		user.Roles = []string{}
	}
	return &user, nil
}

// VerifyToken 实现 auth.Verifier
func (a *AuthClient) VerifyToken(ctx context.Context, token string) (*auth.User, error) {
	return a.ValidateToken(ctx, token)
}

// UserInfo GET /auth/me
func (a *AuthClient) UserInfo(ctx context.Context, token string) (*auth.User, error) {
	user, err := DoJSON[auth.User](ctx, a.client, &Request{
		Service: a.service,
		Method:  http.MethodGet,
		Path:    "/auth/me",
		Header:  bearer(token),
	})
	if err != nil {
		return nil, err
	}
	user.IsAuthenticated = true
	return user, nil
}

// Health GET /health，body 中 status 为 healthy 才算健康
func (a *AuthClient) Health(ctx context.Context) bool {
	return a.client.HealthCheck(ctx, a.service)
}
