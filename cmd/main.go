package main

import (
	"context"
	"net/http"
	"os"

	"github.com/code-sigs/svcbox/pkg/auth"
	"github.com/code-sigs/svcbox/pkg/box"
	"github.com/code-sigs/svcbox/pkg/client"
	"github.com/code-sigs/svcbox/pkg/config"
	"github.com/code-sigs/svcbox/pkg/errs"
	"github.com/code-sigs/svcbox/pkg/logger"
	"github.com/code-sigs/svcbox/pkg/router"
)

type OrderRequest struct {
	ID int64 `uri:"id" binding:"required"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type OrderResponse struct {
	ID    int64 `json:"id"`
	Owner *User `json:"owner"`
}

type TokenRequest struct {
	UserID   int64  `json:"user_id" binding:"required"`
	Username string `json:"username" binding:"required"`
}

// orderService 演示通过注册中心调用 user-service，token 与 traceID 自动透传
type orderService struct {
	client *client.Client
}

func (s *orderService) Get(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	owner, err := client.DoJSON[User](ctx, s.client, &client.Request{
		Service: "user-service",
		Method:  http.MethodGet,
		Path:    "/api/v1/users/me",
	})
	if err != nil {
		return nil, err
	}
	return &OrderResponse{ID: req.ID, Owner: owner}, nil
}

func main() {
	cfg, err := config.Load(os.Getenv("SVCBOX_CONFIG"))
	if err != nil {
		logger.Errorf(context.Background(), "load config: %v", err)
		os.Exit(1)
	}
	b, err := box.New(cfg)
	if err != nil {
		logger.Errorf(context.Background(), "init box: %v", err)
		os.Exit(1)
	}

	orders := &orderService{client: b.Client}
	api := b.Router.Group("/api/v1", auth.RequireUser(b.Verifier))
	api.GET("/orders/:id", router.Typed(api, orders.Get))

	if b.Tokens != nil {
		b.Router.POST("/auth/token", router.Typed(b.Router, func(ctx context.Context, req *TokenRequest) (*auth.TokenPair, error) {
			if req.UserID <= 0 {
				return nil, errs.WithCode(errs.New("user_id must be positive"), errs.ErrorArgs)
			}
			return b.Tokens.CreateTokenPair(&auth.User{ID: req.UserID, Username: req.Username, Roles: []string{"user"}})
		}))
	}

	if err := b.Run(); err != nil {
		logger.Errorf(context.Background(), "server exited: %v", err)
		os.Exit(1)
	}
}
