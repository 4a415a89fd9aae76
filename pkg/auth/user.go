package auth

import (
	"context"
	"slices"
)

const RoleAdmin = "admin"

type User struct {
	ID              int64    `json:"user_id,omitempty"`
	Username        string   `json:"username"`
	Email           string   `json:"email,omitempty"`
	Roles           []string `json:"roles"`
	Permissions     []string `json:"permissions,omitempty"`
	IsAuthenticated bool     `json:"is_authenticated"`
}

// Anonymous 未认证或认证服务不可用时的降级用户
func Anonymous() *User {
	return &User{Username: "anonymous", Roles: []string{}}
}

func (u *User) HasRole(role string) bool {
	return u != nil && slices.Contains(u.Roles, role)
}

func (u *User) HasPermission(permission string) bool {
	return u != nil && slices.Contains(u.Permissions, permission)
}

func (u *User) IsAdmin() bool {
	return u.HasRole(RoleAdmin)
}

type userKey struct{}

func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext 没有用户时返回 Anonymous
func UserFromContext(ctx context.Context) *User {
	if ctx != nil {
		if u, ok := ctx.Value(userKey{}).(*User); ok && u != nil {
			return u
		}
	}
	return Anonymous()
}

// Verifier 校验 token 并返回用户
// token 无效时返回 ErrorInvalidToken 错误码的错误，其他错误视为认证服务不可用
type Verifier interface {
	VerifyToken(ctx context.Context, token string) (*User, error)
}
