package auth

import (
	"fmt"
	"net/http"

	"github.com/code-sigs/svcbox/internal/handler"
	"github.com/code-sigs/svcbox/pkg/errs"
	"github.com/code-sigs/svcbox/pkg/logger"
	"github.com/gin-gonic/gin"
)

const ginUserKey = "svcbox.user"

// Middleware 将入站 bearer token 写入请求 ctx，供下游调用透传
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := FromRequest(c.Request); ok {
			c.Request = c.Request.WithContext(WithToken(c.Request.Context(), token))
		}
		c.Next()
	}
}

// RequireUser 必须携带有效 token
func RequireUser(v Verifier) gin.HandlerFunc {
	return authenticate(v, false)
}

// OptionalUser token 缺失、无效或认证服务不可用时降级为匿名用户
func OptionalUser(v Verifier) gin.HandlerFunc {
	return authenticate(v, true)
}

func authenticate(v Verifier, allowAnonymous bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		token, ok := FromRequest(c.Request)
		if !ok {
			if allowAnonymous {
				setUser(c, Anonymous())
				c.Next()
				return
			}
			c.Header("WWW-Authenticate", "Bearer")
			handler.Fail(c, http.StatusUnauthorized, errs.ErrorUnauthorized, "Authentication required")
			return
		}
		ctx = WithToken(ctx, token)
		c.Request = c.Request.WithContext(ctx)

		if v == nil {
			logger.Warnw(ctx, "auth verifier not configured")
			if allowAnonymous {
				setUser(c, Anonymous())
				c.Next()
				return
			}
			handler.Fail(c, http.StatusServiceUnavailable, errs.ErrorServiceUnavailable, "Authentication service unavailable")
			return
		}

		user, err := v.VerifyToken(ctx, token)
		switch {
		case err == nil && user != nil:
			user.IsAuthenticated = true
			setUser(c, user)
			c.Next()
		case allowAnonymous:
			logger.Infow(ctx, "token rejected or auth unavailable, fallback to anonymous", "err", err)
			setUser(c, Anonymous())
			c.Next()
		case err == nil || IsInvalidToken(err):
			c.Header("WWW-Authenticate", "Bearer")
			handler.Fail(c, http.StatusUnauthorized, errs.ErrorInvalidToken, "Invalid token")
		default:
			logger.Errorw(ctx, "auth service error", "err", err)
			handler.Fail(c, http.StatusServiceUnavailable, errs.ErrorServiceUnavailable, "Authentication service unavailable")
		}
	}
}

func setUser(c *gin.Context, u *User) {
	c.Set(ginUserKey, u)
	c.Request = c.Request.WithContext(WithUser(c.Request.Context(), u))
}

// CurrentUser 没有认证中间件时返回匿名用户
func CurrentUser(c *gin.Context) *User {
	if v, ok := c.Get(ginUserKey); ok {
		if u, ok := v.(*User); ok && u != nil {
			return u
		}
	}
	return UserFromContext(c.Request.Context())
}

// RequireRole 需放在 RequireUser/OptionalUser 之后
func RequireRole(role string) gin.HandlerFunc {
	return guard(fmt.Sprintf("role '%s'", role), func(u *User) bool { return u.HasRole(role) })
}

func RequireAdmin() gin.HandlerFunc {
	return guard("admin access", (*User).IsAdmin)
}

func RequirePermission(permission string) gin.HandlerFunc {
	return guard(fmt.Sprintf("permission '%s'", permission), func(u *User) bool { return u.HasPermission(permission) })
}

func guard(what string, allowed func(*User) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		u := CurrentUser(c)
		if !u.IsAuthenticated {
			handler.Fail(c, http.StatusUnauthorized, errs.ErrorUnauthorized, "Authentication required for "+what)
			return
		}
		if !allowed(u) {
			handler.Fail(c, http.StatusForbidden, errs.ErrorNoPermission, what+" required")
			return
		}
		c.Next()
	}
}
