package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/code-sigs/svcbox/pkg/errs"
	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

type JWTConfig struct {
	SecretKey  string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Claims jti/iss/exp/iat 由 StandardClaims 承载
type Claims struct {
	UserID    int64    `json:"user_id"`
	Username  string   `json:"username,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	TokenType string   `json:"token_type"`
	jwt.StandardClaims
}

type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Manager HS256 签发与校验
type Manager struct {
	cfg JWTConfig
	now func() time.Time
}

func NewManager(cfg JWTConfig) *Manager {
	if cfg.Issuer == "" {
		cfg.Issuer = "auth-service"
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	return &Manager{cfg: cfg, now: time.Now}
}

func (m *Manager) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(m.cfg.SecretKey))
	if err != nil {
		return "", errs.Wrap(err, "sign jwt")
	}
	return s, nil
}

func (m *Manager) CreateAccessToken(u *User) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.cfg.AccessTTL)
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	token, err := m.sign(&Claims{
		UserID:    u.ID,
		Username:  u.Username,
		Roles:     roles,
		TokenType: TokenTypeAccess,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: expiresAt.Unix(),
			IssuedAt:  now.Unix(),
			Issuer:    m.cfg.Issuer,
			Id:        uuid.NewString(),
		},
	})
	return token, expiresAt, err
}

// CreateRefreshToken 返回 token 与其 jti
func (m *Manager) CreateRefreshToken(userID int64) (string, string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.cfg.RefreshTTL)
	tokenID := uuid.NewString()
	token, err := m.sign(&Claims{
		UserID:    userID,
		TokenType: TokenTypeRefresh,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: expiresAt.Unix(),
			IssuedAt:  now.Unix(),
			Issuer:    m.cfg.Issuer,
			Id:        tokenID,
		},
	})
	return token, tokenID, expiresAt, err
}

func (m *Manager) CreateTokenPair(u *User) (*TokenPair, error) {
	access, exp, err := m.CreateAccessToken(u)
	if err != nil {
		return nil, err
	}
	refresh, _, refreshExp, err := m.CreateRefreshToken(u.ID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "bearer",
		ExpiresAt:        exp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Parse 校验签名、签名算法、过期时间与签发者
func (m *Manager) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parser := &jwt.Parser{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(m.cfg.SecretKey), nil
	})
	if err != nil {
		return nil, invalidToken(err)
	}
	if !token.Valid {
		return nil, invalidToken(nil)
	}
	if !claims.VerifyIssuer(m.cfg.Issuer, true) {
		return nil, invalidToken(fmt.Errorf("unexpected issuer %q", claims.Issuer))
	}
	return claims, nil
}

// Refresh 用 refresh token 换新的 access token
func (m *Manager) Refresh(refreshToken string, u *User) (string, time.Time, error) {
	claims, err := m.Parse(refreshToken)
	if err != nil {
		return "", time.Time{}, err
	}
	if claims.TokenType != TokenTypeRefresh || claims.UserID != u.ID {
		return "", time.Time{}, invalidToken(fmt.Errorf("not a refresh token for user %d", u.ID))
	}
	return m.CreateAccessToken(u)
}

// VerifyToken 本地校验 access token，实现 Verifier
func (m *Manager) VerifyToken(ctx context.Context, token string) (*User, error) {
	claims, err := m.Parse(token)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAccess {
		return nil, invalidToken(fmt.Errorf("token type %q", claims.TokenType))
	}
	return &User{
		ID:              claims.UserID,
		Username:        claims.Username,
		Roles:           claims.Roles,
		IsAuthenticated: true,
	}, nil
}

func invalidToken(cause error) error {
	if cause == nil {
		return errs.WithCode(errs.New("invalid token"), errs.ErrorInvalidToken)
	}
	return errs.WithCode(errs.Wrap(cause, "invalid token"), errs.ErrorInvalidToken)
}

// IsInvalidToken 区分 token 无效与认证服务不可用
func IsInvalidToken(err error) bool {
	return errs.Code(err) == errs.ErrorInvalidToken
}
