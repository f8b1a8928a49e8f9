package middleware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"SafeHaven/pkg/constant"
	"SafeHaven/pkg/errors"
	"SafeHaven/pkg/logger"
	"SafeHaven/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Claims 访问令牌载荷，sub 为用户 ID
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IdentityHook 认证成功后回调，如记录用户角色
type IdentityHook func(ctx context.Context, userID, role string) error

// Authenticator 校验 HS256 Bearer 令牌
type Authenticator struct {
	secret []byte
	hook   IdentityHook
	seen   *gocache.Cache
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// WithIdentityHook 同一用户同一角色在 every 内只回调一次
func (a *Authenticator) WithIdentityHook(hook IdentityHook, every time.Duration) *Authenticator {
	a.hook = hook
	if every > 0 {
		a.seen = gocache.New(every, 2*every)
	}
	return a
}

// Middleware 缺失或无效令牌返回 401；角色原样写入上下文，由权限层判定
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			response.Error(c, errors.Unauthenticated("missing bearer token"))
			return
		}
		claims, err := a.Parse(raw)
		if err != nil {
			response.Error(c, errors.Unauthenticated("invalid token"))
			return
		}
		userID, role := claims.Subject, strings.ToLower(strings.TrimSpace(claims.Role))

		c.Set(constant.UserField, userID)
		c.Set(constant.RoleField, role)
		a.observe(c.Request.Context(), userID, role)
		c.Next()
	}
}

// Parse 校验签名与有效期
func (a *Authenticator) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// IssueToken 签发令牌，供运维脚本与测试使用
func (a *Authenticator) IssueToken(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) observe(ctx context.Context, userID, role string) {
	if a.hook == nil {
		return
	}
	key := userID + "|" + role
	if a.seen != nil {
		if _, ok := a.seen.Get(key); ok {
			return
		}
		a.seen.SetDefault(key, struct{}{})
	}
	if err := a.hook(ctx, userID, role); err != nil {
		if a.seen != nil {
			a.seen.Delete(key)
		}
		logger.Warn("identity hook failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	// 浏览器 WebSocket 无法设置请求头
	if c.IsWebsocket() {
		return c.Query("token")
	}
	return ""
}
