package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"

	"github.com/S-Corkum/recall/pkg/models"
)

// Context keys set by the auth middleware for downstream handlers.
const (
	ctxUserID   = "user_id"
	ctxTenantID = "tenant_id"
	ctxRole     = "role"
)

// Token types embedded in claims. A refresh token cannot call the API
// and an access token cannot be exchanged for a new pair.
const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var errTokenInvalid = errors.New("invalid token")

// Claims is the JWT payload shared by access and refresh tokens.
type Claims struct {
	UserID    string `json:"user_id"`
	TenantID  string `json:"tenant_id"`
	Role      string `json:"role"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

func signToken(secret []byte, user *models.User, tenant, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:    user.ID,
		TenantID:  tenant,
		Role:      string(user.Role),
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func parseToken(secret []byte, raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errTokenInvalid
	}
	return claims, nil
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}

// jwtAuth guards the versioned API. Only access tokens pass; the
// authenticated identity is stashed on the request context.
func (s *Server) jwtAuth() gin.HandlerFunc {
	secret := []byte(s.config.Auth.JWTSecret)
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			unauthorized(c, "missing bearer token")
			return
		}
		claims, err := parseToken(secret, raw)
		if err != nil {
			unauthorized(c, "invalid or expired token")
			return
		}
		if claims.TokenType != tokenTypeAccess {
			unauthorized(c, "token cannot access the API")
			return
		}
		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxTenantID, claims.TenantID)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// apiKeyAuth guards operational endpoints with static keys from config.
func (s *Server) apiKeyAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-Key")
		if key == "" {
			key = bearerToken(c.GetHeader("Authorization"))
		}
		if key == "" || !s.validAPIKey(key) {
			unauthorized(c, "invalid api key")
			return
		}
		c.Next()
	}
}

func (s *Server) validAPIKey(key string) bool {
	for _, configured := range s.config.Auth.APIKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(configured)) == 1 {
			return true
		}
	}
	return false
}

// adminOnly layers on jwtAuth and rejects everything below admin.
func adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxRole) != string(models.RoleAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}
