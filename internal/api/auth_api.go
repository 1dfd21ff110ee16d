package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/S-Corkum/recall/internal/repository"
	"github.com/S-Corkum/recall/pkg/crypto"
	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/observability"
)

// AuthAPI issues and refreshes bearer tokens against the user store.
type AuthAPI struct {
	users  repository.UserRepository
	config AuthConfig
	logger observability.Logger
}

// NewAuthAPI creates the auth endpoints. Zero TTLs fall back to one
// hour for access tokens and thirty days for refresh tokens.
func NewAuthAPI(users repository.UserRepository, config AuthConfig, logger observability.Logger) *AuthAPI {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = time.Hour
	}
	if config.RefreshTokenTTL <= 0 {
		config.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	return &AuthAPI{users: users, config: config, logger: logger}
}

// RegisterRoutes mounts the auth endpoints. They sit outside the JWT
// middleware because they are how tokens are obtained.
func (a *AuthAPI) RegisterRoutes(router *gin.RouterGroup) {
	auth := router.Group("/auth")
	auth.POST("/token", a.issueTokens)
	auth.POST("/refresh", a.refreshTokens)
}

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// issueTokens is the password grant. All rejection paths return the
// same 401 so probes cannot distinguish unknown users from bad
// passwords.
func (a *AuthAPI) issueTokens(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.GrantType != "" && req.GrantType != "password" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported grant type"})
		return
	}

	user, err := a.users.GetByUsername(c.Request.Context(), req.Username)
	if err != nil || !user.IsActive || !crypto.VerifyPassword(req.Password, user.PasswordHash) {
		a.logger.Debug("Token request rejected", map[string]interface{}{
			"username": req.Username,
		})
		unauthorized(c, "invalid credentials")
		return
	}
	a.respondWithTokens(c, user)
}

// refreshTokens exchanges a live refresh token for a fresh pair. The
// user row is re-read so deactivation takes effect immediately.
func (a *AuthAPI) refreshTokens(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh_token is required"})
		return
	}

	claims, err := parseToken([]byte(a.config.JWTSecret), req.RefreshToken)
	if err != nil || claims.TokenType != tokenTypeRefresh {
		unauthorized(c, "invalid refresh token")
		return
	}

	user, err := a.users.GetByID(c.Request.Context(), claims.UserID)
	if err != nil || !user.IsActive {
		unauthorized(c, "account unavailable")
		return
	}
	a.respondWithTokens(c, user)
}

func (a *AuthAPI) respondWithTokens(c *gin.Context, user *models.User) {
	secret := []byte(a.config.JWTSecret)
	access, err := signToken(secret, user, a.config.Tenant, tokenTypeAccess, a.config.AccessTokenTTL)
	if err == nil {
		var refresh string
		refresh, err = signToken(secret, user, a.config.Tenant, tokenTypeRefresh, a.config.RefreshTokenTTL)
		if err == nil {
			c.JSON(http.StatusOK, tokenResponse{
				AccessToken:  access,
				RefreshToken: refresh,
				TokenType:    "Bearer",
				ExpiresIn:    int64(a.config.AccessTokenTTL.Seconds()),
			})
			return
		}
	}
	a.logger.Error("Token signing failed", map[string]interface{}{
		"user_id": user.ID,
		"error":   err.Error(),
	})
	c.JSON(http.StatusInternalServerError, gin.H{"error": "token signing failed"})
}
