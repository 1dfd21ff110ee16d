// Package secrets stores OAuth token pairs encrypted under a key
// derived from the install's master secret. Token material at rest is
// always ciphertext.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/S-Corkum/recall/pkg/crypto"
	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/observability"
)

// RefreshWindow is how far before expiry a token is refreshed on load.
const RefreshWindow = 5 * time.Minute

var (
	// ErrTokenNotFound is returned when no token is stored for the
	// provider and user.
	ErrTokenNotFound = errors.New("token not found")
	// ErrNoRefresher is returned when a token needs refreshing but no
	// refresher is configured.
	ErrNoRefresher = errors.New("token expired and no refresher configured")
)

// TokenPair is a decrypted provider token pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scopes       string
	Email        string
}

// Store persists encrypted token rows.
type Store interface {
	Get(ctx context.Context, provider, userID string) (*models.OAuthToken, error)
	Upsert(ctx context.Context, token *models.OAuthToken) error
	Delete(ctx context.Context, provider, userID string) (bool, error)
	Touch(ctx context.Context, provider, userID string, when time.Time) error
}

// Refresher exchanges a refresh token for a new pair. The exchange is a
// provider HTTP call and lives outside this package.
type Refresher interface {
	Exchange(ctx context.Context, provider, refreshToken string) (*TokenPair, error)
}

// Revoker revokes a token with the remote provider. Remote revocation
// is best-effort; local deletion proceeds regardless.
type Revoker interface {
	Revoke(ctx context.Context, provider, accessToken string) error
}

// TokenManager encrypts, stores, refreshes, and revokes OAuth tokens.
type TokenManager struct {
	cipher    *crypto.Cipher
	store     Store
	refresher Refresher
	revoker   Revoker
	logger    observability.Logger
	now       func() time.Time
}

// NewTokenManager derives the vault key from the master secret with
// PBKDF2-HMAC-SHA256 and the install salt.
func NewTokenManager(masterSecret string, salt []byte, store Store, logger observability.Logger) (*TokenManager, error) {
	if masterSecret == "" {
		return nil, errors.New("master secret is required")
	}
	if len(salt) == 0 {
		return nil, errors.New("install salt is required")
	}
	key := crypto.DeriveKey(masterSecret, salt, crypto.DefaultKeyIterations)
	cipher, err := crypto.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to build token cipher: %w", err)
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &TokenManager{
		cipher: cipher,
		store:  store,
		logger: logger,
		now:    time.Now,
	}, nil
}

// WithRefresher wires the provider exchange used for proactive refresh.
func (m *TokenManager) WithRefresher(r Refresher) *TokenManager {
	m.refresher = r
	return m
}

// WithRevoker wires the remote revocation call.
func (m *TokenManager) WithRevoker(r Revoker) *TokenManager {
	m.revoker = r
	return m
}

// Save encrypts and stores a token pair for the provider and user.
func (m *TokenManager) Save(ctx context.Context, provider, userID string, pair TokenPair) error {
	if provider == "" || userID == "" {
		return errors.New("provider and user id are required")
	}
	if pair.AccessToken == "" {
		return errors.New("access token is required")
	}

	record, err := m.encrypt(provider, userID, pair)
	if err != nil {
		return err
	}
	if err := m.store.Upsert(ctx, record); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	m.logger.Info("token stored", map[string]interface{}{
		"provider": provider,
		"user_id":  userID,
		"expiry":   pair.Expiry.Format(time.RFC3339),
	})
	return nil
}

// Load returns a usable token pair, refreshing first when the stored
// pair is inside the refresh window. The refreshed pair is re-encrypted
// and written back before it is returned.
func (m *TokenManager) Load(ctx context.Context, provider, userID string) (*TokenPair, error) {
	record, err := m.store.Get(ctx, provider, userID)
	if err != nil {
		return nil, err
	}

	pair, err := m.decrypt(record)
	if err != nil {
		return nil, err
	}

	if m.now().Before(record.Expiry.Add(-RefreshWindow)) {
		m.touch(ctx, provider, userID)
		return pair, nil
	}

	if m.refresher == nil {
		return nil, ErrNoRefresher
	}
	fresh, err := m.refresher.Exchange(ctx, provider, pair.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	// Providers may omit the refresh token on renewal; keep the old one.
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = pair.RefreshToken
	}
	if fresh.Scopes == "" {
		fresh.Scopes = pair.Scopes
	}
	if fresh.Email == "" {
		fresh.Email = pair.Email
	}

	record, err = m.encrypt(provider, userID, *fresh)
	if err != nil {
		return nil, err
	}
	if err := m.store.Upsert(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store refreshed token: %w", err)
	}

	m.logger.Info("token refreshed", map[string]interface{}{
		"provider": provider,
		"user_id":  userID,
		"expiry":   fresh.Expiry.Format(time.RFC3339),
	})
	m.touch(ctx, provider, userID)
	return fresh, nil
}

// Revoke deletes the stored token. Remote revocation is attempted when
// a revoker is configured, but the row is deleted even when the remote
// call fails.
func (m *TokenManager) Revoke(ctx context.Context, provider, userID string) error {
	if m.revoker != nil {
		if record, err := m.store.Get(ctx, provider, userID); err == nil {
			if pair, err := m.decrypt(record); err == nil {
				if err := m.revoker.Revoke(ctx, provider, pair.AccessToken); err != nil {
					m.logger.Warn("remote token revocation failed", map[string]interface{}{
						"provider": provider,
						"user_id":  userID,
						"error":    err.Error(),
					})
				}
			}
		}
	}

	deleted, err := m.store.Delete(ctx, provider, userID)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	if !deleted {
		return ErrTokenNotFound
	}

	m.logger.Info("token revoked", map[string]interface{}{
		"provider": provider,
		"user_id":  userID,
	})
	return nil
}

func (m *TokenManager) encrypt(provider, userID string, pair TokenPair) (*models.OAuthToken, error) {
	access, err := m.cipher.EncryptString(pair.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	var refresh string
	if pair.RefreshToken != "" {
		refresh, err = m.cipher.EncryptString(pair.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	}
	return &models.OAuthToken{
		Provider:          provider,
		UserID:            userID,
		AccessCiphertext:  access,
		RefreshCiphertext: refresh,
		Expiry:            pair.Expiry,
		Scopes:            pair.Scopes,
		Email:             pair.Email,
	}, nil
}

func (m *TokenManager) decrypt(record *models.OAuthToken) (*TokenPair, error) {
	access, err := m.cipher.DecryptString(record.AccessCiphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	var refresh string
	if record.RefreshCiphertext != "" {
		refresh, err = m.cipher.DecryptString(record.RefreshCiphertext)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
		}
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		Expiry:       record.Expiry,
		Scopes:       record.Scopes,
		Email:        record.Email,
	}, nil
}

// touch records usage, best-effort.
func (m *TokenManager) touch(ctx context.Context, provider, userID string) {
	if err := m.store.Touch(ctx, provider, userID, m.now().UTC()); err != nil {
		m.logger.Debug("failed to update token last_used_at", map[string]interface{}{
			"provider": provider,
			"user_id":  userID,
			"error":    err.Error(),
		})
	}
}
