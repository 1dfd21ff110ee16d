package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/S-Corkum/recall/internal/database"
	"github.com/S-Corkum/recall/pkg/models"
	"github.com/S-Corkum/recall/pkg/secrets"
)

// OAuthTokenRepository persists encrypted token rows. It satisfies
// secrets.Store so the token manager never sees SQL.
type OAuthTokenRepository interface {
	secrets.Store
	ListByUser(ctx context.Context, userID string) ([]*models.OAuthToken, error)
}

type oauthTokenRepository struct {
	db *sqlx.DB
}

// NewOAuthTokenRepository creates a postgres-backed OAuthTokenRepository.
func NewOAuthTokenRepository(db *sqlx.DB) OAuthTokenRepository {
	return &oauthTokenRepository{db: db}
}

const tokenColumns = `provider, user_id, access_ciphertext, refresh_ciphertext,
	expiry, scopes, email, last_used_at`

func (r *oauthTokenRepository) Get(ctx context.Context, provider, userID string) (*models.OAuthToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM oauth_tokens WHERE provider = $1 AND user_id = $2`

	var token models.OAuthToken
	err := r.db.GetContext(ctx, &token, query, provider, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get oauth token: %w", err)
	}
	return &token, nil
}

func (r *oauthTokenRepository) Upsert(ctx context.Context, token *models.OAuthToken) error {
	query := `
		INSERT INTO oauth_tokens (
			provider, user_id, access_ciphertext, refresh_ciphertext,
			expiry, scopes, email, last_used_at
		) VALUES (
			:provider, :user_id, :access_ciphertext, :refresh_ciphertext,
			:expiry, :scopes, :email, :last_used_at
		)
		ON CONFLICT (provider, user_id) DO UPDATE SET
			access_ciphertext = EXCLUDED.access_ciphertext,
			refresh_ciphertext = EXCLUDED.refresh_ciphertext,
			expiry = EXCLUDED.expiry,
			scopes = EXCLUDED.scopes,
			email = EXCLUDED.email`

	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("failed to upsert oauth token: %w", err)
	}
	return nil
}

func (r *oauthTokenRepository) Delete(ctx context.Context, provider, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM oauth_tokens WHERE provider = $1 AND user_id = $2`, provider, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete oauth token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return rows > 0, nil
}

func (r *oauthTokenRepository) Touch(ctx context.Context, provider, userID string, when time.Time) error {
	query := `UPDATE oauth_tokens SET last_used_at = $3 WHERE provider = $1 AND user_id = $2`

	if _, err := r.db.ExecContext(ctx, query, provider, userID, when.UTC()); err != nil {
		return fmt.Errorf("failed to touch oauth token: %w", err)
	}
	return nil
}

func (r *oauthTokenRepository) ListByUser(ctx context.Context, userID string) ([]*models.OAuthToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM oauth_tokens WHERE user_id = $1 ORDER BY provider`

	var tokens []*models.OAuthToken
	if err := r.db.SelectContext(ctx, &tokens, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list oauth tokens: %w", err)
	}
	return tokens, nil
}
