package models

import "time"

// OAuthToken is one stored provider credential pair. Token material at
// rest is always ciphertext under the master secret.
type OAuthToken struct {
	Provider          string     `json:"provider" db:"provider"`
	UserID            string     `json:"user_id" db:"user_id"`
	AccessCiphertext  string     `json:"-" db:"access_ciphertext"`
	RefreshCiphertext string     `json:"-" db:"refresh_ciphertext"`
	Expiry            time.Time  `json:"expiry" db:"expiry"`
	Scopes            string     `json:"scopes,omitempty" db:"scopes"`
	Email             string     `json:"email,omitempty" db:"email"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}
