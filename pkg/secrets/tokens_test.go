package secrets

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/recall/pkg/models"
)

type memoryStore struct {
	tokens  map[string]*models.OAuthToken
	touched int
	getErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{tokens: make(map[string]*models.OAuthToken)}
}

func (s *memoryStore) key(provider, userID string) string { return provider + "/" + userID }

func (s *memoryStore) Get(ctx context.Context, provider, userID string) (*models.OAuthToken, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	token, ok := s.tokens[s.key(provider, userID)]
	if !ok {
		return nil, ErrTokenNotFound
	}
	copied := *token
	return &copied, nil
}

func (s *memoryStore) Upsert(ctx context.Context, token *models.OAuthToken) error {
	copied := *token
	s.tokens[s.key(token.Provider, token.UserID)] = &copied
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, provider, userID string) (bool, error) {
	key := s.key(provider, userID)
	if _, ok := s.tokens[key]; !ok {
		return false, nil
	}
	delete(s.tokens, key)
	return true, nil
}

func (s *memoryStore) Touch(ctx context.Context, provider, userID string, when time.Time) error {
	s.touched++
	if token, ok := s.tokens[s.key(provider, userID)]; ok {
		token.LastUsedAt = &when
	}
	return nil
}

type fakeRefresher struct {
	pair  *TokenPair
	err   error
	calls int
	last  string
}

func (f *fakeRefresher) Exchange(ctx context.Context, provider, refreshToken string) (*TokenPair, error) {
	f.calls++
	f.last = refreshToken
	if f.err != nil {
		return nil, f.err
	}
	copied := *f.pair
	return &copied, nil
}

type fakeRevoker struct {
	err   error
	calls int
}

func (f *fakeRevoker) Revoke(ctx context.Context, provider, accessToken string) error {
	f.calls++
	return f.err
}

func newTestManager(t *testing.T, store Store) *TokenManager {
	t.Helper()
	manager, err := NewTokenManager("unit-test-master-secret", []byte("install-salt"), store, nil)
	require.NoError(t, err)
	return manager
}

func TestTokenManager(t *testing.T) {
	ctx := context.Background()

	t.Run("SaveEncryptsAtRest", func(t *testing.T) {
		store := newMemoryStore()
		manager := newTestManager(t, store)

		pair := TokenPair{
			AccessToken:  "ya29.access",
			RefreshToken: "1//refresh",
			Expiry:       time.Now().Add(time.Hour),
			Scopes:       "gmail.readonly",
			Email:        "user@example.com",
		}
		require.NoError(t, manager.Save(ctx, "google", "user-1", pair))

		stored := store.tokens["google/user-1"]
		require.NotNil(t, stored)
		assert.NotEqual(t, "ya29.access", stored.AccessCiphertext)
		assert.NotEqual(t, "1//refresh", stored.RefreshCiphertext)
		assert.NotContains(t, stored.AccessCiphertext, "access")
		assert.Equal(t, "gmail.readonly", stored.Scopes)
	})

	t.Run("LoadDecryptsValidToken", func(t *testing.T) {
		store := newMemoryStore()
		manager := newTestManager(t, store)
		refresher := &fakeRefresher{}
		manager.WithRefresher(refresher)

		expiry := time.Now().Add(time.Hour).Truncate(time.Second)
		require.NoError(t, manager.Save(ctx, "google", "user-1", TokenPair{
			AccessToken:  "ya29.access",
			RefreshToken: "1//refresh",
			Expiry:       expiry,
		}))

		pair, err := manager.Load(ctx, "google", "user-1")
		require.NoError(t, err)
		assert.Equal(t, "ya29.access", pair.AccessToken)
		assert.Equal(t, "1//refresh", pair.RefreshToken)
		assert.Equal(t, 0, refresher.calls)
		assert.Equal(t, 1, store.touched)
	})

	t.Run("LoadRefreshesInsideWindow", func(t *testing.T) {
		store := newMemoryStore()
		manager := newTestManager(t, store)
		newExpiry := time.Now().Add(time.Hour).Truncate(time.Second)
		refresher := &fakeRefresher{pair: &TokenPair{
			AccessToken: "ya29.fresh",
			Expiry:      newExpiry,
		}}
		manager.WithRefresher(refresher)

		// Expires in two minutes, inside the five minute window.
		require.NoError(t, manager.Save(ctx, "google", "user-1", TokenPair{
			AccessToken:  "ya29.stale",
			RefreshToken: "1//refresh",
			Expiry:       time.Now().Add(2 * time.Minute),
		}))

		pair, err := manager.Load(ctx, "google", "user-1")
		require.NoError(t, err)
		assert.Equal(t, "ya29.fresh", pair.AccessToken)
		// Provider omitted the refresh token; the old one is kept.
		assert.Equal(t, "1//refresh", pair.RefreshToken)
		assert.Equal(t, 1, refresher.calls)
		assert.Equal(t, "1//refresh", refresher.last)

		// The refreshed pair was written back encrypted.
		reloaded, err := manager.Load(ctx, "google", "user-1")
		require.NoError(t, err)
		assert.Equal(t, "ya29.fresh", reloaded.AccessToken)
		assert.Equal(t, 1, refresher.calls)
	})

	t.Run("LoadExpiredWithoutRefresher", func(t *testing.T) {
		store := newMemoryStore()
		manager := newTestManager(t, store)
		require.NoError(t, manager.Save(ctx, "google", "user-1", TokenPair{
			AccessToken: "ya29.stale",
			Expiry:      time.Now().Add(-time.Minute),
		}))

		_, err := manager.Load(ctx, "google", "user-1")
		assert.ErrorIs(t, err, ErrNoRefresher)
	})

	t.Run("RefreshFailureSurfaced", func(t *testing.T) {
		store := newMemoryStore()
		manager := newTestManager(t, store)
		manager.WithRefresher(&fakeRefresher{err: assert.AnError})
		require.NoError(t, manager.Save(ctx, "google", "user-1", TokenPair{
			AccessToken:  "ya29.stale",
			RefreshToken: "1//refresh",
			Expiry:       time.Now().Add(-time.Minute),
		}))

		_, err := manager.Load(ctx, "google", "user-1")
		assert.ErrorIs(t, err, assert.AnError)
	})

	t.Run("RevokeDeletesDespiteRemoteFailure", func(t *testing.T) {
		store := newMemoryStore()
		manager := newTestManager(t, store)
		revoker := &fakeRevoker{err: assert.AnError}
		manager.WithRevoker(revoker)
		require.NoError(t, manager.Save(ctx, "google", "user-1", TokenPair{
			AccessToken: "ya29.access",
			Expiry:      time.Now().Add(time.Hour),
		}))

		require.NoError(t, manager.Revoke(ctx, "google", "user-1"))
		assert.Equal(t, 1, revoker.calls)
		assert.Empty(t, store.tokens)
	})

	t.Run("RevokeMissingToken", func(t *testing.T) {
		store := newMemoryStore()
		manager := newTestManager(t, store)
		err := manager.Revoke(ctx, "google", "missing")
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("WrongMasterSecretFailsDecrypt", func(t *testing.T) {
		store := newMemoryStore()
		manager := newTestManager(t, store)
		require.NoError(t, manager.Save(ctx, "google", "user-1", TokenPair{
			AccessToken: "ya29.access",
			Expiry:      time.Now().Add(time.Hour),
		}))

		other, err := NewTokenManager("different-secret", []byte("install-salt"), store, nil)
		require.NoError(t, err)
		_, err = other.Load(ctx, "google", "user-1")
		assert.Error(t, err)
	})

	t.Run("RequiresMasterSecretAndSalt", func(t *testing.T) {
		_, err := NewTokenManager("", []byte("salt"), newMemoryStore(), nil)
		assert.Error(t, err)
		_, err = NewTokenManager("secret", nil, newMemoryStore(), nil)
		assert.Error(t, err)
	})
}
