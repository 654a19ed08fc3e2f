package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/calgate/calgate/internal/model"
	"github.com/calgate/calgate/internal/store"
)

// keyPrefix is prepended to every generated API key so keys are easy to
// recognize in configs and logs.
const keyPrefix = "cal_"

// GeneratedKey is the one-time result of creating an API key. Key holds the
// raw secret; it is never persisted and never retrievable again.
type GeneratedKey struct {
	ID        int64     `json:"id"`
	Key       string    `json:"api_key"` // Plaintext, shown ONCE.
	Preview   string    `json:"key_preview"`
	CreatedAt time.Time `json:"created_at"`
}

// KeyIdentity is the resolved owner of a verified API key.
type KeyIdentity struct {
	KeyID  int64
	UserID string
}

// KeyService manages the lifecycle of per-user API keys: generation,
// verification, owner-scoped revocation, and listing.
type KeyService struct {
	store  *store.Store
	logger *slog.Logger
}

// NewKeyService creates a KeyService.
func NewKeyService(st *store.Store, logger *slog.Logger) *KeyService {
	return &KeyService{store: st, logger: logger}
}

// Generate creates a new API key for the given user. It produces a 32-byte
// random secret, persists only its SHA-256 hash plus a short preview, and
// returns the raw key exactly once.
func (s *KeyService) Generate(ctx context.Context, userID string) (*GeneratedKey, error) {
	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		return nil, fmt.Errorf("generate key material: %w", err)
	}
	plaintext := keyPrefix + hex.EncodeToString(rawBytes)

	key := &model.APIKey{
		UserID:     userID,
		KeyHash:    store.HashAPIKey(plaintext),
		KeyPreview: previewOf(plaintext),
		IsActive:   true,
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return nil, fmt.Errorf("save api key: %w", err)
	}

	return &GeneratedKey{
		ID:        key.ID,
		Key:       plaintext,
		Preview:   key.KeyPreview,
		CreatedAt: key.CreatedAt,
	}, nil
}

// Verify checks a raw API key against stored hashes and returns the owning
// identity. Unknown secrets, revoked keys, and malformed input all yield
// ErrInvalidCredentials so callers can't probe which keys exist. On success
// the usage counter and last-used timestamp are updated in the background;
// that update never blocks or fails the calling request.
func (s *KeyService) Verify(ctx context.Context, rawKey string) (*KeyIdentity, error) {
	key, err := s.store.GetAPIKeyByHash(ctx, store.HashAPIKey(rawKey))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("look up api key: %w", err)
	}

	if !key.IsActive {
		return nil, ErrInvalidCredentials
	}

	// Usage accounting is best-effort (fire and forget).
	go func(id int64) {
		if err := s.store.TouchAPIKey(context.Background(), id); err != nil {
			s.logger.Warn("api key usage update failed", "key_id", id, "error", err)
		}
	}(key.ID)

	return &KeyIdentity{KeyID: key.ID, UserID: key.UserID}, nil
}

// Revoke deactivates a key if and only if requestingUserID owns it. It
// reports false, not an error, when the key does not exist or belongs to
// another user; the two cases are deliberately indistinguishable.
func (s *KeyService) Revoke(ctx context.Context, keyID int64, requestingUserID string) (bool, error) {
	return s.store.RevokeAPIKeyOwned(ctx, keyID, requestingUserID)
}

// ListForUser returns the user's keys, most recent first. Listings expose
// previews only; the raw secret appears nowhere after Generate returns.
func (s *KeyService) ListForUser(ctx context.Context, userID string) ([]model.APIKey, error) {
	return s.store.ListAPIKeysForUser(ctx, userID)
}

// previewOf derives the stored preview from a raw key: enough leading and
// trailing characters to recognize the key without reconstructing it.
func previewOf(raw string) string {
	if len(raw) < 16 {
		return raw
	}
	return raw[:12] + "…" + raw[len(raw)-4:]
}
