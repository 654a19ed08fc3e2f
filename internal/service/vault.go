package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/calgate/calgate/internal/model"
	"github.com/calgate/calgate/internal/secrets"
	"github.com/calgate/calgate/internal/store"
)

var (
	// ErrValidation is returned when a credential descriptor is missing a
	// mandatory field.
	ErrValidation = errors.New("client_id and client_secret are required")

	// ErrCredentialCorrupted is returned when a stored credential blob cannot
	// be decrypted. The record is unusable; it is never silently returned as
	// garbage.
	ErrCredentialCorrupted = errors.New("stored credentials are unusable")
)

// Vault stores and retrieves per-user calendar credentials. Descriptors are
// serialized and encrypted before they touch the datastore; the plaintext
// exists only in memory.
type Vault struct {
	store *store.Store
	box   *secrets.Box
}

// NewVault creates a Vault.
func NewVault(st *store.Store, box *secrets.Box) *Vault {
	return &Vault{store: st, box: box}
}

// Store validates, encrypts, and upserts a user's credential descriptor,
// overwriting any prior record. A descriptor missing client_id or
// client_secret fails with ErrValidation and leaves the prior record
// untouched.
func (v *Vault) Store(ctx context.Context, userID string, d model.CredentialDescriptor) error {
	if d.ClientID == "" || d.ClientSecret == "" {
		return ErrValidation
	}

	plaintext, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("serialize credentials: %w", err)
	}

	ciphertext, err := v.box.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}

	if err := v.store.UpsertCredential(ctx, userID, ciphertext); err != nil {
		return err
	}
	return nil
}

// Fetch decrypts and returns a user's credential descriptor, or nil when no
// record exists. A record that fails decryption yields
// ErrCredentialCorrupted.
func (v *Vault) Fetch(ctx context.Context, userID string) (*model.CredentialDescriptor, error) {
	rec, err := v.store.GetCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	plaintext, err := v.box.Decrypt(rec.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCredentialCorrupted, userID)
	}

	var d model.CredentialDescriptor
	if err := json.Unmarshal(plaintext, &d); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCredentialCorrupted, userID)
	}
	return &d, nil
}

// Status reports whether a user has credentials configured and when they
// were last updated, without decrypting anything.
func (v *Vault) Status(ctx context.Context, userID string) (configured bool, updatedAt time.Time, err error) {
	rec, err := v.store.GetCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, err
	}
	return true, rec.UpdatedAt, nil
}

// Delete removes a user's stored credentials. Reports whether a record
// existed.
func (v *Vault) Delete(ctx context.Context, userID string) (bool, error) {
	if err := v.store.DeleteCredential(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
