package services

import (
	"context"
	"errors"

	"inventory-sync-service/internal/encryption"
	"inventory-sync-service/internal/models"
	"inventory-sync-service/internal/secrets"
)

// TokenStore persists store access tokens outside plain columns
type TokenStore interface {
	// PutToken stores a token and returns the values to keep on the store row.
	PutToken(ctx context.Context, domain, accessToken string) (secretReference, encryptedToken string, err error)
	GetToken(ctx context.Context, store *models.Store) (string, error)
	DeleteToken(ctx context.Context, store *models.Store) error
}

// SecretManagerTokenStore keeps tokens in GCP Secret Manager
type SecretManagerTokenStore struct {
	manager *secrets.GCPSecretManager
}

// NewSecretManagerTokenStore creates a Secret Manager backed token store
func NewSecretManagerTokenStore(manager *secrets.GCPSecretManager) *SecretManagerTokenStore {
	return &SecretManagerTokenStore{manager: manager}
}

func (t *SecretManagerTokenStore) PutToken(ctx context.Context, domain, accessToken string) (string, string, error) {
	ref, err := t.manager.PutToken(ctx, domain, accessToken)
	return ref, "", err
}

func (t *SecretManagerTokenStore) GetToken(ctx context.Context, store *models.Store) (string, error) {
	if store.SecretReference == "" {
		return "", errors.New("store has no secret reference")
	}
	return t.manager.GetToken(ctx, store.SecretReference)
}

func (t *SecretManagerTokenStore) DeleteToken(ctx context.Context, store *models.Store) error {
	if store.SecretReference == "" {
		return nil
	}
	return t.manager.DeleteToken(ctx, store.SecretReference)
}

// EncryptedTokenStore keeps AES-GCM encrypted tokens on the store row
type EncryptedTokenStore struct {
	cipher *encryption.TokenCipher
}

// NewEncryptedTokenStore creates a row-encrypting token store
func NewEncryptedTokenStore(cipher *encryption.TokenCipher) *EncryptedTokenStore {
	return &EncryptedTokenStore{cipher: cipher}
}

func (t *EncryptedTokenStore) PutToken(_ context.Context, _ string, accessToken string) (string, string, error) {
	enc, err := t.cipher.Encrypt(accessToken)
	return "", enc, err
}

func (t *EncryptedTokenStore) GetToken(_ context.Context, store *models.Store) (string, error) {
	if store.EncryptedToken == "" {
		return "", errors.New("store has no stored token")
	}
	return t.cipher.Decrypt(store.EncryptedToken)
}

func (t *EncryptedTokenStore) DeleteToken(context.Context, *models.Store) error {
	return nil
}
