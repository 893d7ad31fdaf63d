// Package vault provides encrypted access to per-store provider credentials
// with a plaintext fallback during the encryption migration window.
package vault

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/payper/payper-api/internal/gateway"
)

var (
	// ErrNotConnected means the store has no usable provider credential.
	// Terminal until the store reconnects to the provider.
	ErrNotConnected = errors.New("store not connected to payment provider")
	// ErrRefreshFailed means the provider rejected the refresh exchange or no
	// refresh token exists. The previous access token is left untouched.
	ErrRefreshFailed = errors.New("failed to refresh access token")
)

// Service is the secret vault accessor
type Service struct {
	db      *Database
	cipher  *Cipher
	gateway gateway.API

	warnMu sync.Mutex
	warned map[string]bool // stores already warned about plaintext fallback
}

func NewService(gormDB *gorm.DB, cipher *Cipher, gw gateway.API) *Service {
	return &Service{
		db:      NewDatabase(gormDB),
		cipher:  cipher,
		gateway: gw,
		warned:  make(map[string]bool),
	}
}

// GetAccessToken returns the store's provider access token, decrypting the
// vault row when the store has migrated or falling back to the legacy
// plaintext column when it has not.
func (s *Service) GetAccessToken(storeID string) (string, error) {
	store, err := s.db.GetStore(storeID)
	if err != nil {
		return "", err
	}
	if store == nil {
		return "", ErrNotConnected
	}

	if store.SecretsEncrypted {
		return s.decryptSecret(storeID, SecretAccessToken)
	}

	s.warnPlaintextOnce(storeID)
	if store.AccessToken == "" {
		return "", ErrNotConnected
	}
	return store.AccessToken, nil
}

// GetRefreshToken returns the store's refresh token via the same read path
func (s *Service) GetRefreshToken(storeID string) (string, error) {
	store, err := s.db.GetStore(storeID)
	if err != nil {
		return "", err
	}
	if store == nil {
		return "", ErrNotConnected
	}

	if store.SecretsEncrypted {
		return s.decryptSecret(storeID, SecretRefreshToken)
	}

	s.warnPlaintextOnce(storeID)
	if store.RefreshToken == "" {
		return "", ErrNotConnected
	}
	return store.RefreshToken, nil
}

// StoreTokens encrypts and persists a token pair. The secrets_encrypted flag
// flips true only after both rows are durably stored, so a partial failure
// leaves the store on the legacy read path and eligible for retry.
func (s *Service) StoreTokens(storeID, accessToken, refreshToken string, ttl time.Duration) error {
	logger := log.With().
		Str("service", "vault").
		Str("store_id", storeID).
		Logger()

	var expiresAt *time.Time
	if SecretAccessToken.Expires() && ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	ciphertext, nonce, err := s.cipher.Encrypt(accessToken)
	if err != nil {
		return err
	}
	if err := s.db.UpsertSecret(storeID, SecretAccessToken, ciphertext, nonce, expiresAt); err != nil {
		logger.Error().Err(err).Msg("failed to store access token")
		return err
	}

	if refreshToken != "" {
		ciphertext, nonce, err := s.cipher.Encrypt(refreshToken)
		if err != nil {
			return err
		}
		if err := s.db.UpsertSecret(storeID, SecretRefreshToken, ciphertext, nonce, nil); err != nil {
			logger.Error().Err(err).Msg("failed to store refresh token")
			return err
		}
	}

	if err := s.db.MarkStoreEncrypted(storeID); err != nil {
		return err
	}

	logger.Info().Msg("stored encrypted provider tokens")
	return nil
}

// RefreshAccessToken exchanges the store's refresh token for a rotated pair
// and stores it. On any failure the existing tokens are left untouched:
// failing closed here is preferable to bricking future payments.
//
// The refresh is deliberately not mutex-protected. Two concurrent refreshes
// both obtain valid tokens and the last write wins.
func (s *Service) RefreshAccessToken(ctx context.Context, storeID string) (string, error) {
	logger := log.With().
		Str("service", "vault").
		Str("store_id", storeID).
		Logger()

	refreshToken, err := s.GetRefreshToken(storeID)
	if err != nil || refreshToken == "" {
		logger.Warn().Msg("no refresh token available")
		return "", ErrRefreshFailed
	}

	grant, err := s.gateway.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		logger.Error().Err(err).Msg("provider rejected token refresh")
		return "", ErrRefreshFailed
	}

	ttl := time.Duration(grant.ExpiresIn) * time.Second
	if err := s.StoreTokens(storeID, grant.AccessToken, grant.RefreshToken, ttl); err != nil {
		return "", err
	}

	logger.Info().Msg("rotated provider tokens")
	return grant.AccessToken, nil
}

func (s *Service) decryptSecret(storeID string, secretType SecretType) (string, error) {
	secret, err := s.db.GetSecret(storeID, secretType)
	if err != nil {
		return "", err
	}
	if secret == nil {
		return "", ErrNotConnected
	}

	return s.cipher.Decrypt(secret.Ciphertext, secret.Nonce)
}

func (s *Service) warnPlaintextOnce(storeID string) {
	s.warnMu.Lock()
	defer s.warnMu.Unlock()

	if s.warned[storeID] {
		return
	}
	s.warned[storeID] = true

	log.Warn().
		Str("service", "vault").
		Str("store_id", storeID).
		Msg("using plaintext provider token, store not migrated to encrypted secrets")
}
