package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/payper/payper-api/internal/gateway"
	"github.com/payper/payper-api/internal/types"
)

const testVaultKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.Store{}, &EncryptedSecret{}))
	return db
}

// stubGateway satisfies gateway.API for token rotation tests
type stubGateway struct {
	gateway.API
	grant *gateway.TokenGrant
	err   error

	gotRefreshToken string
}

func (s *stubGateway) RefreshAccessToken(_ context.Context, refreshToken string) (*gateway.TokenGrant, error) {
	s.gotRefreshToken = refreshToken
	if s.err != nil {
		return nil, s.err
	}
	return s.grant, nil
}

func newTestService(t *testing.T, db *gorm.DB, gw gateway.API) *Service {
	cipher, err := NewCipher(testVaultKey)
	require.NoError(t, err)
	return NewService(db, cipher, gw)
}

func TestGetAccessTokenPlaintextFallback(t *testing.T) {
	db := setupTestDB(t)
	service := newTestService(t, db, &stubGateway{})

	require.NoError(t, db.Create(&types.Store{
		StoreID:          "store-1",
		Name:             "Legacy Store",
		Slug:             "legacy-store",
		AccessToken:      "PLAIN-ACCESS",
		RefreshToken:     "PLAIN-REFRESH",
		SecretsEncrypted: false,
	}).Error)

	token, err := service.GetAccessToken("store-1")
	require.NoError(t, err)
	assert.Equal(t, "PLAIN-ACCESS", token)

	refresh, err := service.GetRefreshToken("store-1")
	require.NoError(t, err)
	assert.Equal(t, "PLAIN-REFRESH", refresh)
}

func TestGetAccessTokenNotConnected(t *testing.T) {
	db := setupTestDB(t)
	service := newTestService(t, db, &stubGateway{})

	_, err := service.GetAccessToken("missing-store")
	assert.ErrorIs(t, err, ErrNotConnected)

	// Store exists but has neither encrypted nor plaintext credentials
	require.NoError(t, db.Create(&types.Store{
		StoreID: "store-empty",
		Name:    "Empty",
		Slug:    "empty",
	}).Error)

	_, err = service.GetAccessToken("store-empty")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestStoreTokensMigratesToEncryptedPath(t *testing.T) {
	db := setupTestDB(t)
	service := newTestService(t, db, &stubGateway{})

	require.NoError(t, db.Create(&types.Store{
		StoreID:     "store-1",
		Name:        "Cafe",
		Slug:        "cafe",
		AccessToken: "OLD-PLAINTEXT",
	}).Error)

	require.NoError(t, service.StoreTokens("store-1", "NEW-ACCESS", "NEW-REFRESH", 6*time.Hour))

	var store types.Store
	require.NoError(t, db.Where("store_id = ?", "store-1").First(&store).Error)
	assert.True(t, store.SecretsEncrypted)

	// Reads now come from the vault, not the legacy column
	token, err := service.GetAccessToken("store-1")
	require.NoError(t, err)
	assert.Equal(t, "NEW-ACCESS", token)

	refresh, err := service.GetRefreshToken("store-1")
	require.NoError(t, err)
	assert.Equal(t, "NEW-REFRESH", refresh)

	// At rest the value is sealed
	var secret EncryptedSecret
	require.NoError(t, db.Where("store_id = ? AND secret_type = ?", "store-1", SecretAccessToken).First(&secret).Error)
	assert.NotContains(t, string(secret.Ciphertext), "NEW-ACCESS")
	assert.NotNil(t, secret.ExpiresAt)
	assert.Equal(t, 1, secret.Version)
}

func TestStoreTokensRotatesInPlace(t *testing.T) {
	db := setupTestDB(t)
	service := newTestService(t, db, &stubGateway{})

	require.NoError(t, db.Create(&types.Store{StoreID: "store-1", Name: "Cafe", Slug: "cafe"}).Error)

	require.NoError(t, service.StoreTokens("store-1", "ACCESS-V1", "REFRESH-V1", time.Hour))
	require.NoError(t, service.StoreTokens("store-1", "ACCESS-V2", "REFRESH-V2", time.Hour))

	token, err := service.GetAccessToken("store-1")
	require.NoError(t, err)
	assert.Equal(t, "ACCESS-V2", token)

	// Rotation bumps the version on the same row rather than adding rows
	var count int64
	db.Model(&EncryptedSecret{}).Where("store_id = ? AND secret_type = ?", "store-1", SecretAccessToken).Count(&count)
	assert.Equal(t, int64(1), count)

	var secret EncryptedSecret
	require.NoError(t, db.Where("store_id = ? AND secret_type = ?", "store-1", SecretAccessToken).First(&secret).Error)
	assert.Equal(t, 2, secret.Version)
}

func TestRefreshAccessTokenRotatesPair(t *testing.T) {
	db := setupTestDB(t)
	gw := &stubGateway{grant: &gateway.TokenGrant{
		AccessToken:  "ROTATED-ACCESS",
		RefreshToken: "ROTATED-REFRESH",
		ExpiresIn:    21600,
	}}
	service := newTestService(t, db, gw)

	require.NoError(t, db.Create(&types.Store{StoreID: "store-1", Name: "Cafe", Slug: "cafe"}).Error)
	require.NoError(t, service.StoreTokens("store-1", "OLD-ACCESS", "OLD-REFRESH", time.Hour))

	token, err := service.RefreshAccessToken(context.Background(), "store-1")
	require.NoError(t, err)
	assert.Equal(t, "ROTATED-ACCESS", token)
	assert.Equal(t, "OLD-REFRESH", gw.gotRefreshToken)

	refresh, err := service.GetRefreshToken("store-1")
	require.NoError(t, err)
	assert.Equal(t, "ROTATED-REFRESH", refresh)
}

func TestRefreshAccessTokenFailsClosed(t *testing.T) {
	db := setupTestDB(t)
	gw := &stubGateway{err: errors.New("invalid_grant")}
	service := newTestService(t, db, gw)

	require.NoError(t, db.Create(&types.Store{StoreID: "store-1", Name: "Cafe", Slug: "cafe"}).Error)
	require.NoError(t, service.StoreTokens("store-1", "OLD-ACCESS", "OLD-REFRESH", time.Hour))

	_, err := service.RefreshAccessToken(context.Background(), "store-1")
	assert.ErrorIs(t, err, ErrRefreshFailed)

	// Existing tokens survive the failed rotation
	token, err := service.GetAccessToken("store-1")
	require.NoError(t, err)
	assert.Equal(t, "OLD-ACCESS", token)
}

func TestRefreshAccessTokenWithoutRefreshToken(t *testing.T) {
	db := setupTestDB(t)
	service := newTestService(t, db, &stubGateway{})

	require.NoError(t, db.Create(&types.Store{StoreID: "store-1", Name: "Cafe", Slug: "cafe"}).Error)

	_, err := service.RefreshAccessToken(context.Background(), "store-1")
	assert.ErrorIs(t, err, ErrRefreshFailed)
}

func TestCipherRoundTrip(t *testing.T) {
	cipher, err := NewCipher(testVaultKey)
	require.NoError(t, err)

	ciphertext, nonce, err := cipher.Encrypt("secret-value")
	require.NoError(t, err)

	plaintext, err := cipher.Decrypt(ciphertext, nonce)
	require.NoError(t, err)
	assert.Equal(t, "secret-value", plaintext)

	// Tampered ciphertext must not open
	ciphertext[0] ^= 0xff
	_, err = cipher.Decrypt(ciphertext, nonce)
	assert.Error(t, err)
}

func TestNewCipherRejectsBadKeys(t *testing.T) {
	_, err := NewCipher("deadbeef")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewCipher("not-hex")
	assert.ErrorIs(t, err, ErrInvalidKey)
}
