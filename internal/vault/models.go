package vault

import (
	"time"

	"gorm.io/gorm"
)

// SecretType identifies a named per-store secret. Each type carries its own
// expiry semantics: access tokens expire and must be refreshed, refresh
// tokens live until rotated.
type SecretType string

const (
	SecretAccessToken  SecretType = "access_token"
	SecretRefreshToken SecretType = "refresh_token"
)

// Expires reports whether secrets of this type carry an expiry timestamp
func (t SecretType) Expires() bool {
	return t == SecretAccessToken
}

// EncryptedSecret is a per-store provider credential at rest. Rows are
// exclusively owned by their store and rotated in place on refresh.
type EncryptedSecret struct {
	gorm.Model `json:"-"`
	StoreID    string     `gorm:"uniqueIndex:idx_store_secret" json:"store_id"`
	SecretType SecretType `gorm:"uniqueIndex:idx_store_secret" json:"secret_type"`
	Ciphertext []byte     `json:"-"`
	Nonce      []byte     `json:"-"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Version    int        `json:"version"`
}
