package vault

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/payper/payper-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetStore(storeID string) (*types.Store, error) {
	var store types.Store
	if err := d.db.Where("store_id = ?", storeID).First(&store).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &store, nil
}

func (d *Database) GetSecret(storeID string, secretType SecretType) (*EncryptedSecret, error) {
	var secret EncryptedSecret
	err := d.db.Where("store_id = ? AND secret_type = ?", storeID, secretType).First(&secret).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &secret, nil
}

// UpsertSecret writes or rotates a secret row in place, bumping its version
func (d *Database) UpsertSecret(storeID string, secretType SecretType, ciphertext, nonce []byte, expiresAt *time.Time) error {
	return d.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "store_id"}, {Name: "secret_type"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"ciphertext": ciphertext,
			"nonce":      nonce,
			"expires_at": expiresAt,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		}),
	}).Create(&EncryptedSecret{
		StoreID:    storeID,
		SecretType: secretType,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		ExpiresAt:  expiresAt,
		Version:    1,
	}).Error
}

// MarkStoreEncrypted flips the migration flag once both tokens are durable
func (d *Database) MarkStoreEncrypted(storeID string) error {
	return d.db.Model(&types.Store{}).
		Where("store_id = ?", storeID).
		Update("secrets_encrypted", true).Error
}
