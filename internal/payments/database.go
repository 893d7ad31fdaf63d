package payments

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/payper/payper-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	return getOrder(d.db, orderID)
}

func getOrder(tx *gorm.DB, orderID string) (*types.Order, error) {
	var order types.Order
	if err := tx.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
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

// GetActiveIntent returns an unexpired pending intent for the order, if any
func (d *Database) GetActiveIntent(orderID string, now time.Time) (*PaymentIntent, error) {
	var intent PaymentIntent
	err := d.db.Where("order_id = ? AND status = ? AND expires_at > ?", orderID, IntentStatusPending, now).
		Order("created_at desc").
		First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &intent, nil
}

func (d *Database) CreateIntent(intent *PaymentIntent) error {
	return d.db.Create(intent).Error
}

// UpdateIntentStatus moves intents for an order to a new status
func (d *Database) UpdateIntentStatus(tx *gorm.DB, orderID, status string) error {
	return tx.Model(&PaymentIntent{}).
		Where("order_id = ? AND status = ?", orderID, IntentStatusPending).
		Update("status", status).Error
}

// InsertPaymentRecord creates the authoritative payment row inside the
// finalize transaction. The caller interprets unique-constraint failures.
func (d *Database) InsertPaymentRecord(tx *gorm.DB, record *PaymentRecord) error {
	return tx.Create(record).Error
}

// MarkOrderPaid performs the conditional update is_paid false -> true and
// reports whether this transaction won the transition
func (d *Database) MarkOrderPaid(tx *gorm.DB, orderID string, record *PaymentRecord) (bool, error) {
	result := tx.Model(&types.Order{}).
		Where("order_id = ? AND is_paid = ?", orderID, false).
		Updates(map[string]interface{}{
			"is_paid":        true,
			"payment_status": types.PaymentStatusApproved,
			"payment_method": record.Method,
			"payer_email":    record.PayerEmail,
			"paid_at":        record.ApprovedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (d *Database) CreateWebhookEvent(event *WebhookEvent) error {
	return d.db.Create(event).Error
}

func (d *Database) MarkWebhookProcessed(event *WebhookEvent, result string) error {
	event.Processed = true
	event.ProcessedAt = time.Now()
	event.ProcessingResult = result
	return d.db.Save(event).Error
}

func (d *Database) Transaction(fn func(tx *gorm.DB) error) error {
	return d.db.Transaction(fn)
}
