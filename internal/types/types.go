package types

import (
	"time"

	"gorm.io/gorm"
)

// Payment status values for Order.PaymentStatus
const (
	PaymentStatusPending  = "pending"
	PaymentStatusApproved = "approved"
	PaymentStatusRejected = "rejected"
	PaymentStatusExpired  = "expired"
)

// StockTrigger determines when a store deducts inventory for a paid order
type StockTrigger string

const (
	// StockTriggerPayment deducts stock as soon as payment is approved
	StockTriggerPayment StockTrigger = "payment"
	// StockTriggerDelivery deducts stock when delivery is confirmed
	StockTriggerDelivery StockTrigger = "delivery"
)

type Store struct {
	gorm.Model        `json:"-"`
	StoreID           string       `gorm:"uniqueIndex" json:"store_id"`
	Name              string       `json:"name"`
	Slug              string       `json:"slug"`
	SecretsEncrypted  bool         `json:"secrets_encrypted"`
	AccessToken       string       `json:"-"` // legacy plaintext column, read only while SecretsEncrypted=false
	RefreshToken      string       `json:"-"` // legacy plaintext column
	StockTrigger      StockTrigger `json:"stock_trigger"`
	NotificationEmail string       `json:"notification_email"`
}

type Order struct {
	gorm.Model    `json:"-"`
	OrderID       string    `gorm:"uniqueIndex" json:"order_id"`
	StoreID       string    `json:"store_id"`
	OrderNumber   int       `json:"order_number"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"` // pending, approved, rejected, expired
	TotalAmount   float64   `json:"total_amount"`
	IsPaid        bool      `json:"is_paid"`
	StockDeducted bool      `json:"stock_deducted"`
	PaymentMethod string    `json:"payment_method,omitempty"`
	PayerEmail    string    `json:"payer_email,omitempty"`
	PaidAt        time.Time `json:"paid_at,omitempty"`
}

type OrderItem struct {
	gorm.Model `json:"-"`
	OrderID    string  `gorm:"index" json:"order_id"`
	ProductID  string  `json:"product_id"`
	Title      string  `json:"title"`
	Quantity   float64 `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
}
