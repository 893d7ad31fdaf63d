package payments

import (
	"time"

	"gorm.io/gorm"
)

// Intent status values
const (
	IntentStatusPending  = "pending"
	IntentStatusApproved = "approved"
	IntentStatusRejected = "rejected"
	IntentStatusExpired  = "expired"
)

// Provider payment status values
const (
	ProviderStatusApproved = "approved"
	ProviderStatusPending  = "pending"
	ProviderStatusRejected = "rejected"
)

// PaymentIntent records an outbound checkout session for an order. The
// external reference is derived from the order id so reconciliation needs no
// extra lookup state.
type PaymentIntent struct {
	gorm.Model        `json:"-"`
	IntentID          string    `gorm:"uniqueIndex" json:"intent_id"`
	StoreID           string    `json:"store_id"`
	OrderID           string    `gorm:"index" json:"order_id"`
	ProviderReference string    `json:"provider_reference"`
	ExternalReference string    `json:"external_reference"`
	Amount            float64   `json:"amount"`
	Currency          string    `json:"currency"`
	Status            string    `json:"status"` // pending, approved, rejected, expired
	CheckoutURL       string    `json:"checkout_url"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// PaymentRecord is the authoritative local copy of an approved provider
// payment. The unique index on ProviderPaymentID is the final backstop
// against double-apply from races and duplicate provider redelivery.
type PaymentRecord struct {
	gorm.Model        `json:"-"`
	ProviderPaymentID string    `gorm:"uniqueIndex" json:"provider_payment_id"`
	OrderID           string    `gorm:"index" json:"order_id"`
	Amount            float64   `json:"amount"`
	Status            string    `json:"status"`
	StatusDetail      string    `json:"status_detail"`
	Method            string    `json:"method"`
	PayerEmail        string    `json:"payer_email"`
	ApprovedAt        time.Time `json:"approved_at"`
}

// WebhookEvent is the raw inbound webhook, stored before processing for
// debugging and reproducibility
type WebhookEvent struct {
	gorm.Model       `json:"-"`
	Provider         string    `json:"provider"`
	ProviderEventID  string    `json:"provider_event_id"`
	Topic            string    `json:"topic"`
	Action           string    `json:"action"`
	Payload          string    `json:"payload"`
	StoreID          string    `gorm:"index" json:"store_id"`
	Processed        bool      `json:"processed"`
	ProcessedAt      time.Time `json:"processed_at,omitempty"`
	ProcessingResult string    `json:"processing_result,omitempty"`
}
