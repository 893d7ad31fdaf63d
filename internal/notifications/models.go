package notifications

import (
	"time"

	"gorm.io/gorm"
)

// Task states. pending is the only non-terminal state.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Task is a queued confirmation message. One task exists per confirmed order;
// the unique index makes a duplicate enqueue a no-op.
type Task struct {
	gorm.Model    `json:"-"`
	TaskID        string    `gorm:"uniqueIndex" json:"task_id"`
	OrderID       string    `gorm:"uniqueIndex" json:"order_id"`
	Recipient     string    `json:"recipient"`
	Subject       string    `json:"subject"`
	Payload       string    `json:"payload"`
	Status        string    `json:"status"` // pending, sent, failed, cancelled
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	LastError     string    `json:"last_error,omitempty"`
}
