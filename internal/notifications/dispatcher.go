// Package notifications queues order confirmation messages and delivers them
// with bounded retries. It is the one component with internal backoff, since
// no external mechanism re-triggers a failed send.
package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/payper/payper-api/internal/types"
	"github.com/payper/payper-api/pkg/database"
)

// backoffSchedule holds the delay before each retry. A task that fails more
// times than the schedule has tiers is marked failed permanently.
var backoffSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
}

const defaultBatchSize = 10

// Dispatcher owns the confirmation queue: enqueueing on payment approval and
// draining due tasks in the background loop.
type Dispatcher struct {
	db        *Database
	sender    Sender
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewDispatcher(gormDB *gorm.DB, sender Sender, interval time.Duration) *Dispatcher {
	return &Dispatcher{
		db:        NewDatabase(gormDB),
		sender:    sender,
		interval:  interval,
		batchSize: defaultBatchSize,
		now:       time.Now,
	}
}

// Enqueue creates a pending confirmation task for an order. Enqueueing the
// same order twice returns the existing task id.
func (d *Dispatcher) Enqueue(orderID, recipient, subject, payload string) (string, error) {
	logger := log.With().
		Str("service", "notifications").
		Str("order_id", orderID).
		Logger()

	task := &Task{
		TaskID:        "NT_" + uuid.New().String(),
		OrderID:       orderID,
		Recipient:     recipient,
		Subject:       subject,
		Payload:       payload,
		Status:        StatusPending,
		NextAttemptAt: d.now(),
	}

	if err := d.db.CreateTask(task); err != nil {
		if database.IsDuplicateKey(err) {
			existing, lookupErr := d.db.GetTaskByOrderID(orderID)
			if lookupErr == nil && existing != nil {
				logger.Debug().Str("task_id", existing.TaskID).Msg("confirmation already queued")
				return existing.TaskID, nil
			}
		}
		return "", err
	}

	logger.Info().Str("task_id", task.TaskID).Msg("queued confirmation")
	return task.TaskID, nil
}

// Start begins the dispatch loop
func (d *Dispatcher) Start(ctx context.Context) {
	logger := log.With().Str("component", "notification_dispatcher").Logger()
	logger.Info().Msg("starting notification dispatcher")

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down notification dispatcher")
			return
		case <-ticker.C:
			if err := d.ProcessBatch(ctx, d.batchSize); err != nil {
				logger.Error().Err(err).Msg("failed to process notification batch")
			}
		}
	}
}

// ProcessBatch drains up to limit due tasks. Per task: re-validate the order
// is still paid (a refund or void after enqueue cancels the task instead of
// sending a stale confirmation), deliver, and apply the backoff schedule on
// failure.
func (d *Dispatcher) ProcessBatch(ctx context.Context, limit int) error {
	logger := log.With().Str("component", "notification_dispatcher").Logger()

	tasks, err := d.db.GetDueTasks(d.now(), limit)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}

	logger.Info().Int("due_count", len(tasks)).Msg("processing due notifications")

	for i := range tasks {
		task := &tasks[i]

		order, err := d.db.GetOrder(task.OrderID)
		if err != nil {
			logger.Error().Err(err).Str("task_id", task.TaskID).Msg("failed to load order for task")
			continue
		}
		if order == nil || !order.IsPaid {
			task.Status = StatusCancelled
			task.LastError = "order not paid"
			if err := d.db.UpdateTask(task); err != nil {
				logger.Error().Err(err).Str("task_id", task.TaskID).Msg("failed to cancel task")
			}
			logger.Warn().
				Str("task_id", task.TaskID).
				Str("order_id", task.OrderID).
				Msg("cancelled confirmation, order no longer paid")
			continue
		}

		email, err := d.renderEmail(task, order)
		if err != nil {
			d.recordFailure(task, err)
			continue
		}

		if err := d.sender.Send(ctx, email); err != nil {
			d.recordFailure(task, err)
			continue
		}

		task.Status = StatusSent
		task.Attempts++
		task.LastError = ""
		if err := d.db.UpdateTask(task); err != nil {
			logger.Error().Err(err).Str("task_id", task.TaskID).Msg("failed to mark task sent")
			continue
		}
		logger.Info().
			Str("task_id", task.TaskID).
			Str("order_id", task.OrderID).
			Msg("confirmation sent")
	}

	return nil
}

// recordFailure applies the backoff schedule: failures beyond the last tier
// are terminal
func (d *Dispatcher) recordFailure(task *Task, cause error) {
	logger := log.With().
		Str("component", "notification_dispatcher").
		Str("task_id", task.TaskID).
		Logger()

	task.Attempts++
	task.LastError = cause.Error()

	if task.Attempts > len(backoffSchedule) {
		task.Status = StatusFailed
		logger.Warn().Err(cause).Int("attempts", task.Attempts).Msg("confirmation failed permanently")
	} else {
		task.NextAttemptAt = d.now().Add(backoffSchedule[task.Attempts-1])
		logger.Info().
			Err(cause).
			Int("attempts", task.Attempts).
			Time("next_attempt_at", task.NextAttemptAt).
			Msg("confirmation delivery failed, scheduled retry")
	}

	if err := d.db.UpdateTask(task); err != nil {
		logger.Error().Err(err).Msg("failed to record task failure")
	}
}

func (d *Dispatcher) renderEmail(task *Task, order *types.Order) (Email, error) {
	storeName := "your store"
	if store, err := d.db.GetStore(order.StoreID); err == nil && store != nil {
		storeName = store.Name
	}

	html := fmt.Sprintf(
		"<h1>Pedido #%d Confirmado</h1><p>Gracias por tu compra en %s. Total: $%.2f</p>",
		order.OrderNumber, storeName, order.TotalAmount,
	)
	text := fmt.Sprintf("Tu pedido #%d ha sido confirmado.", order.OrderNumber)

	return Email{
		To:      task.Recipient,
		Subject: task.Subject,
		HTML:    html,
		Text:    text,
	}, nil
}
