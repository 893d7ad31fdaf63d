// Package payments holds the payment intent tracker and the reconciliation
// engine. Webhook push and poll pull both converge on Finalize, the single
// idempotent operation that transitions an order from unpaid to paid.
package payments

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/payper/payper-api/internal/fulfillment"
	"github.com/payper/payper-api/internal/gateway"
	"github.com/payper/payper-api/internal/notifications"
	"github.com/payper/payper-api/internal/types"
	"github.com/payper/payper-api/internal/vault"
	"github.com/payper/payper-api/pkg/database"
)

var (
	// ErrOrderNotFound is fatal for the request that carried the order id
	ErrOrderNotFound = errors.New("order not found")
	// ErrUnresolvedReference means a provider payment carries no usable
	// external reference
	ErrUnresolvedReference = errors.New("payment has no resolvable external reference")

	// errConcurrentFinalize signals the loser of a finalize race. Retried
	// once, then treated as already processed.
	errConcurrentFinalize = errors.New("concurrent finalize conflict")
)

// Finalize outcomes
const (
	OutcomeApplied          = "applied"
	OutcomeAlreadyProcessed = "already_processed"
	OutcomeNotApproved      = "not_approved"
)

// FinalizeResult reports what Finalize did and the resulting order snapshot
type FinalizeResult struct {
	Outcome string       `json:"outcome"`
	Order   *types.Order `json:"order"`
}

// Service implements the payment intent tracker and reconciliation engine
type Service struct {
	db            *Database
	vault         *vault.Service
	gateway       gateway.API
	fulfillment   *fulfillment.Service
	notifications *notifications.Dispatcher

	publicBaseURL string // base URL the provider calls back on
}

func NewService(
	gormDB *gorm.DB,
	vaultService *vault.Service,
	gw gateway.API,
	fulfillmentService *fulfillment.Service,
	dispatcher *notifications.Dispatcher,
	publicBaseURL string,
) *Service {
	return &Service{
		db:            NewDatabase(gormDB),
		vault:         vaultService,
		gateway:       gw,
		fulfillment:   fulfillmentService,
		notifications: dispatcher,
		publicBaseURL: publicBaseURL,
	}
}

// Finalize applies an authoritative provider payment to an order exactly
// once. Both ingestion paths call this and nothing else mutates payment
// state, which is what prevents a webhook/poll race from double-deducting
// stock or double-sending a confirmation.
func (s *Service) Finalize(orderID string, payment *gateway.Payment) (*FinalizeResult, error) {
	logger := log.With().
		Str("service", "reconciliation").
		Str("order_id", orderID).
		Str("provider_payment_id", payment.ID).
		Logger()

	result, err := s.finalizeOnce(orderID, payment)
	if errors.Is(err, errConcurrentFinalize) {
		// The winner has either committed or rolled back by now; one re-read
		// settles it. A second conflict means the payment row exists, so the
		// order is being confirmed concurrently: report already processed.
		logger.Info().Msg("lost finalize race, re-checking order state")
		result, err = s.finalizeOnce(orderID, payment)
		if errors.Is(err, errConcurrentFinalize) {
			order, lookupErr := s.db.GetOrder(orderID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return &FinalizeResult{Outcome: OutcomeAlreadyProcessed, Order: order}, nil
		}
	}
	if err != nil {
		return nil, err
	}

	if result.Outcome == OutcomeApplied {
		logger.Info().
			Float64("amount", payment.TransactionAmount).
			Str("method", payment.PaymentMethodID).
			Msg("order payment confirmed")
		s.triggerConsequences(result.Order)
	}

	return result, nil
}

// finalizeOnce runs one attempt of the finalize transaction
func (s *Service) finalizeOnce(orderID string, payment *gateway.Payment) (*FinalizeResult, error) {
	var result *FinalizeResult

	err := s.db.Transaction(func(tx *gorm.DB) error {
		order, err := getOrder(tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return ErrOrderNotFound
		}

		// Idempotent short-circuit both ingestion paths converge on
		if order.IsPaid {
			result = &FinalizeResult{Outcome: OutcomeAlreadyProcessed, Order: order}
			return nil
		}

		if payment.Status != ProviderStatusApproved {
			result = &FinalizeResult{Outcome: OutcomeNotApproved, Order: order}
			return nil
		}

		approvedAt := time.Now()
		if payment.DateApproved != nil {
			approvedAt = *payment.DateApproved
		}

		record := &PaymentRecord{
			ProviderPaymentID: payment.ID,
			OrderID:           orderID,
			Amount:            payment.TransactionAmount,
			Status:            payment.Status,
			StatusDetail:      payment.StatusDetail,
			Method:            payment.PaymentMethodID,
			PayerEmail:        payment.Payer.Email,
			ApprovedAt:        approvedAt,
		}

		if err := s.db.InsertPaymentRecord(tx, record); err != nil {
			if database.IsDuplicateKey(err) {
				// A concurrent finalize inserted the same provider payment.
				// Roll back and re-check rather than retrying the insert.
				return errConcurrentFinalize
			}
			return err
		}

		won, err := s.db.MarkOrderPaid(tx, orderID, record)
		if err != nil {
			return err
		}
		if !won {
			return errConcurrentFinalize
		}

		if err := s.db.UpdateIntentStatus(tx, orderID, IntentStatusApproved); err != nil {
			return err
		}

		updated, err := getOrder(tx, orderID)
		if err != nil {
			return err
		}
		result = &FinalizeResult{Outcome: OutcomeApplied, Order: updated}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// triggerConsequences runs the at-least-once side effects of a first
// successful finalize: confirmation enqueue and, for pay-now stores, stock
// deduction. Failures here never roll back the payment confirmation.
func (s *Service) triggerConsequences(order *types.Order) {
	logger := log.With().
		Str("service", "reconciliation").
		Str("order_id", order.OrderID).
		Logger()

	store, err := s.db.GetStore(order.StoreID)
	if err != nil || store == nil {
		logger.Error().Err(err).Msg("failed to load store for post-payment consequences")
		return
	}

	recipient := order.PayerEmail
	if recipient == "" {
		recipient = store.NotificationEmail
	}
	if recipient != "" {
		subject := "Tu pedido ha sido confirmado"
		if _, err := s.notifications.Enqueue(order.OrderID, recipient, subject, ""); err != nil {
			logger.Error().Err(err).Msg("failed to enqueue confirmation")
		}
	}

	if store.StockTrigger != types.StockTriggerDelivery {
		if _, err := s.fulfillment.DeductStock(order.OrderID); err != nil {
			logger.Error().Err(err).Msg("stock deduction failed after payment")
		}
	}
}

// ProcessWebhook handles the push ingestion path: the provider sends a
// payment id, the full record is fetched back from the provider and the
// embedded external reference resolves the order.
func (s *Service) ProcessWebhook(ctx context.Context, storeID, providerPaymentID, topic, action, rawPayload string) (*FinalizeResult, error) {
	logger := log.With().
		Str("service", "reconciliation").
		Str("store_id", storeID).
		Str("provider_payment_id", providerPaymentID).
		Logger()

	event := &WebhookEvent{
		Provider:        "mercadopago",
		ProviderEventID: providerPaymentID,
		Topic:           topic,
		Action:          action,
		Payload:         rawPayload,
		StoreID:         storeID,
	}
	if err := s.db.CreateWebhookEvent(event); err != nil {
		// Raw logging is best effort; processing continues
		logger.Error().Err(err).Msg("failed to store raw webhook event")
	}

	token, err := s.vault.GetAccessToken(storeID)
	if err != nil {
		return nil, err
	}

	payment, err := s.gateway.GetPayment(ctx, token, providerPaymentID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch payment from provider")
		return nil, err
	}

	if payment.ExternalReference == "" {
		return nil, ErrUnresolvedReference
	}

	result, err := s.Finalize(payment.ExternalReference, payment)

	if event.ID != 0 {
		outcome := "error"
		if err == nil {
			outcome = result.Outcome
		}
		if markErr := s.db.MarkWebhookProcessed(event, outcome); markErr != nil {
			logger.Error().Err(markErr).Msg("failed to mark webhook processed")
		}
	}

	return result, err
}

// VerifyPaymentStatus handles the pull ingestion path: search the provider by
// external reference and finalize whatever it reports. Safe to call
// repeatedly.
func (s *Service) VerifyPaymentStatus(ctx context.Context, orderID string) (*FinalizeResult, error) {
	logger := log.With().
		Str("service", "reconciliation").
		Str("order_id", orderID).
		Logger()

	order, err := s.db.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	// Already paid locally: answer without touching the provider
	if order.IsPaid {
		return &FinalizeResult{Outcome: OutcomeAlreadyProcessed, Order: order}, nil
	}

	token, err := s.vault.GetAccessToken(order.StoreID)
	if err != nil {
		return nil, err
	}

	candidates, err := s.gateway.SearchPaymentsByReference(ctx, token, orderID)
	if err != nil {
		logger.Error().Err(err).Msg("provider payment search failed")
		return nil, err
	}
	if len(candidates) == 0 {
		logger.Debug().Msg("no provider payment found yet")
		return &FinalizeResult{Outcome: OutcomeNotApproved, Order: order}, nil
	}

	payment := selectLatestPayment(candidates)
	logger.Info().
		Str("provider_payment_id", payment.ID).
		Str("provider_status", payment.Status).
		Msg("found provider payment")

	return s.Finalize(orderID, payment)
}

// selectLatestPayment picks the most recent payment by approval time.
// Payments without an approval timestamp sort oldest, so an approved payment
// always beats a pending one.
func selectLatestPayment(candidates []gateway.Payment) *gateway.Payment {
	best := &candidates[0]
	for i := 1; i < len(candidates); i++ {
		c := &candidates[i]
		switch {
		case c.DateApproved == nil:
			continue
		case best.DateApproved == nil, c.DateApproved.After(*best.DateApproved):
			best = c
		}
	}
	return best
}
