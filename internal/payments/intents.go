package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/payper/payper-api/internal/gateway"
	"github.com/payper/payper-api/internal/types"
)

const (
	intentTTL       = 24 * time.Hour
	defaultCurrency = "ARS"
)

// CheckoutItem is one line of a checkout-creation request
type CheckoutItem struct {
	Title     string  `json:"title" binding:"required"`
	Quantity  float64 `json:"quantity" binding:"required"`
	UnitPrice float64 `json:"unit_price" binding:"required"`
}

// CreateIntent builds a provider checkout session for an order and persists
// the intent before the URL is handed out. The external reference is the
// order id itself, so the provider's payment record resolves straight back to
// the order with no extra lookup state.
//
// An active, unexpired, pending intent for the order is reused instead of
// opening a duplicate provider session.
func (s *Service) CreateIntent(ctx context.Context, orderID string, items []CheckoutItem, amount float64) (*types.CheckoutResponse, error) {
	logger := log.With().
		Str("service", "payment_intents").
		Str("order_id", orderID).
		Logger()

	order, err := s.db.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	if existing, err := s.db.GetActiveIntent(orderID, time.Now()); err != nil {
		return nil, err
	} else if existing != nil {
		logger.Info().Str("intent_id", existing.IntentID).Msg("reusing active checkout session")
		return &types.CheckoutResponse{
			CheckoutURL:       existing.CheckoutURL,
			ExternalReference: existing.ExternalReference,
			ProviderReference: existing.ProviderReference,
		}, nil
	}

	token, err := s.vault.GetAccessToken(order.StoreID)
	if err != nil {
		return nil, err
	}

	store, err := s.db.GetStore(order.StoreID)
	if err != nil {
		return nil, err
	}

	prefItems := make([]gateway.PreferenceItem, 0, len(items))
	for _, item := range items {
		prefItems = append(prefItems, gateway.PreferenceItem{
			Title:     item.Title,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Currency:  defaultCurrency,
		})
	}

	pref, err := s.gateway.CreatePreference(ctx, token, gateway.PreferenceRequest{
		Items:               prefItems,
		ExternalReference:   orderID,
		NotificationURL:     s.publicBaseURL + "/api/v1/payments/webhook?store_id=" + order.StoreID,
		StatementDescriptor: statementDescriptor(store),
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to create checkout session")
		return nil, err
	}

	intent := &PaymentIntent{
		IntentID:          "PI_" + uuid.New().String(),
		StoreID:           order.StoreID,
		OrderID:           orderID,
		ProviderReference: pref.ID,
		ExternalReference: orderID,
		Amount:            amount,
		Currency:          defaultCurrency,
		Status:            IntentStatusPending,
		CheckoutURL:       pref.CheckoutURL,
		ExpiresAt:         time.Now().Add(intentTTL),
	}

	if err := s.db.CreateIntent(intent); err != nil {
		return nil, err
	}

	logger.Info().
		Str("intent_id", intent.IntentID).
		Str("provider_reference", pref.ID).
		Float64("amount", amount).
		Msg("created checkout session")

	return &types.CheckoutResponse{
		CheckoutURL:       intent.CheckoutURL,
		ExternalReference: intent.ExternalReference,
		ProviderReference: intent.ProviderReference,
	}, nil
}

// statementDescriptor trims the store name to the provider's 22 character
// card statement limit
func statementDescriptor(store *types.Store) string {
	if store == nil || store.Name == "" {
		return "PAYPER"
	}
	if len(store.Name) > 22 {
		return store.Name[:22]
	}
	return store.Name
}
