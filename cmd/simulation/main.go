// Simulation drives the full payment flow in-process against a fake provider:
// seed a store with encrypted credentials, create a checkout session, approve
// the payment at the provider, deliver the webhook, poll for status, and
// drain the notification queue.
package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/payper/payper-api/internal/database"
	"github.com/payper/payper-api/internal/fulfillment"
	"github.com/payper/payper-api/internal/gateway"
	"github.com/payper/payper-api/internal/notifications"
	"github.com/payper/payper-api/internal/payments"
	"github.com/payper/payper-api/internal/types"
	"github.com/payper/payper-api/internal/vault"
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// fakeProvider implements gateway.API in memory
type fakeProvider struct {
	mu       sync.Mutex
	payments map[string]gateway.Payment
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{payments: make(map[string]gateway.Payment)}
}

func (f *fakeProvider) CreatePreference(_ context.Context, _ string, req gateway.PreferenceRequest) (*gateway.Preference, error) {
	id := "PREF-" + uuid.New().String()
	return &gateway.Preference{
		ID:          id,
		CheckoutURL: "https://provider.test/checkout/" + id,
	}, nil
}

func (f *fakeProvider) GetPayment(_ context.Context, _, paymentID string) (*gateway.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[paymentID]
	if !ok {
		return nil, gateway.ErrPaymentMissing
	}
	return &p, nil
}

func (f *fakeProvider) SearchPaymentsByReference(_ context.Context, _, externalReference string) ([]gateway.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var results []gateway.Payment
	for _, p := range f.payments {
		if p.ExternalReference == externalReference {
			results = append(results, p)
		}
	}
	return results, nil
}

func (f *fakeProvider) RefreshAccessToken(_ context.Context, _ string) (*gateway.TokenGrant, error) {
	return &gateway.TokenGrant{
		AccessToken:  "ROTATED-" + uuid.New().String(),
		RefreshToken: "REFRESH-" + uuid.New().String(),
		ExpiresIn:    21600,
	}, nil
}

// approve registers an approved payment at the provider
func (f *fakeProvider) approve(externalReference string, amount float64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	id := fmt.Sprintf("%d", now.UnixNano())
	f.payments[id] = gateway.Payment{
		ID:                id,
		Status:            "approved",
		StatusDetail:      "accredited",
		TransactionAmount: amount,
		PaymentMethodID:   "account_money",
		PaymentTypeID:     "account_money",
		ExternalReference: externalReference,
		DateApproved:      &now,
		Payer:             gateway.Payer{Email: "customer@example.com"},
	}
	return id
}

// printSender logs outbound emails instead of delivering them
type printSender struct{}

func (printSender) Send(_ context.Context, email notifications.Email) error {
	zlog.Info().Str("to", email.To).Str("subject", email.Subject).Msg("email delivered")
	return nil
}

func main() {
	db, err := database.NewDatabase("file::memory:?cache=shared")
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to open database")
	}

	provider := newFakeProvider()
	cipher, err := vault.NewCipher("6465762d6f6e6c792d6b65792d6465762d6f6e6c792d6b65792d646576212121")
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to build cipher")
	}

	vaultService := vault.NewService(db, cipher, provider)
	fulfillmentService := fulfillment.NewService(db)
	dispatcher := notifications.NewDispatcher(db, printSender{}, time.Second)
	paymentsService := payments.NewService(db, vaultService, provider, fulfillmentService, dispatcher, "http://localhost:8080")

	ctx := context.Background()

	// Seed a store with encrypted provider credentials
	storeID := "store-" + uuid.New().String()
	db.Create(&types.Store{
		StoreID:      storeID,
		Name:         "Cafe Simulado",
		Slug:         "cafe-simulado",
		StockTrigger: types.StockTriggerPayment,
	})
	if err := vaultService.StoreTokens(storeID, "ACCESS-"+uuid.New().String(), "REFRESH-"+uuid.New().String(), 6*time.Hour); err != nil {
		zlog.Fatal().Err(err).Msg("failed to store tokens")
	}

	// Seed inventory: a flat white decomposes into coffee beans and milk
	db.Create(&fulfillment.InventoryItem{ItemID: "beans", StoreID: storeID, Name: "Coffee Beans", Unit: "g", SealedStock: 1000})
	db.Create(&fulfillment.OpenPackage{ItemID: "beans", Capacity: 250, Remaining: 30, OpenedAt: time.Now().Add(-time.Hour)})
	db.Create(&fulfillment.InventoryItem{ItemID: "milk", StoreID: storeID, Name: "Milk", Unit: "ml", SealedStock: 5000})
	db.Create(&fulfillment.Recipe{ProductID: "flat-white", YieldQuantity: 1})
	db.Create(&fulfillment.RecipeItem{ProductID: "flat-white", IngredientID: "beans", Quantity: 18})
	db.Create(&fulfillment.RecipeItem{ProductID: "flat-white", IngredientID: "milk", Quantity: 160})

	// Seed an order
	orderID := "O1-" + uuid.New().String()
	db.Create(&types.Order{
		OrderID:       orderID,
		StoreID:       storeID,
		OrderNumber:   1,
		Status:        "confirmed",
		PaymentStatus: types.PaymentStatusPending,
		TotalAmount:   1000,
	})
	db.Create(&types.OrderItem{OrderID: orderID, ProductID: "flat-white", Title: "Flat White", Quantity: 2, UnitPrice: 500})

	// 1. Create the checkout session
	checkout, err := paymentsService.CreateIntent(ctx, orderID, []payments.CheckoutItem{
		{Title: "Flat White", Quantity: 2, UnitPrice: 500},
	}, 1000)
	if err != nil {
		zlog.Fatal().Err(err).Msg("checkout creation failed")
	}
	zlog.Info().Str("checkout_url", checkout.CheckoutURL).Msg("checkout created")

	// 2. Customer pays at the provider
	paymentID := provider.approve(orderID, 1000)
	zlog.Info().Str("payment_id", paymentID).Msg("provider approved payment")

	// 3. Provider delivers the webhook
	result, err := paymentsService.ProcessWebhook(ctx, storeID, paymentID, "payment", "payment.updated", `{"data":{"id":"`+paymentID+`"}}`)
	if err != nil {
		zlog.Fatal().Err(err).Msg("webhook processing failed")
	}
	zlog.Info().Str("outcome", result.Outcome).Msg("webhook processed")

	// 4. Frontend polls; must be a no-op
	result, err = paymentsService.VerifyPaymentStatus(ctx, orderID)
	if err != nil {
		zlog.Fatal().Err(err).Msg("poll failed")
	}
	zlog.Info().Str("outcome", result.Outcome).Msg("poll returned")

	// 5. Drain the notification queue
	if err := dispatcher.ProcessBatch(ctx, 10); err != nil {
		zlog.Fatal().Err(err).Msg("notification batch failed")
	}

	var order types.Order
	db.Where("order_id = ?", orderID).First(&order)
	var beans fulfillment.InventoryItem
	db.Where("item_id = ?", "beans").First(&beans)

	zlog.Info().
		Bool("is_paid", order.IsPaid).
		Bool("stock_deducted", order.StockDeducted).
		Float64("beans_sealed_stock", beans.SealedStock).
		Msg("simulation complete")
}
