package payments

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/payper/payper-api/internal/gateway"
	"github.com/payper/payper-api/internal/types"
	"github.com/payper/payper-api/internal/vault"
	"github.com/payper/payper-api/pkg/response"
)

// GinHandlers contains HTTP handlers for payment endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// flexibleID accepts the provider's payment id whether it arrives as a JSON
// number or a string
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		s = ""
	}
	*f = flexibleID(s)
	return nil
}

type webhookBody struct {
	ID     flexibleID `json:"id"`
	Action string     `json:"action"`
	Data   struct {
		ID flexibleID `json:"id"`
	} `json:"data"`
}

// WebhookHandler receives provider push notifications. The provider retries
// failed deliveries, so any failure after acceptance is invisible to the
// customer.
func (h *GinHandlers) WebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		storeID := c.Query("store_id")
		if storeID == "" {
			response.BadRequest(c, "store_id is required")
			return
		}

		raw, err := c.GetRawData()
		if err != nil {
			response.BadRequest(c, "unreadable payload")
			return
		}

		var body webhookBody
		if err := json.Unmarshal(raw, &body); err != nil {
			response.BadRequest(c, "malformed payload")
			return
		}

		paymentID := string(body.Data.ID)
		if paymentID == "" {
			paymentID = string(body.ID)
		}
		if paymentID == "" {
			response.BadRequest(c, "missing payment id")
			return
		}

		topic := c.Query("topic")
		if topic == "" {
			topic = c.Query("type")
		}

		result, err := h.service.ProcessWebhook(c.Request.Context(), storeID, paymentID, topic, body.Action, string(raw))
		if err != nil {
			switch {
			case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrUnresolvedReference):
				response.NotFound(c, "Order not resolvable from payment")
			case errors.Is(err, vault.ErrNotConnected):
				response.NotFound(c, "Store not connected to payment provider")
			default:
				response.InternalError(c, "Failed to process payment event")
			}
			return
		}

		response.OK(c, types.PaymentStatusResponse{
			Success: true,
			Status:  statusForOutcome(result),
		})
	}
}

type verifyRequest struct {
	OrderID string `json:"order_id" binding:"required"`
}

// VerifyHandler is the poll path: callers supply an order id and get the
// current payment status. Idempotent, safe to call repeatedly; failures
// surface as "still pending" to the customer.
func (h *GinHandlers) VerifyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req verifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "order_id is required")
			return
		}

		result, err := h.service.VerifyPaymentStatus(c.Request.Context(), req.OrderID)
		if err != nil {
			switch {
			case errors.Is(err, ErrOrderNotFound):
				response.NotFound(c, "Order not found")
			case errors.Is(err, gateway.ErrUnreachable):
				response.OK(c, types.PaymentStatusResponse{
					Success: false,
					Status:  ProviderStatusPending,
					Message: "Payment provider unreachable, try again",
				})
			case errors.Is(err, vault.ErrNotConnected):
				response.BadRequest(c, "Store not connected to payment provider")
			default:
				response.InternalError(c, "Failed to verify payment status")
			}
			return
		}

		response.OK(c, types.PaymentStatusResponse{
			Success: result.Outcome != OutcomeNotApproved,
			Status:  statusForOutcome(result),
		})
	}
}

type checkoutRequest struct {
	OrderID string         `json:"order_id" binding:"required"`
	Items   []CheckoutItem `json:"items" binding:"required,min=1"`
	Amount  float64        `json:"amount" binding:"required"`
}

// CreateCheckoutHandler builds a provider checkout session for an order.
// Failures surface immediately and actionably to the caller.
func (h *GinHandlers) CreateCheckoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req checkoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		checkout, err := h.service.CreateIntent(c.Request.Context(), req.OrderID, req.Items, req.Amount)
		if err != nil {
			switch {
			case errors.Is(err, ErrOrderNotFound):
				response.NotFound(c, "Order not found")
			case errors.Is(err, vault.ErrNotConnected):
				response.BadRequest(c, "Store not connected to payment provider")
			case errors.Is(err, gateway.ErrUnreachable):
				response.UpstreamError(c, "Payment provider unreachable")
			default:
				response.InternalError(c, "Failed to create checkout")
			}
			return
		}

		response.Success(c, checkout)
	}
}

type refreshRequest struct {
	StoreID string `json:"store_id" binding:"required"`
}

// RefreshTokenHandler forces a provider token rotation for a store
func (h *GinHandlers) RefreshTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "store_id is required")
			return
		}

		if _, err := h.service.vault.RefreshAccessToken(c.Request.Context(), req.StoreID); err != nil {
			if errors.Is(err, vault.ErrRefreshFailed) {
				response.BadRequest(c, "Token refresh rejected, reconnect the store")
				return
			}
			response.InternalError(c, "Failed to refresh token")
			return
		}

		response.Success(c, gin.H{"message": "token rotated"})
	}
}

// statusForOutcome maps a finalize outcome to the wire status vocabulary
func statusForOutcome(result *FinalizeResult) string {
	switch result.Outcome {
	case OutcomeApplied, OutcomeAlreadyProcessed:
		return types.PaymentStatusApproved
	default:
		return types.PaymentStatusPending
	}
}
