// Package fulfillment deducts recipe-based inventory exactly once per order.
package fulfillment

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/payper/payper-api/internal/types"
	"github.com/payper/payper-api/pkg/response"
)

var ErrOrderNotFound = errors.New("order not found")

// Shortage describes an ingredient that could not be fully covered
type Shortage struct {
	IngredientID string  `json:"ingredient_id"`
	Requested    float64 `json:"requested"`
	Available    float64 `json:"available"`
}

// DeductionResult reports the outcome of a stock deduction
type DeductionResult struct {
	AlreadyDeducted bool       `json:"already_deducted"`
	Shortages       []Shortage `json:"shortages,omitempty"`
}

// Service handles stock deduction for paid orders
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// DeductStock decomposes each order line into recipe components and decrements
// ingredient stock, open packages first. The compare-and-set on stock_deducted
// makes a repeat call a no-op; exactly one call site per order performs the
// deduction regardless of whether payment approval or delivery confirmation
// triggered it.
//
// Insufficient stock never blocks a paid order. Shortfalls are recorded as
// DeductionError rows and sealed stock is allowed to go negative.
func (s *Service) DeductStock(orderID string) (*DeductionResult, error) {
	logger := log.With().
		Str("service", "fulfillment").
		Str("order_id", orderID).
		Logger()

	order, err := s.db.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	result := &DeductionResult{}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		claimed, err := s.db.ClaimStockDeduction(tx, orderID)
		if err != nil {
			return err
		}
		if !claimed {
			logger.Info().Msg("stock already deducted, skipping")
			result.AlreadyDeducted = true
			return nil
		}

		items, err := s.db.GetOrderItems(tx, orderID)
		if err != nil {
			return err
		}

		for _, item := range items {
			if err := s.deductLine(tx, logger, order, item, result); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadyDeducted {
		logger.Info().
			Int("shortages", len(result.Shortages)).
			Msg("stock deduction completed")
	}
	return result, nil
}

func (s *Service) deductLine(tx *gorm.DB, logger zerolog.Logger, order *types.Order, item types.OrderItem, result *DeductionResult) error {
	recipe, components, err := s.db.GetRecipe(tx, item.ProductID)
	if err != nil {
		return err
	}
	if recipe == nil {
		// Not every sellable product tracks inventory
		logger.Debug().Str("product_id", item.ProductID).Msg("no recipe for product")
		return nil
	}

	yield := recipe.YieldQuantity
	if yield <= 0 {
		yield = 1
	}

	for _, component := range components {
		required := component.Quantity * item.Quantity / yield
		if required <= 0 {
			continue
		}

		shortage, err := s.consumeIngredient(tx, component.IngredientID, required)
		if err != nil {
			return err
		}
		if shortage != nil {
			result.Shortages = append(result.Shortages, *shortage)
			if err := tx.Create(&DeductionError{
				OrderID:      order.OrderID,
				IngredientID: shortage.IngredientID,
				Requested:    shortage.Requested,
				Available:    shortage.Available,
				Reason:       "insufficient stock at deduction time",
			}).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// consumeIngredient drains open packages before sealed stock and returns a
// shortage when total stock does not cover the requirement
func (s *Service) consumeIngredient(tx *gorm.DB, ingredientID string, required float64) (*Shortage, error) {
	item, err := s.db.GetInventoryItem(tx, ingredientID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return &Shortage{IngredientID: ingredientID, Requested: required, Available: 0}, nil
	}

	packages, err := s.db.GetOpenPackages(tx, ingredientID)
	if err != nil {
		return nil, err
	}

	available := item.SealedStock
	for _, pkg := range packages {
		available += pkg.Remaining
	}

	remaining := required
	for i := range packages {
		if remaining <= 0 {
			break
		}
		take := packages[i].Remaining
		if take > remaining {
			take = remaining
		}
		packages[i].Remaining -= take
		remaining -= take
		if err := tx.Save(&packages[i]).Error; err != nil {
			return nil, err
		}
	}

	if remaining > 0 {
		item.SealedStock -= remaining
		if err := tx.Save(item).Error; err != nil {
			return nil, err
		}
	}

	if available < required {
		return &Shortage{IngredientID: ingredientID, Requested: required, Available: available}, nil
	}
	return nil, nil
}

// GinHandlers contains HTTP handlers for fulfillment endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ConfirmDeliveryHandler triggers stock deduction for stores configured to
// deduct on delivery rather than at payment approval
func (h *GinHandlers) ConfirmDeliveryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		result, err := h.service.DeductStock(orderID)
		if errors.Is(err, ErrOrderNotFound) {
			response.NotFound(c, "Order not found")
			return
		}
		response.Handle(c, result, err)
	}
}
