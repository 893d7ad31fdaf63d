package fulfillment

import (
	"time"

	"gorm.io/gorm"
)

// InventoryItem is a tracked ingredient. SealedStock counts unopened base
// units; opened stock lives in OpenPackage rows.
type InventoryItem struct {
	gorm.Model  `json:"-"`
	ItemID      string  `gorm:"uniqueIndex" json:"item_id"`
	StoreID     string  `gorm:"index" json:"store_id"`
	Name        string  `json:"name"`
	Unit        string  `json:"unit"`
	SealedStock float64 `json:"sealed_stock"`
	MinStock    float64 `json:"min_stock"`
}

// OpenPackage is a physical unit already opened and partially consumed.
// Deduction drains these before touching sealed stock to minimize waste.
type OpenPackage struct {
	gorm.Model `json:"-"`
	ItemID     string    `gorm:"index" json:"item_id"`
	Capacity   float64   `json:"capacity"`
	Remaining  float64   `json:"remaining"`
	OpenedAt   time.Time `json:"opened_at"`
}

// Recipe decomposes a sellable product into ingredient quantities
type Recipe struct {
	gorm.Model    `json:"-"`
	ProductID     string  `gorm:"uniqueIndex" json:"product_id"`
	YieldQuantity float64 `json:"yield_quantity"`
}

// RecipeItem is one ingredient line of a recipe
type RecipeItem struct {
	gorm.Model   `json:"-"`
	ProductID    string  `gorm:"index" json:"product_id"`
	IngredientID string  `json:"ingredient_id"`
	Quantity     float64 `json:"quantity"`
}

// DeductionError records a stock shortfall for operational review. A paid
// order is never blocked on stock: the ingredient goes to zero or negative
// and the shortfall lands here.
type DeductionError struct {
	gorm.Model   `json:"-"`
	OrderID      string  `gorm:"index" json:"order_id"`
	IngredientID string  `json:"ingredient_id"`
	Requested    float64 `json:"requested"`
	Available    float64 `json:"available"`
	Reason       string  `json:"reason"`
}
