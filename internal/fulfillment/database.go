package fulfillment

import (
	"errors"

	"gorm.io/gorm"

	"github.com/payper/payper-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrderItems(tx *gorm.DB, orderID string) ([]types.OrderItem, error) {
	var items []types.OrderItem
	if err := tx.Where("order_id = ?", orderID).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ClaimStockDeduction flips stock_deducted false -> true and reports whether
// this caller won the claim. The conditional update is the compare-and-set
// covering a race between pay-now and pay-on-delivery triggers.
func (d *Database) ClaimStockDeduction(tx *gorm.DB, orderID string) (bool, error) {
	result := tx.Model(&types.Order{}).
		Where("order_id = ? AND stock_deducted = ?", orderID, false).
		Update("stock_deducted", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (d *Database) GetRecipe(tx *gorm.DB, productID string) (*Recipe, []RecipeItem, error) {
	var recipe Recipe
	if err := tx.Where("product_id = ?", productID).First(&recipe).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	var items []RecipeItem
	if err := tx.Where("product_id = ?", productID).Find(&items).Error; err != nil {
		return nil, nil, err
	}
	return &recipe, items, nil
}

func (d *Database) GetInventoryItem(tx *gorm.DB, itemID string) (*InventoryItem, error) {
	var item InventoryItem
	if err := tx.Where("item_id = ?", itemID).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// GetOpenPackages returns open packages oldest-first so the longest-open
// package is drained before fresher ones
func (d *Database) GetOpenPackages(tx *gorm.DB, itemID string) ([]OpenPackage, error) {
	var packages []OpenPackage
	err := tx.Where("item_id = ? AND remaining > 0", itemID).
		Order("opened_at asc").
		Find(&packages).Error
	if err != nil {
		return nil, err
	}
	return packages, nil
}

func (d *Database) Transaction(fn func(tx *gorm.DB) error) error {
	return d.db.Transaction(fn)
}
