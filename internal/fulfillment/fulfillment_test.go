package fulfillment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/payper/payper-api/internal/types"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&types.Order{},
		&types.OrderItem{},
		&InventoryItem{},
		&OpenPackage{},
		&Recipe{},
		&RecipeItem{},
		&DeductionError{},
	))
	return db
}

func seedCoffeeOrder(t *testing.T, db *gorm.DB, orderID string, quantity float64) {
	require.NoError(t, db.Create(&types.Order{
		OrderID:       orderID,
		StoreID:       "store-1",
		Status:        "confirmed",
		PaymentStatus: types.PaymentStatusApproved,
		IsPaid:        true,
	}).Error)
	require.NoError(t, db.Create(&types.OrderItem{
		OrderID:   orderID,
		ProductID: "espresso",
		Title:     "Espresso",
		Quantity:  quantity,
		UnitPrice: 300,
	}).Error)
}

func TestDeductStockExactlyOnce(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	seedCoffeeOrder(t, db, "order-1", 2)
	require.NoError(t, db.Create(&InventoryItem{ItemID: "beans", StoreID: "store-1", Name: "Beans", Unit: "g", SealedStock: 100}).Error)
	require.NoError(t, db.Create(&Recipe{ProductID: "espresso", YieldQuantity: 1}).Error)
	require.NoError(t, db.Create(&RecipeItem{ProductID: "espresso", IngredientID: "beans", Quantity: 18}).Error)

	result, err := service.DeductStock("order-1")
	require.NoError(t, err)
	assert.False(t, result.AlreadyDeducted)
	assert.Empty(t, result.Shortages)

	var beans InventoryItem
	require.NoError(t, db.Where("item_id = ?", "beans").First(&beans).Error)
	assert.Equal(t, float64(100-36), beans.SealedStock)

	// Second trigger, from whichever path fires later, is a no-op
	result, err = service.DeductStock("order-1")
	require.NoError(t, err)
	assert.True(t, result.AlreadyDeducted)

	require.NoError(t, db.Where("item_id = ?", "beans").First(&beans).Error)
	assert.Equal(t, float64(64), beans.SealedStock)
}

func TestDeductStockDrainsOpenPackagesFirst(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	seedCoffeeOrder(t, db, "order-1", 1)
	require.NoError(t, db.Create(&InventoryItem{ItemID: "beans", StoreID: "store-1", Name: "Beans", Unit: "g", SealedStock: 10}).Error)
	require.NoError(t, db.Create(&OpenPackage{ItemID: "beans", Capacity: 250, Remaining: 3, OpenedAt: time.Now().Add(-time.Hour)}).Error)
	require.NoError(t, db.Create(&Recipe{ProductID: "espresso", YieldQuantity: 1}).Error)
	require.NoError(t, db.Create(&RecipeItem{ProductID: "espresso", IngredientID: "beans", Quantity: 5}).Error)

	result, err := service.DeductStock("order-1")
	require.NoError(t, err)
	assert.Empty(t, result.Shortages)

	// The open package empties before sealed stock is touched
	var pkg OpenPackage
	require.NoError(t, db.Where("item_id = ?", "beans").First(&pkg).Error)
	assert.Equal(t, float64(0), pkg.Remaining)

	var beans InventoryItem
	require.NoError(t, db.Where("item_id = ?", "beans").First(&beans).Error)
	assert.Equal(t, float64(8), beans.SealedStock)
}

func TestDeductStockDrainsOldestPackageFirst(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	seedCoffeeOrder(t, db, "order-1", 1)
	require.NoError(t, db.Create(&InventoryItem{ItemID: "beans", StoreID: "store-1", Name: "Beans", Unit: "g", SealedStock: 100}).Error)
	require.NoError(t, db.Create(&OpenPackage{ItemID: "beans", Capacity: 250, Remaining: 10, OpenedAt: time.Now().Add(-time.Minute)}).Error)
	require.NoError(t, db.Create(&OpenPackage{ItemID: "beans", Capacity: 250, Remaining: 10, OpenedAt: time.Now().Add(-2 * time.Hour)}).Error)
	require.NoError(t, db.Create(&Recipe{ProductID: "espresso", YieldQuantity: 1}).Error)
	require.NoError(t, db.Create(&RecipeItem{ProductID: "espresso", IngredientID: "beans", Quantity: 6}).Error)

	_, err := service.DeductStock("order-1")
	require.NoError(t, err)

	var packages []OpenPackage
	require.NoError(t, db.Where("item_id = ?", "beans").Order("opened_at asc").Find(&packages).Error)
	require.Len(t, packages, 2)
	assert.Equal(t, float64(4), packages[0].Remaining, "oldest package drains first")
	assert.Equal(t, float64(10), packages[1].Remaining, "fresher package untouched")
}

func TestDeductStockRecordsShortageAndGoesNegative(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	seedCoffeeOrder(t, db, "order-1", 1)
	require.NoError(t, db.Create(&InventoryItem{ItemID: "beans", StoreID: "store-1", Name: "Beans", Unit: "g", SealedStock: 10}).Error)
	require.NoError(t, db.Create(&Recipe{ProductID: "espresso", YieldQuantity: 1}).Error)
	require.NoError(t, db.Create(&RecipeItem{ProductID: "espresso", IngredientID: "beans", Quantity: 18}).Error)

	result, err := service.DeductStock("order-1")
	require.NoError(t, err, "insufficient stock must not fail the deduction")
	require.Len(t, result.Shortages, 1)
	assert.Equal(t, "beans", result.Shortages[0].IngredientID)
	assert.Equal(t, float64(18), result.Shortages[0].Requested)
	assert.Equal(t, float64(10), result.Shortages[0].Available)

	var beans InventoryItem
	require.NoError(t, db.Where("item_id = ?", "beans").First(&beans).Error)
	assert.Equal(t, float64(-8), beans.SealedStock)

	var deductionErr DeductionError
	require.NoError(t, db.Where("order_id = ?", "order-1").First(&deductionErr).Error)
	assert.Equal(t, "beans", deductionErr.IngredientID)
}

func TestDeductStockUnknownIngredient(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	seedCoffeeOrder(t, db, "order-1", 1)
	require.NoError(t, db.Create(&Recipe{ProductID: "espresso", YieldQuantity: 1}).Error)
	require.NoError(t, db.Create(&RecipeItem{ProductID: "espresso", IngredientID: "ghost", Quantity: 5}).Error)

	result, err := service.DeductStock("order-1")
	require.NoError(t, err)
	require.Len(t, result.Shortages, 1)
	assert.Equal(t, "ghost", result.Shortages[0].IngredientID)
	assert.Equal(t, float64(0), result.Shortages[0].Available)
}

func TestDeductStockSkipsProductsWithoutRecipe(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	seedCoffeeOrder(t, db, "order-1", 1)

	result, err := service.DeductStock("order-1")
	require.NoError(t, err)
	assert.False(t, result.AlreadyDeducted)
	assert.Empty(t, result.Shortages)
}

func TestDeductStockScalesByYield(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	// The recipe yields 4 servings, the order takes 2, so half a batch
	seedCoffeeOrder(t, db, "order-1", 2)
	require.NoError(t, db.Create(&InventoryItem{ItemID: "beans", StoreID: "store-1", Name: "Beans", Unit: "g", SealedStock: 100}).Error)
	require.NoError(t, db.Create(&Recipe{ProductID: "espresso", YieldQuantity: 4}).Error)
	require.NoError(t, db.Create(&RecipeItem{ProductID: "espresso", IngredientID: "beans", Quantity: 40}).Error)

	_, err := service.DeductStock("order-1")
	require.NoError(t, err)

	var beans InventoryItem
	require.NoError(t, db.Where("item_id = ?", "beans").First(&beans).Error)
	assert.Equal(t, float64(80), beans.SealedStock)
}

func TestDeductStockOrderNotFound(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	_, err := service.DeductStock("missing-order")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
