package notifications

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/payper/payper-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateTask(task *Task) error {
	return d.db.Create(task).Error
}

func (d *Database) GetTaskByOrderID(orderID string) (*Task, error) {
	var task Task
	if err := d.db.Where("order_id = ?", orderID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// GetDueTasks selects pending tasks whose next attempt time has passed, in a
// bounded batch ordered by due time
func (d *Database) GetDueTasks(now time.Time, limit int) ([]Task, error) {
	var tasks []Task
	err := d.db.Where("status = ? AND next_attempt_at <= ?", StatusPending, now).
		Order("next_attempt_at asc").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (d *Database) UpdateTask(task *Task) error {
	return d.db.Save(task).Error
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

func (d *Database) GetStore(storeID string) (*types.Store, error) {
	var store types.Store
	if err := d.db.Where("store_id = ?", storeID).First(&store).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &store, nil
}
