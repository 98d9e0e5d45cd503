package trading

import (
	"errors"
	"strconv"

	"github.com/ksred/perp-api/internal/database"
	"github.com/ksred/perp-api/internal/errs"
	"github.com/ksred/perp-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Transaction runs fn atomically; any error rolls back every write.
func (d *Database) Transaction(fn func(tx *gorm.DB) error) error {
	return d.db.Transaction(fn)
}

// ListOrders returns an account's orders by status and optional symbol,
// newest first.
func (d *Database) ListOrders(accountID string, status types.OrderStatus, symbol string, limit int) ([]types.Order, error) {
	query := d.db.Where("account_id = ? AND status = ?", accountID, status)
	if symbol != "" {
		query = query.Where("symbol = ?", symbol)
	}

	var orders []types.Order
	err := query.Order("created_at DESC").Limit(limit).Find(&orders).Error
	if err != nil {
		return nil, errs.Persistence(err)
	}
	return orders, nil
}

// getPositionBySide locks and returns the open position for
// (account, symbol, side), or nil when none exists.
func getPositionBySide(tx *gorm.DB, accountID, symbol string, side types.Side) (*types.Position, error) {
	var pos types.Position
	err := database.LockForUpdate(tx).
		Where("account_id = ? AND symbol = ? AND side = ?", accountID, symbol, side).
		First(&pos).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errs.Persistence(err)
	}
	return &pos, nil
}

// getOrderForUpdate locks and returns the order row inside tx.
func getOrderForUpdate(tx *gorm.DB, orderID, accountID string) (*types.Order, error) {
	var order types.Order
	err := database.LockForUpdate(tx).
		Where("order_id = ? AND account_id = ?", orderID, accountID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Persistence(err)
	}
	return &order, nil
}

// markOrderTerminal applies a legal lifecycle transition and persists it.
func markOrderTerminal(tx *gorm.DB, order *types.Order, next types.OrderStatus, reason string) error {
	if !order.Status.CanTransitionTo(next) {
		return errs.ErrInvalidState
	}
	order.Status = next
	if reason != "" {
		order.RejectReason = &reason
	}
	return errs.Persistence(tx.Save(order).Error)
}

func clampLimit(raw string) int {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 200
	}
	if limit > 500 {
		return 500
	}
	return limit
}
