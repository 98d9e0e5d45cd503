package matching

import (
	"errors"

	"github.com/google/uuid"
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

// getOpenOrdersForUpdate locks the account's open orders for a symbol,
// oldest first. Creation order is the engine's sole fairness guarantee.
func getOpenOrdersForUpdate(tx *gorm.DB, accountID, symbol string) ([]types.Order, error) {
	var orders []types.Order
	err := database.LockForUpdate(tx).
		Where("account_id = ? AND symbol = ? AND status = ?", accountID, symbol, types.OrderStatusOpen).
		Order("created_at ASC").
		Find(&orders).Error
	if err != nil {
		return nil, errs.Persistence(err)
	}
	return orders, nil
}

// getPositionsForUpdate locks the account's open positions for a symbol.
func getPositionsForUpdate(tx *gorm.DB, accountID, symbol string) ([]types.Position, error) {
	var positions []types.Position
	err := database.LockForUpdate(tx).
		Where("account_id = ? AND symbol = ?", accountID, symbol).
		Find(&positions).Error
	if err != nil {
		return nil, errs.Persistence(err)
	}
	return positions, nil
}

// getPositionBySideForUpdate locks the open position for
// (account, symbol, side), or returns nil when none exists.
func getPositionBySideForUpdate(tx *gorm.DB, accountID, symbol string, side types.Side) (*types.Position, error) {
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

func newPositionID() string {
	return uuid.New().String()
}
