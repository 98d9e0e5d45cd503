package settlement

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

// GetPosition returns the position without locking, or nil if it is gone.
func (d *Database) GetPosition(positionID, accountID string) (*types.Position, error) {
	var pos types.Position
	err := d.db.Where("position_id = ? AND account_id = ?", positionID, accountID).First(&pos).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errs.Persistence(err)
	}
	return &pos, nil
}

// ListPositions returns the open positions for an account.
func (d *Database) ListPositions(accountID string) ([]types.Position, error) {
	var positions []types.Position
	err := d.db.Where("account_id = ?", accountID).
		Order("opened_at ASC").
		Find(&positions).Error
	if err != nil {
		return nil, errs.Persistence(err)
	}
	return positions, nil
}

// ListAllPositions returns every open position across accounts, for the
// liquidation sweep.
func (d *Database) ListAllPositions() ([]types.Position, error) {
	var positions []types.Position
	if err := d.db.Find(&positions).Error; err != nil {
		return nil, errs.Persistence(err)
	}
	return positions, nil
}

// ListTrades returns realized trades newest first.
func (d *Database) ListTrades(accountID string, limit int) ([]types.Trade, error) {
	var trades []types.Trade
	err := d.db.Where("account_id = ?", accountID).
		Order("closed_at DESC").
		Limit(limit).
		Find(&trades).Error
	if err != nil {
		return nil, errs.Persistence(err)
	}
	return trades, nil
}

// GetPositionForUpdate locks and re-selects a position inside tx. A nil
// result without error means another actor already settled it; callers treat
// that as a no-op, never a double settle.
func GetPositionForUpdate(tx *gorm.DB, positionID, accountID string) (*types.Position, error) {
	var pos types.Position
	query := database.LockForUpdate(tx).Where("position_id = ?", positionID)
	if accountID != "" {
		query = query.Where("account_id = ?", accountID)
	}
	if err := query.First(&pos).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errs.Persistence(err)
	}
	return &pos, nil
}

// CancelOpenStops cancels every open stop-market order still pointing at a
// position, recording why. excludeOrderID skips the order currently being
// processed (the triggering stop itself).
func CancelOpenStops(tx *gorm.DB, positionID, excludeOrderID, reason string) error {
	query := tx.Model(&types.Order{}).
		Where("linked_position_id = ?", positionID).
		Where("order_type = ?", types.OrderTypeStopMarket).
		Where("status = ?", types.OrderStatusOpen)
	if excludeOrderID != "" {
		query = query.Where("order_id <> ?", excludeOrderID)
	}

	err := query.Updates(map[string]interface{}{
		"status":        types.OrderStatusCanceled,
		"reject_reason": reason,
	}).Error
	return errs.Persistence(err)
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
