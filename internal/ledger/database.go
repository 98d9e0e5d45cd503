package ledger

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

// EnsureAccount creates the account with the starting balance if missing.
func (d *Database) EnsureAccount(accountID string) (*types.Account, error) {
	acct := types.Account{
		AccountID: accountID,
		Total:     types.StartingBalance,
		Locked:    0,
		Available: types.StartingBalance,
	}
	err := d.db.Where(types.Account{AccountID: accountID}).FirstOrCreate(&acct).Error
	if err != nil {
		return nil, errs.Persistence(err)
	}
	return &acct, nil
}

// GetAccount returns the account row without locking it.
func (d *Database) GetAccount(accountID string) (*types.Account, error) {
	var acct types.Account
	if err := d.db.Where("account_id = ?", accountID).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Persistence(err)
	}
	return &acct, nil
}

// GetHistory returns the newest history rows first.
func (d *Database) GetHistory(accountID string, limit int) ([]types.BalanceHistoryEntry, error) {
	var entries []types.BalanceHistoryEntry
	err := d.db.Where("account_id = ?", accountID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, errs.Persistence(err)
	}
	return entries, nil
}

// GetAccountForUpdate locks and returns the account row inside tx. The
// account lock is always taken before any order or position lock.
func GetAccountForUpdate(tx *gorm.DB, accountID string) (*types.Account, error) {
	var acct types.Account
	err := database.LockForUpdate(tx).
		Where("account_id = ?", accountID).
		First(&acct).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Persistence(err)
	}
	return &acct, nil
}

// SaveAccount persists the mutated account row inside tx.
func SaveAccount(tx *gorm.DB, acct *types.Account) error {
	return errs.Persistence(tx.Save(acct).Error)
}

// AppendHistory writes an audit row inside tx.
func AppendHistory(tx *gorm.DB, entry *types.BalanceHistoryEntry) error {
	return errs.Persistence(tx.Create(entry).Error)
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
