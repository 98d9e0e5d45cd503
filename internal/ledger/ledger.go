// Package ledger owns the margin balances of a paper account. The three
// primitives mutate an Account row in memory; callers persist the row inside
// the same transaction as the order/position rows the movement pairs with, so
// a partial application is never observable.
//
// Invariant maintained by all three: locked >= 0 and available = total - locked.
package ledger

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/perp-api/internal/errs"
	"github.com/ksred/perp-api/internal/types"
	"github.com/ksred/perp-api/pkg/response"
	"gorm.io/gorm"
)

// Reserve moves margin from available to locked. Fails without mutating when
// the account cannot cover the amount.
func Reserve(acct *types.Account, amount float64) error {
	if amount > acct.Available {
		return errs.ErrInsufficientBalance
	}
	acct.Locked += amount
	acct.Available -= amount
	return nil
}

// Release moves margin from locked back to available, clamped so locked never
// goes negative.
func Release(acct *types.Account, amount float64) {
	if amount > acct.Locked {
		amount = acct.Locked
	}
	acct.Locked -= amount
	acct.Available += amount
}

// Realize applies settled P&L to total and available together. Locked is
// never touched here; the margin backing the position is returned via Release.
func Realize(acct *types.Account, pnl float64) {
	acct.Total += pnl
	acct.Available += pnl
}

// HistoryEntry builds an audit row for a balance movement on acct. The
// available_after field snapshots the account as mutated so far.
func HistoryEntry(acct *types.Account, changeType types.ChangeType, amount float64, tradeID *string) *types.BalanceHistoryEntry {
	return &types.BalanceHistoryEntry{
		AccountID:      acct.AccountID,
		ChangeType:     changeType,
		Amount:         amount,
		AvailableAfter: acct.Available,
		TradeID:        tradeID,
		Timestamp:      time.Now(),
	}
}

// Service exposes account provisioning and balance reads.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// EnsureAccount creates the paper account with the starting balance if it
// does not exist yet, and returns it either way.
func (s *Service) EnsureAccount(accountID string) (*types.Account, error) {
	return s.db.EnsureAccount(accountID)
}

// GetBalance returns the committed balance snapshot for an account.
func (s *Service) GetBalance(accountID string) (types.Balance, error) {
	acct, err := s.db.GetAccount(accountID)
	if err != nil {
		return types.Balance{}, err
	}
	return types.BalanceOf(acct), nil
}

// GetHistory returns the most recent balance history rows for an account.
func (s *Service) GetHistory(accountID string, limit int) ([]types.BalanceHistoryEntry, error) {
	return s.db.GetHistory(accountID, limit)
}

// GinHandlers contains HTTP handlers for balance endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetBalanceHandler handles GET requests for the account balance snapshot
func (h *GinHandlers) GetBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetString("accountID")

		balance, err := h.service.GetBalance(accountID)
		response.Handle(c, balance, err)
	}
}

// GetHistoryHandler handles GET requests for the balance audit log
func (h *GinHandlers) GetHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetString("accountID")
		limit := clampLimit(c.Query("limit"))

		history, err := h.service.GetHistory(accountID, limit)
		response.Handle(c, history, err)
	}
}
