// Package settlement realizes the outcome of a position: releasing its
// margin, applying P&L, recording the trade, and removing the position row.
// The same routine backs manual closes, stop triggers in the matching pass,
// and the liquidation scanner.
package settlement

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/perp-api/internal/errs"
	"github.com/ksred/perp-api/internal/ledger"
	"github.com/ksred/perp-api/internal/oracle"
	"github.com/ksred/perp-api/internal/types"
	"github.com/ksred/perp-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Apply settles pos at exitPrice inside tx, mutating acct in memory. A
// liquidation fixes P&L at the full margin loss regardless of exit price.
// The caller persists acct in the same transaction; callers must have locked
// both the account and the position row first.
//
// Effects: margin released from locked, P&L realized on total/available, one
// Trade row, two BalanceHistoryEntry rows (margin release then P&L), and the
// position row deleted.
func Apply(tx *gorm.DB, acct *types.Account, pos *types.Position, exitPrice float64, status types.TradeStatus) (*types.Trade, error) {
	pnl := types.RealizedPnl(pos.EntryPrice, exitPrice, pos.Size, pos.Side)
	if status == types.TradeStatusLiquidated {
		pnl = -pos.Margin
	}

	trade := &types.Trade{
		TradeID:     "TRD_" + uuid.New().String(),
		AccountID:   pos.AccountID,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		Size:        pos.Size,
		Margin:      pos.Margin,
		Leverage:    pos.Leverage,
		RealizedPnl: pnl,
		Status:      status,
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    time.Now(),
	}
	if err := tx.Create(trade).Error; err != nil {
		return nil, errs.Persistence(err)
	}

	ledger.Release(acct, pos.Margin)
	if err := ledger.AppendHistory(tx, ledger.HistoryEntry(acct, types.ChangePositionClosed, pos.Margin, &trade.TradeID)); err != nil {
		return nil, err
	}

	ledger.Realize(acct, pnl)
	changeType := types.ChangeTradeProfit
	switch {
	case status == types.TradeStatusLiquidated:
		changeType = types.ChangeLiquidation
	case pnl < 0:
		changeType = types.ChangeTradeLoss
	}
	if err := ledger.AppendHistory(tx, ledger.HistoryEntry(acct, changeType, pnl, &trade.TradeID)); err != nil {
		return nil, err
	}

	if err := tx.Delete(pos).Error; err != nil {
		return nil, errs.Persistence(err)
	}

	return trade, nil
}

// Service handles manual position closes and position/trade reads.
type Service struct {
	db     *Database
	oracle oracle.PriceSource
}

func NewService(gormDB *gorm.DB, priceSource oracle.PriceSource) *Service {
	return &Service{
		db:     NewDatabase(gormDB),
		oracle: priceSource,
	}
}

// GetDB exposes the database for the scanner wiring.
func (s *Service) GetDB() *Database {
	return s.db
}

// ClosePosition settles an open position at the current mark price.
// The oracle is consulted before any lock is taken; a position that vanishes
// between the read and the locked re-select was settled by a concurrent
// actor and reports not found.
func (s *Service) ClosePosition(accountID, positionID string) (*types.CloseResult, error) {
	logger := log.With().
		Str("position_id", positionID).
		Str("account_id", accountID).
		Str("service", "settlement").
		Logger()

	pos, err := s.db.GetPosition(positionID, accountID)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, errs.ErrNotFound
	}

	exitPrice, err := s.oracle.MarkPrice(pos.Symbol, "")
	if err != nil {
		logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("no mark price for close")
		return nil, err
	}

	var result *types.CloseResult
	err = s.db.Transaction(func(tx *gorm.DB) error {
		acct, err := ledger.GetAccountForUpdate(tx, accountID)
		if err != nil {
			return err
		}

		locked, err := GetPositionForUpdate(tx, positionID, accountID)
		if err != nil {
			return err
		}
		if locked == nil {
			return errs.ErrNotFound
		}

		trade, err := Apply(tx, acct, locked, exitPrice, types.TradeStatusClosed)
		if err != nil {
			return err
		}

		if err := CancelOpenStops(tx, locked.PositionID, "", "Position closed"); err != nil {
			return err
		}

		if err := ledger.SaveAccount(tx, acct); err != nil {
			return err
		}

		result = &types.CloseResult{
			Closed:         true,
			RealizedPnl:    trade.RealizedPnl,
			ExitPrice:      exitPrice,
			UpdatedBalance: types.BalanceOf(acct),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info().
		Float64("exit_price", result.ExitPrice).
		Float64("realized_pnl", result.RealizedPnl).
		Msg("position closed")

	return result, nil
}

// GetPositions returns the open positions for an account.
func (s *Service) GetPositions(accountID string) ([]types.Position, error) {
	return s.db.ListPositions(accountID)
}

// GetTrades returns the realized trade history for an account, newest first.
func (s *Service) GetTrades(accountID string, limit int) ([]types.Trade, error) {
	return s.db.ListTrades(accountID, limit)
}

// GinHandlers contains HTTP handlers for position and trade endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

func (h *GinHandlers) ClosePositionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetString("accountID")

		var request struct {
			PositionID string `json:"position_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.ClosePosition(accountID, request.PositionID)
		response.Handle(c, result, err)
	}
}

func (h *GinHandlers) GetPositionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetString("accountID")

		positions, err := h.service.GetPositions(accountID)
		response.Handle(c, positions, err)
	}
}

func (h *GinHandlers) GetTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetString("accountID")

		trades, err := h.service.GetTrades(accountID, clampLimit(c.Query("limit")))
		response.Handle(c, trades, err)
	}
}
