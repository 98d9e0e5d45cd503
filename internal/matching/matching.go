// Package matching is the engine that consumes a (symbol, mark price) tick
// for an account and settles its consequences: limit fills, stop triggers,
// and liquidations. The house is the only counterparty, so every fill is
// against the synthetic mark price and orders are processed oldest first.
package matching

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/perp-api/internal/errs"
	"github.com/ksred/perp-api/internal/ledger"
	"github.com/ksred/perp-api/internal/settlement"
	"github.com/ksred/perp-api/internal/trading"
	"github.com/ksred/perp-api/internal/types"
	"github.com/ksred/perp-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service runs matching passes.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// MatchOrders processes every open order for (account, symbol) against the
// mark price, then re-scans the account's positions on that symbol for
// liquidation breaches. The whole pass runs in one transaction: the account
// row is locked first, then orders, then positions; balance deltas accumulate
// on the in-memory account and are written once at the end. Safe to invoke
// redundantly or concurrently for the same symbol.
func (s *Service) MatchOrders(accountID, symbol string, markPrice float64) (*types.MatchResult, error) {
	symbol = strings.ToUpper(symbol)
	if !types.SupportedSymbols[symbol] {
		return nil, errs.Validation("unsupported symbol")
	}
	if markPrice <= 0 {
		return nil, errs.Validation("invalid mark price")
	}

	logger := log.With().
		Str("account_id", accountID).
		Str("symbol", symbol).
		Float64("mark_price", markPrice).
		Str("service", "matching").
		Logger()

	result := &types.MatchResult{}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		acct, err := ledger.GetAccountForUpdate(tx, accountID)
		if err != nil {
			return err
		}

		orders, err := getOpenOrdersForUpdate(tx, accountID, symbol)
		if err != nil {
			return err
		}

		for i := range orders {
			order := &orders[i]
			switch order.OrderType {
			case types.OrderTypeLimit:
				err = s.processLimitOrder(tx, acct, order, markPrice, result)
			case types.OrderTypeStopMarket:
				err = s.processStopOrder(tx, acct, order, markPrice, result)
			}
			if err != nil {
				return err
			}
		}

		positions, err := getPositionsForUpdate(tx, accountID, symbol)
		if err != nil {
			return err
		}
		for i := range positions {
			pos := &positions[i]
			if !types.LiquidationBreached(markPrice, pos.LiquidationPrice, pos.Side) {
				continue
			}
			if _, err := settlement.Apply(tx, acct, pos, markPrice, types.TradeStatusLiquidated); err != nil {
				return err
			}
			if err := settlement.CancelOpenStops(tx, pos.PositionID, "", "Position liquidated"); err != nil {
				return err
			}
			result.Liquidated++
		}

		return ledger.SaveAccount(tx, acct)
	})
	if err != nil {
		return nil, err
	}

	if result.Matched+result.TriggeredStops+result.Liquidated+result.Rejected > 0 {
		logger.Info().
			Int("matched", result.Matched).
			Int("triggered_stops", result.TriggeredStops).
			Int("liquidated", result.Liquidated).
			Int("rejected", result.Rejected).
			Msg("matching pass settled activity")
	}

	return result, nil
}

// processLimitOrder fills a resting limit order when the mark crosses its
// limit price. Fills open the position at the limit price, not the mark.
func (s *Service) processLimitOrder(tx *gorm.DB, acct *types.Account, order *types.Order, markPrice float64, result *types.MatchResult) error {
	if order.LimitPrice == nil || *order.LimitPrice <= 0 {
		return s.rejectOrder(tx, acct, order, "Invalid limit price", result)
	}
	limitPrice := *order.LimitPrice

	shouldFill := order.Side == types.SideLong && markPrice <= limitPrice ||
		order.Side == types.SideShort && markPrice >= limitPrice
	if !shouldFill {
		return nil
	}

	existing, err := getPositionBySideForUpdate(tx, order.AccountID, order.Symbol, order.Side)
	if err != nil {
		return err
	}
	if existing != nil {
		return s.rejectOrder(tx, acct, order, "Position already open for symbol/side", result)
	}

	now := time.Now()
	pos := &types.Position{
		PositionID:       "POS_" + newPositionID(),
		AccountID:        order.AccountID,
		Symbol:           order.Symbol,
		Side:             order.Side,
		EntryPrice:       limitPrice,
		Size:             order.Size,
		Margin:           order.MarginReserved,
		Leverage:         order.Leverage,
		LiquidationPrice: types.LiquidationPrice(limitPrice, order.Leverage, order.Side),
		OpenedAt:         now,
	}
	if err := tx.Create(pos).Error; err != nil {
		return errs.Persistence(err)
	}

	order.LinkedPositionID = &pos.PositionID
	order.FilledPrice = &limitPrice
	order.FilledAt = &now
	if err := markOrderTerminal(tx, order, types.OrderStatusFilled, ""); err != nil {
		return err
	}

	if order.AttachedStopLossPrice != nil && *order.AttachedStopLossPrice > 0 {
		stop := trading.NewStopOrder(order.AccountID, pos, *order.AttachedStopLossPrice)
		if err := tx.Create(stop).Error; err != nil {
			return errs.Persistence(err)
		}
	}

	// Margin moved from available to locked at placement; the audit row for
	// the position opening lands at fill time.
	if err := ledger.AppendHistory(tx, ledger.HistoryEntry(acct, types.ChangePositionOpened, -pos.Margin, nil)); err != nil {
		return err
	}

	result.Matched++
	return nil
}

// processStopOrder triggers a reduce-only stop against its linked position.
// A stop whose position is already gone was raced by another close path and
// is canceled, not an error.
func (s *Service) processStopOrder(tx *gorm.DB, acct *types.Account, order *types.Order, markPrice float64, result *types.MatchResult) error {
	if order.StopPrice == nil || *order.StopPrice <= 0 || order.LinkedPositionID == nil {
		return s.rejectOrder(tx, acct, order, "Invalid stop order configuration", result)
	}

	pos, err := settlement.GetPositionForUpdate(tx, *order.LinkedPositionID, order.AccountID)
	if err != nil {
		return err
	}
	if pos == nil {
		return markOrderTerminal(tx, order, types.OrderStatusCanceled, "Linked position no longer exists")
	}

	shouldTrigger := pos.Side == types.SideLong && markPrice <= *order.StopPrice ||
		pos.Side == types.SideShort && markPrice >= *order.StopPrice
	if !shouldTrigger {
		return nil
	}

	if _, err := settlement.Apply(tx, acct, pos, markPrice, types.TradeStatusClosed); err != nil {
		return err
	}

	order.FilledPrice = &markPrice
	now := time.Now()
	order.FilledAt = &now
	if err := markOrderTerminal(tx, order, types.OrderStatusFilled, ""); err != nil {
		return err
	}

	if err := settlement.CancelOpenStops(tx, pos.PositionID, order.OrderID, "Position closed by stop trigger"); err != nil {
		return err
	}

	result.TriggeredStops++
	result.Matched++
	return nil
}

// rejectOrder releases any margin the order holds and records the rejection.
func (s *Service) rejectOrder(tx *gorm.DB, acct *types.Account, order *types.Order, reason string, result *types.MatchResult) error {
	if order.MarginReserved > 0 {
		ledger.Release(acct, order.MarginReserved)
	}
	if err := markOrderTerminal(tx, order, types.OrderStatusRejected, reason); err != nil {
		return err
	}
	result.Rejected++
	return nil
}

// GinHandlers contains HTTP handlers for the matching endpoint
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// MatchOrdersHandler handles POST requests to run a matching pass.
// Clients and schedulers invoke it opportunistically on every price tick.
func (h *GinHandlers) MatchOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetString("accountID")

		var request struct {
			Symbol    string  `json:"symbol" binding:"required"`
			MarkPrice float64 `json:"mark_price" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.MatchOrders(accountID, request.Symbol, request.MarkPrice)
		response.Handle(c, result, err)
	}
}
