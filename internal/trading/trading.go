// Package trading owns the order lifecycle: validation, margin reservation,
// immediate market fills, resting limit/stop orders, and cancellation.
package trading

import (
	"strings"
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

// Service validates and creates orders and handles cancellation.
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

// PlaceOrderRequest carries the caller-supplied order parameters.
type PlaceOrderRequest struct {
	Symbol        string          `json:"symbol"`
	Side          types.Side      `json:"side"`
	OrderType     types.OrderType `json:"order_type"`
	Size          float64         `json:"size"`
	Leverage      int             `json:"leverage"`
	LimitPrice    *float64        `json:"limit_price"`
	StopLossPrice *float64        `json:"stop_loss_price"`
}

// PlaceOrder validates the request, reserves margin, and either fills a
// market order immediately (opening a position at the oracle price) or rests
// a limit order for the matching engine. All validation, including the oracle
// read, happens before any lock is taken.
func (s *Service) PlaceOrder(accountID string, req PlaceOrderRequest) (*types.PlaceOrderResponse, error) {
	logger := log.With().
		Str("account_id", accountID).
		Str("service", "trading").
		Logger()

	req.Symbol = strings.ToUpper(req.Symbol)
	if err := validatePlaceOrder(req); err != nil {
		return nil, err
	}

	markPrice, err := s.oracle.MarkPrice(req.Symbol, req.Side)
	if err != nil {
		logger.Warn().Err(err).Str("symbol", req.Symbol).Msg("no mark price for order placement")
		return nil, err
	}

	// Entry reference: the limit price for limit orders, the current mark
	// for market orders. Stop losses must sit on the losing side of it.
	entryRef := markPrice
	if req.OrderType == types.OrderTypeLimit {
		entryRef = *req.LimitPrice

		validDirection := req.Side == types.SideLong && entryRef < markPrice ||
			req.Side == types.SideShort && entryRef > markPrice
		if !validDirection {
			if req.Side == types.SideLong {
				return nil, errs.Validation("long limit price must be below current market price")
			}
			return nil, errs.Validation("short limit price must be above current market price")
		}
	}

	if req.StopLossPrice != nil {
		validStop := req.Side == types.SideLong && *req.StopLossPrice < entryRef ||
			req.Side == types.SideShort && *req.StopLossPrice > entryRef
		if !validStop {
			if req.Side == types.SideLong {
				return nil, errs.Validation("for long orders, stop loss must be below entry price")
			}
			return nil, errs.Validation("for short orders, stop loss must be above entry price")
		}
	}

	margin := req.Size / float64(req.Leverage)

	var result *types.PlaceOrderResponse
	err = s.db.Transaction(func(tx *gorm.DB) error {
		acct, err := ledger.GetAccountForUpdate(tx, accountID)
		if err != nil {
			return err
		}

		existing, err := getPositionBySide(tx, accountID, req.Symbol, req.Side)
		if err != nil {
			return err
		}
		if existing != nil {
			return errs.ErrDuplicatePosition
		}

		if err := ledger.Reserve(acct, margin); err != nil {
			return err
		}

		if req.OrderType == types.OrderTypeLimit {
			order := &types.Order{
				OrderID:               "ORD_" + uuid.New().String(),
				AccountID:             accountID,
				Symbol:                req.Symbol,
				Side:                  req.Side,
				OrderType:             types.OrderTypeLimit,
				Status:                types.OrderStatusOpen,
				Size:                  req.Size,
				Leverage:              req.Leverage,
				LimitPrice:            req.LimitPrice,
				AttachedStopLossPrice: req.StopLossPrice,
				MarginReserved:        margin,
			}
			if err := tx.Create(order).Error; err != nil {
				return errs.Persistence(err)
			}
			if err := ledger.SaveAccount(tx, acct); err != nil {
				return err
			}

			result = &types.PlaceOrderResponse{
				Order:          order,
				UpdatedBalance: types.BalanceOf(acct),
			}
			return nil
		}

		// Market: open the position at the oracle price and record the
		// order pre-filled. Its margin lives on the position row.
		now := time.Now()
		pos := &types.Position{
			PositionID:       "POS_" + uuid.New().String(),
			AccountID:        accountID,
			Symbol:           req.Symbol,
			Side:             req.Side,
			EntryPrice:       markPrice,
			Size:             req.Size,
			Margin:           margin,
			Leverage:         req.Leverage,
			LiquidationPrice: types.LiquidationPrice(markPrice, req.Leverage, req.Side),
			OpenedAt:         now,
		}
		if err := tx.Create(pos).Error; err != nil {
			return errs.Persistence(err)
		}

		order := &types.Order{
			OrderID:          "ORD_" + uuid.New().String(),
			AccountID:        accountID,
			Symbol:           req.Symbol,
			Side:             req.Side,
			OrderType:        types.OrderTypeMarket,
			Status:           types.OrderStatusFilled,
			Size:             req.Size,
			Leverage:         req.Leverage,
			LinkedPositionID: &pos.PositionID,
			FilledPrice:      &markPrice,
			FilledAt:         &now,
		}
		if err := tx.Create(order).Error; err != nil {
			return errs.Persistence(err)
		}

		if req.StopLossPrice != nil {
			stop := NewStopOrder(accountID, pos, *req.StopLossPrice)
			if err := tx.Create(stop).Error; err != nil {
				return errs.Persistence(err)
			}
		}

		if err := ledger.AppendHistory(tx, ledger.HistoryEntry(acct, types.ChangePositionOpened, -margin, nil)); err != nil {
			return err
		}
		if err := ledger.SaveAccount(tx, acct); err != nil {
			return err
		}

		result = &types.PlaceOrderResponse{
			Order:          order,
			Position:       pos,
			UpdatedBalance: types.BalanceOf(acct),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("order_id", result.Order.OrderID).
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("order_type", string(req.OrderType)).
		Float64("size", req.Size).
		Int("leverage", req.Leverage).
		Float64("margin", margin).
		Msg("order placed")

	return result, nil
}

// CancelOrder releases any reserved margin and moves an open order to
// canceled. Terminal orders cannot be canceled.
func (s *Service) CancelOrder(accountID, orderID string) (*types.CancelOrderResponse, error) {
	var result *types.CancelOrderResponse
	err := s.db.Transaction(func(tx *gorm.DB) error {
		acct, err := ledger.GetAccountForUpdate(tx, accountID)
		if err != nil {
			return err
		}

		order, err := getOrderForUpdate(tx, orderID, accountID)
		if err != nil {
			return err
		}
		if !order.Status.CanTransitionTo(types.OrderStatusCanceled) {
			return errs.ErrInvalidState
		}

		if order.MarginReserved > 0 {
			ledger.Release(acct, order.MarginReserved)
			if err := ledger.SaveAccount(tx, acct); err != nil {
				return err
			}
		}

		if err := markOrderTerminal(tx, order, types.OrderStatusCanceled, ""); err != nil {
			return err
		}

		result = &types.CancelOrderResponse{
			Order:          order,
			UpdatedBalance: types.BalanceOf(acct),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetOrders lists an account's orders filtered by status and optional symbol.
func (s *Service) GetOrders(accountID string, status types.OrderStatus, symbol string, limit int) ([]types.Order, error) {
	switch status {
	case types.OrderStatusOpen, types.OrderStatusFilled, types.OrderStatusCanceled, types.OrderStatusRejected:
	default:
		return nil, errs.Validation("invalid status filter")
	}
	if symbol != "" && !types.SupportedSymbols[symbol] {
		return nil, errs.Validation("unsupported symbol")
	}
	return s.db.ListOrders(accountID, status, symbol, limit)
}

// NewStopOrder builds the reduce-only stop-market child protecting a
// position. It reserves no margin of its own.
func NewStopOrder(accountID string, pos *types.Position, stopPrice float64) *types.Order {
	return &types.Order{
		OrderID:          "ORD_" + uuid.New().String(),
		AccountID:        accountID,
		Symbol:           pos.Symbol,
		Side:             pos.Side,
		OrderType:        types.OrderTypeStopMarket,
		Status:           types.OrderStatusOpen,
		Size:             pos.Size,
		Leverage:         pos.Leverage,
		ReduceOnly:       true,
		StopPrice:        &stopPrice,
		LinkedPositionID: &pos.PositionID,
	}
}

func validatePlaceOrder(req PlaceOrderRequest) error {
	if !types.SupportedSymbols[req.Symbol] {
		return errs.Validation("unsupported symbol")
	}
	if !req.Side.Valid() {
		return errs.Validation("invalid side")
	}
	if req.OrderType != types.OrderTypeMarket && req.OrderType != types.OrderTypeLimit {
		return errs.Validation("invalid order type")
	}
	if req.Size < types.MinOrderSize {
		return errs.Validation("minimum position size is $%.0f", types.MinOrderSize)
	}
	if req.Leverage < types.MinLeverage || req.Leverage > types.MaxLeverage {
		return errs.Validation("invalid leverage")
	}
	if req.OrderType == types.OrderTypeLimit && (req.LimitPrice == nil || *req.LimitPrice <= 0) {
		return errs.Validation("limit price is required for limit orders")
	}
	if req.StopLossPrice != nil && *req.StopLossPrice <= 0 {
		return errs.Validation("invalid stop loss price")
	}
	return nil
}

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// PlaceOrderHandler handles POST requests to place new orders
func (h *GinHandlers) PlaceOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetString("accountID")

		var req PlaceOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.PlaceOrder(accountID, req)
		response.Handle(c, result, err)
	}
}

// CancelOrderHandler handles POST requests to cancel open orders
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetString("accountID")

		var request struct {
			OrderID string `json:"order_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.CancelOrder(accountID, request.OrderID)
		response.Handle(c, result, err)
	}
}

// GetOrdersHandler handles GET requests to list orders
func (h *GinHandlers) GetOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetString("accountID")

		status := types.OrderStatus(strings.ToLower(c.DefaultQuery("status", string(types.OrderStatusOpen))))
		symbol := strings.ToUpper(c.Query("symbol"))

		orders, err := h.service.GetOrders(accountID, status, symbol, clampLimit(c.Query("limit")))
		response.Handle(c, orders, err)
	}
}
