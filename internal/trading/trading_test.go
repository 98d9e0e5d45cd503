package trading_test

import (
	"testing"

	"github.com/ksred/perp-api/internal/errs"
	"github.com/ksred/perp-api/internal/ledger"
	"github.com/ksred/perp-api/internal/testutil"
	"github.com/ksred/perp-api/internal/trading"
	"github.com/ksred/perp-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAccount = "acct-1"

func newTradingService(t *testing.T, prices testutil.StaticPrices) (*trading.Service, *ledger.Service) {
	t.Helper()
	db := testutil.NewTestDB(t)
	accounts := ledger.NewService(db)
	_, err := accounts.EnsureAccount(testAccount)
	require.NoError(t, err)
	return trading.NewService(db, prices), accounts
}

func ptr(f float64) *float64 { return &f }

func TestPlaceMarketOrderOpensPosition(t *testing.T) {
	svc, _ := newTradingService(t, testutil.StaticPrices{"BTC": 100})

	resp, err := svc.PlaceOrder(testAccount, trading.PlaceOrderRequest{
		Symbol:    "btc",
		Side:      types.SideLong,
		OrderType: types.OrderTypeMarket,
		Size:      500,
		Leverage:  10,
	})
	require.NoError(t, err)

	require.NotNil(t, resp.Position)
	assert.InDelta(t, 100.0, resp.Position.EntryPrice, 1e-9)
	assert.InDelta(t, 50.0, resp.Position.Margin, 1e-9)
	assert.InDelta(t, 90.0, resp.Position.LiquidationPrice, 1e-9)
	assert.Equal(t, "BTC", resp.Position.Symbol)

	assert.Equal(t, types.OrderStatusFilled, resp.Order.Status)
	require.NotNil(t, resp.Order.FilledPrice)
	assert.InDelta(t, 100.0, *resp.Order.FilledPrice, 1e-9)
	require.NotNil(t, resp.Order.LinkedPositionID)
	assert.Equal(t, resp.Position.PositionID, *resp.Order.LinkedPositionID)

	assert.InDelta(t, 10000.0, resp.UpdatedBalance.Total, 1e-9)
	assert.InDelta(t, 50.0, resp.UpdatedBalance.Locked, 1e-9)
	assert.InDelta(t, 9950.0, resp.UpdatedBalance.Available, 1e-9)
}

func TestPlaceMarketOrderWithStopLossCreatesStop(t *testing.T) {
	svc, _ := newTradingService(t, testutil.StaticPrices{"BTC": 100})

	resp, err := svc.PlaceOrder(testAccount, trading.PlaceOrderRequest{
		Symbol:        "BTC",
		Side:          types.SideLong,
		OrderType:     types.OrderTypeMarket,
		Size:          500,
		Leverage:      10,
		StopLossPrice: ptr(92),
	})
	require.NoError(t, err)

	open, err := svc.GetOrders(testAccount, types.OrderStatusOpen, "BTC", 10)
	require.NoError(t, err)
	require.Len(t, open, 1)

	stop := open[0]
	assert.Equal(t, types.OrderTypeStopMarket, stop.OrderType)
	assert.True(t, stop.ReduceOnly)
	require.NotNil(t, stop.StopPrice)
	assert.InDelta(t, 92.0, *stop.StopPrice, 1e-9)
	require.NotNil(t, stop.LinkedPositionID)
	assert.Equal(t, resp.Position.PositionID, *stop.LinkedPositionID)
	assert.InDelta(t, 0.0, stop.MarginReserved, 1e-9, "protective stops reserve no margin")
}

func TestPlaceLimitOrderRests(t *testing.T) {
	svc, _ := newTradingService(t, testutil.StaticPrices{"BTC": 100})

	resp, err := svc.PlaceOrder(testAccount, trading.PlaceOrderRequest{
		Symbol:     "BTC",
		Side:       types.SideLong,
		OrderType:  types.OrderTypeLimit,
		Size:       500,
		Leverage:   5,
		LimitPrice: ptr(95),
	})
	require.NoError(t, err)

	assert.Nil(t, resp.Position)
	assert.Equal(t, types.OrderStatusOpen, resp.Order.Status)
	assert.InDelta(t, 100.0, resp.Order.MarginReserved, 1e-9)
	assert.InDelta(t, 100.0, resp.UpdatedBalance.Locked, 1e-9)
	assert.InDelta(t, 9900.0, resp.UpdatedBalance.Available, 1e-9)
}

func TestPlaceOrderValidation(t *testing.T) {
	svc, _ := newTradingService(t, testutil.StaticPrices{"BTC": 100})

	tests := []struct {
		name string
		req  trading.PlaceOrderRequest
	}{
		{
			"unsupported symbol",
			trading.PlaceOrderRequest{Symbol: "DOGE", Side: types.SideLong, OrderType: types.OrderTypeMarket, Size: 100, Leverage: 2},
		},
		{
			"invalid side",
			trading.PlaceOrderRequest{Symbol: "BTC", Side: "sideways", OrderType: types.OrderTypeMarket, Size: 100, Leverage: 2},
		},
		{
			"stop market not placeable directly",
			trading.PlaceOrderRequest{Symbol: "BTC", Side: types.SideLong, OrderType: types.OrderTypeStopMarket, Size: 100, Leverage: 2},
		},
		{
			"below minimum size",
			trading.PlaceOrderRequest{Symbol: "BTC", Side: types.SideLong, OrderType: types.OrderTypeMarket, Size: 5, Leverage: 2},
		},
		{
			"zero leverage",
			trading.PlaceOrderRequest{Symbol: "BTC", Side: types.SideLong, OrderType: types.OrderTypeMarket, Size: 100, Leverage: 0},
		},
		{
			"leverage above maximum",
			trading.PlaceOrderRequest{Symbol: "BTC", Side: types.SideLong, OrderType: types.OrderTypeMarket, Size: 100, Leverage: 11},
		},
		{
			"limit order without limit price",
			trading.PlaceOrderRequest{Symbol: "BTC", Side: types.SideLong, OrderType: types.OrderTypeLimit, Size: 100, Leverage: 2},
		},
		{
			"long limit above market",
			trading.PlaceOrderRequest{Symbol: "BTC", Side: types.SideLong, OrderType: types.OrderTypeLimit, Size: 100, Leverage: 2, LimitPrice: ptr(105)},
		},
		{
			"short limit below market",
			trading.PlaceOrderRequest{Symbol: "BTC", Side: types.SideShort, OrderType: types.OrderTypeLimit, Size: 100, Leverage: 2, LimitPrice: ptr(95)},
		},
		{
			"long stop loss above entry",
			trading.PlaceOrderRequest{Symbol: "BTC", Side: types.SideLong, OrderType: types.OrderTypeMarket, Size: 100, Leverage: 2, StopLossPrice: ptr(105)},
		},
		{
			"short stop loss below entry",
			trading.PlaceOrderRequest{Symbol: "BTC", Side: types.SideShort, OrderType: types.OrderTypeMarket, Size: 100, Leverage: 2, StopLossPrice: ptr(95)},
		},
		{
			"limit stop loss above limit entry",
			trading.PlaceOrderRequest{Symbol: "BTC", Side: types.SideLong, OrderType: types.OrderTypeLimit, Size: 100, Leverage: 2, LimitPrice: ptr(95), StopLossPrice: ptr(96)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.PlaceOrder(testAccount, tt.req)
			assert.True(t, errs.IsValidation(err), "expected validation error, got %v", err)
		})
	}

	// None of the rejected requests may have left any trace.
	orders, err := svc.GetOrders(testAccount, types.OrderStatusOpen, "", 100)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestPlaceOrderInsufficientBalance(t *testing.T) {
	svc, accounts := newTradingService(t, testutil.StaticPrices{"BTC": 100})

	_, err := svc.PlaceOrder(testAccount, trading.PlaceOrderRequest{
		Symbol:    "BTC",
		Side:      types.SideLong,
		OrderType: types.OrderTypeMarket,
		Size:      20000,
		Leverage:  1,
	})
	assert.ErrorIs(t, err, errs.ErrInsufficientBalance)

	balance, err := accounts.GetBalance(testAccount)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, balance.Locked, 1e-9)
	assert.InDelta(t, 10000.0, balance.Available, 1e-9)
}

func TestPlaceOrderDuplicatePosition(t *testing.T) {
	svc, _ := newTradingService(t, testutil.StaticPrices{"BTC": 100})

	req := trading.PlaceOrderRequest{
		Symbol:    "BTC",
		Side:      types.SideLong,
		OrderType: types.OrderTypeMarket,
		Size:      500,
		Leverage:  10,
	}
	_, err := svc.PlaceOrder(testAccount, req)
	require.NoError(t, err)

	_, err = svc.PlaceOrder(testAccount, req)
	assert.ErrorIs(t, err, errs.ErrDuplicatePosition)

	// Opposite side on the same symbol is a separate position and allowed.
	req.Side = types.SideShort
	_, err = svc.PlaceOrder(testAccount, req)
	assert.NoError(t, err)
}

func TestPlaceOrderNoMarkPrice(t *testing.T) {
	svc, _ := newTradingService(t, testutil.StaticPrices{})

	_, err := svc.PlaceOrder(testAccount, trading.PlaceOrderRequest{
		Symbol:    "BTC",
		Side:      types.SideLong,
		OrderType: types.OrderTypeMarket,
		Size:      500,
		Leverage:  10,
	})
	assert.ErrorIs(t, err, errs.ErrServiceUnavailable)
}

func TestCancelOrderReleasesMargin(t *testing.T) {
	svc, _ := newTradingService(t, testutil.StaticPrices{"BTC": 100})

	placed, err := svc.PlaceOrder(testAccount, trading.PlaceOrderRequest{
		Symbol:     "BTC",
		Side:       types.SideLong,
		OrderType:  types.OrderTypeLimit,
		Size:       500,
		Leverage:   5,
		LimitPrice: ptr(95),
	})
	require.NoError(t, err)

	canceled, err := svc.CancelOrder(testAccount, placed.Order.OrderID)
	require.NoError(t, err)

	assert.Equal(t, types.OrderStatusCanceled, canceled.Order.Status)
	assert.InDelta(t, 0.0, canceled.UpdatedBalance.Locked, 1e-9)
	assert.InDelta(t, 10000.0, canceled.UpdatedBalance.Available, 1e-9)

	// Cancel is not repeatable on a terminal order.
	_, err = svc.CancelOrder(testAccount, placed.Order.OrderID)
	assert.ErrorIs(t, err, errs.ErrInvalidState)
}

func TestCancelOrderUnknown(t *testing.T) {
	svc, _ := newTradingService(t, testutil.StaticPrices{"BTC": 100})

	_, err := svc.CancelOrder(testAccount, "ORD_missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCancelFilledMarketOrder(t *testing.T) {
	svc, _ := newTradingService(t, testutil.StaticPrices{"BTC": 100})

	placed, err := svc.PlaceOrder(testAccount, trading.PlaceOrderRequest{
		Symbol:    "BTC",
		Side:      types.SideLong,
		OrderType: types.OrderTypeMarket,
		Size:      500,
		Leverage:  10,
	})
	require.NoError(t, err)

	_, err = svc.CancelOrder(testAccount, placed.Order.OrderID)
	assert.ErrorIs(t, err, errs.ErrInvalidState)
}

func TestGetOrdersRejectsBadFilters(t *testing.T) {
	svc, _ := newTradingService(t, testutil.StaticPrices{"BTC": 100})

	_, err := svc.GetOrders(testAccount, "pending", "", 10)
	assert.True(t, errs.IsValidation(err))

	_, err = svc.GetOrders(testAccount, types.OrderStatusOpen, "DOGE", 10)
	assert.True(t, errs.IsValidation(err))
}
