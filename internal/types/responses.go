package types

// Balance is the account balance snapshot returned alongside mutating
// operations.
type Balance struct {
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
	Locked    float64 `json:"locked"`
}

// BalanceOf extracts the snapshot from an account row.
func BalanceOf(acct *Account) Balance {
	return Balance{
		Total:     acct.Total,
		Available: acct.Available,
		Locked:    acct.Locked,
	}
}

// PlaceOrderResponse is returned by the order placement endpoint. Position is
// set only for market orders, which fill immediately.
type PlaceOrderResponse struct {
	Order          *Order    `json:"order"`
	Position       *Position `json:"position,omitempty"`
	UpdatedBalance Balance   `json:"updated_balance"`
}

// CancelOrderResponse is returned by the cancel endpoint.
type CancelOrderResponse struct {
	Order          *Order  `json:"order"`
	UpdatedBalance Balance `json:"updated_balance"`
}

// MatchResult summarizes one matching pass over a symbol.
type MatchResult struct {
	Matched        int `json:"matched"`
	TriggeredStops int `json:"triggered_stops"`
	Liquidated     int `json:"liquidated"`
	Rejected       int `json:"rejected"`
}

// CloseResult is returned by the manual close endpoint.
type CloseResult struct {
	Closed         bool    `json:"closed"`
	RealizedPnl    float64 `json:"realized_pnl"`
	ExitPrice      float64 `json:"exit_price"`
	UpdatedBalance Balance `json:"updated_balance"`
}
