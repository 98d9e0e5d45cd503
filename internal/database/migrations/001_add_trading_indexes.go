package migrations

import (
	"gorm.io/gorm"
)

// AddTradingIndexes creates the indexes the engine's hot queries rely on.
// The unique index on positions enforces the at-most-one-per-side invariant
// at the storage layer, as a backstop behind the locked duplicate checks.
func AddTradingIndexes(db *gorm.DB) error {
	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// At most one open position per account/symbol/side. Soft-deleted
		// rows are excluded so a settled position does not block reopening.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_account_symbol_side
		 ON positions(account_id, symbol, side)
		 WHERE deleted_at IS NULL`,

		// The matching engine scans open orders per account/symbol.
		`CREATE INDEX IF NOT EXISTS idx_orders_account_symbol_status
		 ON orders(account_id, symbol, status)`,

		// Stop-order sibling lookups during settlement.
		`CREATE INDEX IF NOT EXISTS idx_orders_linked_position
		 ON orders(linked_position_id)`,

		// Trade and history listings are per account, newest first.
		`CREATE INDEX IF NOT EXISTS idx_trades_account_closed_at
		 ON trades(account_id, closed_at)`,

		`CREATE INDEX IF NOT EXISTS idx_balance_history_account_timestamp
		 ON balance_history_entries(account_id, timestamp)`,

		// Oracle lookups: live snapshot per symbol, latest candle per symbol.
		`CREATE INDEX IF NOT EXISTS idx_orderbook_snapshots_symbol_source
		 ON orderbook_snapshots(symbol, source)`,

		`CREATE INDEX IF NOT EXISTS idx_candles_symbol_interval_time
		 ON candles(symbol, "interval", time)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
