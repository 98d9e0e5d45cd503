// Package testutil provides shared fixtures for package tests: an isolated
// in-memory database and a canned price source.
package testutil

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ksred/perp-api/internal/database"
	"github.com/ksred/perp-api/internal/errs"
	"github.com/ksred/perp-api/internal/oracle"
	"github.com/ksred/perp-api/internal/types"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB opens a fresh in-memory SQLite database with the full schema.
// The pool is capped at a single connection so concurrent goroutines in
// tests serialize the way row locks would on a server database.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

// SeedSnapshot writes a live order book snapshot with single-level sides.
// ageMS shifts the snapshot timestamp into the past to simulate staleness.
func SeedSnapshot(t *testing.T, db *gorm.DB, symbol string, bid, ask float64, ageMS int64) {
	t.Helper()

	bids, err := json.Marshal([][]float64{{bid, 1}})
	require.NoError(t, err)
	asks, err := json.Marshal([][]float64{{ask, 1}})
	require.NoError(t, err)

	err = oracle.NewDatabase(db).UpsertLiveSnapshot(&oracle.OrderbookSnapshot{
		Symbol: symbol,
		Bids:   string(bids),
		Asks:   string(asks),
		TimeMS: time.Now().UnixMilli() - ageMS,
	})
	require.NoError(t, err)
}

// SeedCandle writes a 1-minute candle with the given close.
func SeedCandle(t *testing.T, db *gorm.DB, symbol string, closePrice float64) {
	t.Helper()

	err := oracle.NewDatabase(db).InsertCandle(&oracle.Candle{
		Symbol:   symbol,
		Interval: "1m",
		Time:     time.Now(),
		Open:     closePrice,
		High:     closePrice,
		Low:      closePrice,
		Close:    closePrice,
	})
	require.NoError(t, err)
}

// StaticPrices is a price source backed by a fixed table. Symbols missing
// from the table report the price feed as unavailable.
type StaticPrices map[string]float64

func (p StaticPrices) MarkPrice(symbol string, side types.Side) (float64, error) {
	price, ok := p[symbol]
	if !ok || price <= 0 {
		return 0, errs.ErrServiceUnavailable
	}
	return price, nil
}
