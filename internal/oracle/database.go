package oracle

import (
	"errors"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetLiveSnapshot returns the live order book snapshot for a symbol, or nil
// if none has been written yet.
func (d *Database) GetLiveSnapshot(symbol string) (*OrderbookSnapshot, error) {
	var snapshot OrderbookSnapshot
	err := d.db.Where("symbol = ? AND source = ?", symbol, "live").First(&snapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &snapshot, nil
}

// UpsertLiveSnapshot replaces the live snapshot for a symbol.
func (d *Database) UpsertLiveSnapshot(snapshot *OrderbookSnapshot) error {
	snapshot.Source = "live"
	var existing OrderbookSnapshot
	err := d.db.Where("symbol = ? AND source = ?", snapshot.Symbol, "live").First(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return d.db.Create(snapshot).Error
		}
		return err
	}

	existing.Bids = snapshot.Bids
	existing.Asks = snapshot.Asks
	existing.TimeMS = snapshot.TimeMS
	return d.db.Save(&existing).Error
}

// GetLatestCandleClose returns the close of the most recent candle for the
// symbol and interval, or nil if no candle exists.
func (d *Database) GetLatestCandleClose(symbol, interval string) (*float64, error) {
	var candle Candle
	err := d.db.Where(`symbol = ? AND "interval" = ?`, symbol, interval).
		Order("time DESC").
		First(&candle).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &candle.Close, nil
}

// InsertCandle appends a candle row.
func (d *Database) InsertCandle(candle *Candle) error {
	return d.db.Create(candle).Error
}
