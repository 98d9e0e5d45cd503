package oracle

import (
	"time"

	"gorm.io/gorm"
)

// OrderbookSnapshot is the latest book for a symbol as written by the
// ingestion pipeline. Bids and Asks hold JSON arrays of [price, size] levels,
// best first.
type OrderbookSnapshot struct {
	gorm.Model `json:"-"`
	Symbol     string `gorm:"index" json:"symbol"`
	Source     string `json:"source"`
	Bids       string `json:"bids"`
	Asks       string `json:"asks"`
	TimeMS     int64  `json:"time_ms"`
}

// Candle is an aggregated OHLC bar.
type Candle struct {
	gorm.Model `json:"-"`
	Symbol     string    `gorm:"index" json:"symbol"`
	Interval   string    `json:"interval"`
	Time       time.Time `json:"time"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
}
