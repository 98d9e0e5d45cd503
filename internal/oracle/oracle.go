// Package oracle resolves the mark price for a symbol. Prices come from the
// live order book snapshot when it is fresh, otherwise from the latest
// 1-minute candle close. A symbol with neither is unavailable: callers must
// treat that as a hard precondition failure, never a zero price.
package oracle

import (
	"encoding/json"
	"time"

	"github.com/ksred/perp-api/internal/errs"
	"github.com/ksred/perp-api/internal/types"
	"gorm.io/gorm"
)

// Snapshots older than this fall back to candle data.
const snapshotFreshness = 10 * time.Second

const candleInterval = "1m"

// PriceSource is the contract the engine consumes.
type PriceSource interface {
	MarkPrice(symbol string, side types.Side) (float64, error)
}

// Service resolves mark prices from stored market data.
type Service struct {
	db  *Database
	now func() time.Time
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db:  NewDatabase(gormDB),
		now: time.Now,
	}
}

// MarkPrice returns the reference price for a symbol. With a fresh snapshot,
// longs pay the best ask and shorts the best bid; an empty side yields the
// mid. Returns errs.ErrServiceUnavailable when no usable price exists.
func (s *Service) MarkPrice(symbol string, side types.Side) (float64, error) {
	snapshot, err := s.db.GetLiveSnapshot(symbol)
	if err != nil {
		return 0, errs.Persistence(err)
	}

	if snapshot != nil && s.now().UnixMilli()-snapshot.TimeMS < snapshotFreshness.Milliseconds() {
		bestBid := bestLevel(snapshot.Bids)
		bestAsk := bestLevel(snapshot.Asks)

		switch {
		case side == types.SideLong && bestAsk > 0:
			return bestAsk, nil
		case side == types.SideShort && bestBid > 0:
			return bestBid, nil
		case side == "" && bestBid > 0 && bestAsk > 0:
			return (bestBid + bestAsk) / 2, nil
		case side == "" && bestBid > 0:
			return bestBid, nil
		case side == "" && bestAsk > 0:
			return bestAsk, nil
		}
	}

	close, err := s.db.GetLatestCandleClose(symbol, candleInterval)
	if err != nil {
		return 0, errs.Persistence(err)
	}
	if close == nil || *close <= 0 {
		return 0, errs.ErrServiceUnavailable
	}

	return *close, nil
}

// bestLevel parses a JSON array of [price, size] levels and returns the top
// price, or 0 if the side is empty or malformed.
func bestLevel(raw string) float64 {
	var levels [][]float64
	if err := json.Unmarshal([]byte(raw), &levels); err != nil {
		return 0
	}
	if len(levels) == 0 || len(levels[0]) == 0 {
		return 0
	}
	return levels[0][0]
}
