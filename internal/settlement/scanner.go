package settlement

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ksred/perp-api/internal/errs"
	"github.com/ksred/perp-api/internal/ledger"
	"github.com/ksred/perp-api/internal/oracle"
	"github.com/ksred/perp-api/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Scanner is the background liquidation sweep. Each tick it fetches one mark
// price per symbol with open positions and force-closes every breached one
// through the shared settle routine, under the same locking discipline as the
// matching engine.
type Scanner struct {
	db       *Database
	oracle   oracle.PriceSource
	interval time.Duration
	inFlight atomic.Bool
}

func NewScanner(db *Database, priceSource oracle.PriceSource, interval time.Duration) *Scanner {
	return &Scanner{
		db:       db,
		oracle:   priceSource,
		interval: interval,
	}
}

// Start begins the liquidation sweep loop. Ticks never overlap; a slow sweep
// delays the next one rather than running concurrently.
func (s *Scanner) Start(ctx context.Context) {
	logger := log.With().Str("component", "liquidation_scanner").Logger()
	logger.Info().Dur("interval", s.interval).Msg("starting liquidation scanner")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down liquidation scanner")
			return
		case <-ticker.C:
			if _, err := s.Sweep(); err != nil {
				logger.Error().Err(err).Msg("liquidation sweep failed")
			}
		}
	}
}

// Sweep runs a single liquidation pass and returns how many positions were
// force-closed. Concurrent calls beyond the first are dropped.
func (s *Scanner) Sweep() (int, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer s.inFlight.Store(false)

	logger := log.With().Str("component", "liquidation_scanner").Logger()

	positions, err := s.db.ListAllPositions()
	if err != nil {
		return 0, err
	}
	if len(positions) == 0 {
		return 0, nil
	}

	// One oracle fetch per symbol per tick; prices are read before any
	// transaction is opened.
	prices := make(map[string]float64)
	for _, pos := range positions {
		if _, seen := prices[pos.Symbol]; seen {
			continue
		}
		mark, err := s.oracle.MarkPrice(pos.Symbol, "")
		if err != nil {
			if errs.IsPersistence(err) {
				return 0, err
			}
			// No price for this symbol this tick; skip its positions.
			continue
		}
		prices[pos.Symbol] = mark
	}

	liquidated := 0
	for i := range positions {
		pos := &positions[i]
		mark, ok := prices[pos.Symbol]
		if !ok {
			continue
		}
		if !types.LiquidationBreached(mark, pos.LiquidationPrice, pos.Side) {
			continue
		}

		done, err := s.liquidate(pos, mark)
		if err != nil {
			logger.Error().Err(err).
				Str("position_id", pos.PositionID).
				Msg("failed to liquidate position")
			continue
		}
		if done {
			liquidated++
			logger.Info().
				Str("position_id", pos.PositionID).
				Str("symbol", pos.Symbol).
				Float64("mark_price", mark).
				Float64("liquidation_price", pos.LiquidationPrice).
				Msg("position liquidated")
		}
	}

	return liquidated, nil
}

// liquidate force-closes one breached position. Returns false when the row
// was already settled by the time the lock was acquired.
func (s *Scanner) liquidate(pos *types.Position, mark float64) (bool, error) {
	settled := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		acct, err := ledger.GetAccountForUpdate(tx, pos.AccountID)
		if err != nil {
			return err
		}

		locked, err := GetPositionForUpdate(tx, pos.PositionID, pos.AccountID)
		if err != nil {
			return err
		}
		if locked == nil {
			// Lost the race to the matching engine or a manual close.
			return nil
		}

		if _, err := Apply(tx, acct, locked, mark, types.TradeStatusLiquidated); err != nil {
			return err
		}

		if err := CancelOpenStops(tx, locked.PositionID, "", "Position liquidated"); err != nil {
			return err
		}

		if err := ledger.SaveAccount(tx, acct); err != nil {
			return err
		}

		settled = true
		return nil
	})
	return settled, err
}
