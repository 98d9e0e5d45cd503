package database

import (
	"fmt"

	"github.com/ksred/perp-api/internal/database/migrations"
	"github.com/ksred/perp-api/internal/oracle"
	"github.com/ksred/perp-api/internal/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// NewDatabase opens a GORM connection for the given driver and runs all
// migrations. Supported drivers are "sqlite" and "postgres".
func NewDatabase(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Migrate creates all schemas and indexes. Safe to run repeatedly.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&types.Account{},
		&types.Order{},
		&types.Position{},
		&types.Trade{},
		&types.BalanceHistoryEntry{},
		&oracle.OrderbookSnapshot{},
		&oracle.Candle{},
	)
	if err != nil {
		return err
	}

	return migrations.AddTradingIndexes(db)
}

// LockForUpdate adds a pessimistic row lock to the query on dialects that
// support it. SQLite has no FOR UPDATE; its writers are serialized at the
// connection level, so the clause is skipped there.
func LockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
