package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries all runtime settings. Every field has a default so the
// server boots with an empty environment (sqlite file, 5s liquidation sweep).
type Config struct {
	Port                string
	Env                 string
	Debug               bool
	DBDriver            string // sqlite or postgres
	DBDSN               string
	JWTSecret           string
	LiquidationInterval time.Duration
}

// Load reads configuration from the environment, honouring a local .env file
// if one exists.
func Load() (Config, error) {
	// Missing .env is not an error; env vars may be set directly.
	_ = godotenv.Load()

	c := Config{
		Port:                getEnv("PORT", "8080"),
		Env:                 getEnv("ENV", "development"),
		DBDriver:            getEnv("DB_DRIVER", "sqlite"),
		DBDSN:               getEnv("DB_DSN", "perp.db"),
		JWTSecret:           getEnv("JWT_SECRET", "perp-secret-key"),
		LiquidationInterval: 5 * time.Second,
	}

	if debug := os.Getenv("DEBUG"); debug != "" {
		b, err := strconv.ParseBool(debug)
		if err != nil {
			return c, errors.New("invalid DEBUG: " + debug)
		}
		c.Debug = b
	}

	if c.DBDriver != "sqlite" && c.DBDriver != "postgres" {
		return c, errors.New("invalid DB_DRIVER: use sqlite or postgres")
	}

	if raw := os.Getenv("LIQUIDATION_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return c, errors.New("invalid LIQUIDATION_INTERVAL: " + raw)
		}
		c.LiquidationInterval = d
	}

	return c, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
