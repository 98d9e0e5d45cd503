package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/ksred/perp-api/internal/auth"
	"github.com/ksred/perp-api/internal/config"
	"github.com/ksred/perp-api/internal/database"
	"github.com/ksred/perp-api/internal/oracle"
	"github.com/ksred/perp-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	serverAddress = "http://localhost:8080"
	numTicks      = 30
)

var basePrices = map[string]float64{
	"BTC": 64000,
	"ETH": 3400,
	"SOL": 150,
	"ARB": 1.1,
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks latency for an API endpoint
type routeStats struct {
	name      string
	durations []time.Duration
	failures  int
}

func (rs *routeStats) record(d time.Duration, ok bool) {
	rs.durations = append(rs.durations, d)
	if !ok {
		rs.failures++
	}
}

func (rs *routeStats) summary() string {
	if len(rs.durations) == 0 {
		return "no calls"
	}
	sorted := append([]time.Duration(nil), rs.durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	mean := sum / time.Duration(len(sorted))
	p95 := sorted[(len(sorted)*95)/100]

	return fmt.Sprintf("calls=%d failures=%d mean=%s p95=%s max=%s",
		len(sorted), rs.failures, mean, p95, sorted[len(sorted)-1])
}

// simulationClient drives the trading API over HTTP
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

func newSimulationClient() *simulationClient {
	return &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats: map[string]*routeStats{
			"auth":  {name: "Authentication"},
			"order": {name: "Place Order"},
			"match": {name: "Match Orders"},
			"close": {name: "Close Position"},
			"reads": {name: "Read Endpoints"},
		},
	}
}

// call performs one API call and records its latency
func (sc *simulationClient) call(stat, method, path string, body interface{}) (json.RawMessage, bool) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal request")
			return nil, false
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, reader)
	if err != nil {
		log.Error().Err(err).Msg("failed to build request")
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")
	if sc.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+sc.authToken)
	}

	start := time.Now()
	resp, err := sc.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		sc.stats[stat].record(elapsed, false)
		log.Error().Err(err).Str("path", path).Msg("request failed")
		return nil, false
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	ok := resp.StatusCode < 400
	sc.stats[stat].record(elapsed, ok)

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, ok
	}
	return envelope.Data, ok
}

func (sc *simulationClient) authenticate() error {
	data, ok := sc.call("auth", http.MethodPost, "/api/v1/auth/token", auth.Credentials{
		APIKey:    auth.TestAPIKey,
		APISecret: auth.TestAPISecret,
	})
	if !ok {
		return fmt.Errorf("authentication failed")
	}
	var token auth.TokenResponse
	if err := json.Unmarshal(data, &token); err != nil || token.Token == "" {
		return fmt.Errorf("no token in auth response")
	}
	sc.authToken = token.Token
	return nil
}

// seedMarketData writes candles and a live snapshot so the oracle has prices
func seedMarketData(db *oracle.Database) error {
	now := time.Now()
	for symbol, price := range basePrices {
		candle := &oracle.Candle{
			Symbol:   symbol,
			Interval: "1m",
			Time:     now,
			Open:     price * 0.999,
			High:     price * 1.001,
			Low:      price * 0.998,
			Close:    price,
		}
		if err := db.InsertCandle(candle); err != nil {
			return err
		}

		bids, _ := json.Marshal([][]float64{{price * 0.9995, 2.5}})
		asks, _ := json.Marshal([][]float64{{price * 1.0005, 2.5}})
		snapshot := &oracle.OrderbookSnapshot{
			Symbol: symbol,
			Bids:   string(bids),
			Asks:   string(asks),
			TimeMS: now.UnixMilli(),
		}
		if err := db.UpsertLiveSnapshot(snapshot); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	gormDB, err := database.NewDatabase(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}

	if err := seedMarketData(oracle.NewDatabase(gormDB)); err != nil {
		log.Fatal().Err(err).Msg("failed to seed market data")
	}
	log.Info().Msg("seeded candles and order book snapshots")

	sc := newSimulationClient()
	if err := sc.authenticate(); err != nil {
		log.Fatal().Err(err).Msg("authentication failed")
	}
	log.Info().Msg("authenticated")

	// Open a market long with a protective stop, and a resting limit long
	btc := basePrices["BTC"]
	stopLoss := btc * 0.97
	sc.call("order", http.MethodPost, "/api/v1/orders", map[string]interface{}{
		"symbol":          "BTC",
		"side":            "long",
		"order_type":      "market",
		"size":            500,
		"leverage":        5,
		"stop_loss_price": stopLoss,
	})

	sc.call("order", http.MethodPost, "/api/v1/orders", map[string]interface{}{
		"symbol":      "ETH",
		"side":        "long",
		"order_type":  "limit",
		"size":        200,
		"leverage":    3,
		"limit_price": basePrices["ETH"] * 0.99,
	})

	// Walk the mark price around and let the engine settle the consequences
	mark := btc
	for i := 0; i < numTicks; i++ {
		drift := 1 + (rand.Float64()-0.55)*0.01
		mark *= drift

		result, ok := sc.call("match", http.MethodPost, "/api/v1/orders/match", map[string]interface{}{
			"symbol":     "BTC",
			"mark_price": mark,
		})
		if ok && len(result) > 0 {
			log.Info().
				Float64("mark", mark).
				RawJSON("result", result).
				Msg("matching pass")
		}

		time.Sleep(100 * time.Millisecond)
	}

	// Read state and close whatever survived the ticks
	data, ok := sc.call("reads", http.MethodGet, "/api/v1/positions", nil)
	if ok {
		var positions []types.Position
		if err := json.Unmarshal(data, &positions); err == nil {
			for _, pos := range positions {
				sc.call("close", http.MethodPost, "/api/v1/positions/close", map[string]interface{}{
					"position_id": pos.PositionID,
				})
			}
		}
	}

	sc.call("reads", http.MethodGet, "/api/v1/orders?status=filled", nil)
	sc.call("reads", http.MethodGet, "/api/v1/trades", nil)
	sc.call("reads", http.MethodGet, "/api/v1/balance", nil)

	for name, stat := range sc.stats {
		log.Info().Str("route", name).Str("stats", stat.summary()).Msg(stat.name)
	}
}
