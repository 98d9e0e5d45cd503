package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/perp-api/internal/auth"
	"github.com/ksred/perp-api/internal/config"
	"github.com/ksred/perp-api/internal/database"
	"github.com/ksred/perp-api/internal/ledger"
	"github.com/ksred/perp-api/internal/matching"
	"github.com/ksred/perp-api/internal/oracle"
	"github.com/ksred/perp-api/internal/settlement"
	"github.com/ksred/perp-api/internal/trading"
	"github.com/ksred/perp-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// main initializes and runs the paper exchange API server with graceful
// shutdown support. It wires the storage layer, the engine services, and the
// background liquidation scanner.
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	configureLogging(cfg)

	db, err := database.NewDatabase(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	ledgerService := ledger.NewService(db)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	authService := auth.NewService(cfg.JWTSecret, ledgerService)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	oracleService := oracle.NewService(db)

	tradingService := trading.NewService(db, oracleService)
	tradingHandlers := trading.NewGinHandlers(tradingService)

	matchingService := matching.NewService(db)
	matchingHandlers := matching.NewGinHandlers(matchingService)

	settlementService := settlement.NewService(db, oracleService)
	settlementHandlers := settlement.NewGinHandlers(settlementService)

	// Create and start the liquidation scanner
	scanner := settlement.NewScanner(settlementService.GetDB(), oracleService, cfg.LiquidationInterval)
	scannerCtx, scannerCancel := context.WithCancel(context.Background())
	defer scannerCancel()

	go scanner.Start(scannerCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg.JWTSecret, authHandlers, ledgerHandlers, tradingHandlers, matchingHandlers, settlementHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Stop the scanner before draining connections so no sweep is mid-flight
	scannerCancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// configureLogging sets up zerolog based on environment settings.
// Development gets pretty printing; DEBUG enables debug level.
func configureLogging(cfg config.Config) {
	if cfg.Env != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// setupRoutes configures all API endpoints. Auth routes are public; every
// trading route requires a bearer JWT identifying the paper account.
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	tradingHandlers *trading.GinHandlers,
	matchingHandlers *matching.GinHandlers,
	settlementHandlers *settlement.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Trading routes
		protected := v1.Group("")
		protected.Use(middleware.JWTAuth(jwtSecret))
		{
			protected.GET("/balance", ledgerHandlers.GetBalanceHandler())
			protected.GET("/balance/history", ledgerHandlers.GetHistoryHandler())

			protected.POST("/orders", tradingHandlers.PlaceOrderHandler())
			protected.GET("/orders", tradingHandlers.GetOrdersHandler())
			protected.POST("/orders/cancel", tradingHandlers.CancelOrderHandler())
			protected.POST("/orders/match", matchingHandlers.MatchOrdersHandler())

			protected.GET("/positions", settlementHandlers.GetPositionsHandler())
			protected.POST("/positions/close", settlementHandlers.ClosePositionHandler())
			protected.GET("/trades", settlementHandlers.GetTradesHandler())
		}
	}
}
