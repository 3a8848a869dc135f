package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/storefront/pricing-service/config"
	"github.com/storefront/pricing-service/internal/catalog"
	"github.com/storefront/pricing-service/internal/combos"
	"github.com/storefront/pricing-service/internal/database"
	"github.com/storefront/pricing-service/internal/handlers"
	"github.com/storefront/pricing-service/internal/ledger"
	"github.com/storefront/pricing-service/internal/middleware"
	"github.com/storefront/pricing-service/internal/pricer"
	"github.com/storefront/pricing-service/internal/sweepers"
	"github.com/storefront/pricing-service/internal/telemetry"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := initLogger(cfg.Logging)

	logger.Info().Msg("Starting pricing service")

	ctx := context.Background()

	telemetryCleanup := telemetry.MustInit(ctx, telemetry.GetConfigFromEnv())
	defer func() {
		if err := telemetryCleanup(context.Background()); err != nil {
			logger.Error().Err(err).Msg("Failed to shut down telemetry")
		}
	}()

	dbURL := config.GetDatabaseURL()
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL not set")
	}

	if err := database.Connect(
		ctx,
		dbURL,
		cfg.Database.MaxConnections,
		cfg.Database.MinConnections,
		cfg.Database.MaxConnLifetime,
		cfg.Database.MaxConnIdleTime,
	); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	logger.Info().Msg("Database connected")

	catalogCache := catalog.NewCache(catalog.NewStore(database.Pool()), cfg.Pricing.CatalogTTL)
	if err := catalogCache.Warmup(ctx); err != nil {
		// The service must not price without promotion data.
		logger.Fatal().Err(err).Msg("Failed to warm up promotion catalog")
	}
	go catalogCache.StartRefresher(ctx, cfg.Pricing.CatalogTTL)

	comboCache := combos.NewCache(combos.NewStore(database.Pool()), cfg.Pricing.CatalogTTL)
	if err := comboCache.Warmup(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to warm up combo catalog, pricing without combos until refresh")
	}
	go comboCache.StartRefresher(ctx, cfg.Pricing.CatalogTTL)

	usageLedger := ledger.NewPGLedger(database.Pool(), cfg.Pricing.ReservationTTL)
	cartPricer := pricer.New(usageLedger)
	handlers.InitPricing(cartPricer, catalogCache, comboCache, usageLedger)

	reservationSweeper := sweepers.NewReservationSweeper(usageLedger, logger, cfg.Pricing.SweepInterval)
	go reservationSweeper.Start(ctx)

	if cfg.Logging.Level == "info" || cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	setupMiddleware(router, logger)

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.RateLimitMiddleware(middleware.RateLimiterConfig{
		RequestsPerSecond: float64(cfg.RateLimit.RequestsPerSecond),
		BurstSize:         cfg.RateLimit.Burst,
	}))
	{
		v1.POST("/cart/quote", handlers.Quote)
		v1.GET("/promotions", handlers.ListPromotions)
	}

	internal := router.Group("/internal")
	internal.Use(middleware.InternalAuthMiddleware(cfg.Server.InternalAPIKey))
	internal.Use(middleware.ServiceRateLimitMiddleware(50, 100))
	{
		internal.GET("/health", handlers.HealthCheck)
		internal.POST("/cart/commit", handlers.Commit)
		internal.POST("/cart/release", handlers.Release)
		internal.POST("/catalog/refresh", handlers.RefreshCatalog)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")
	reservationSweeper.Stop()
	catalogCache.Stop()
	comboCache.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited")
}

func initLogger(cfg config.LoggingConfig) *zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var output io.Writer
	if cfg.Format == "json" {
		output = os.Stdout
	} else {
		output = zerolog.ConsoleWriter{Out: os.Stdout, NoColor: cfg.NoColor}
	}

	logger := zerolog.New(output).Level(level).With().Timestamp().Str("service", "pricing-service").Logger()
	return &logger
}

func setupMiddleware(router *gin.Engine, logger *zerolog.Logger) {
	router.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		end := time.Now()
		latency := end.Sub(start)

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", c.Writer.Status()).
			Dur("latency", latency).
			Str("ip", c.ClientIP()).
			Msg("HTTP request")
	})
}
