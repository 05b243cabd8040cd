package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/venue-simulator/internal/config"
	"github.com/venue-simulator/internal/handler"
	"github.com/venue-simulator/internal/middleware"
	"github.com/venue-simulator/internal/models"
	"github.com/venue-simulator/internal/pricefeed"
	"github.com/venue-simulator/internal/repository"
	"github.com/venue-simulator/internal/service"
	"github.com/venue-simulator/internal/worker"
	applog "github.com/venue-simulator/pkg/logger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Build info (injected at build time via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize file logging
	if err := applog.Init(cfg.Log.Dir); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Set Gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize database
	db, err := initDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize Redis
	rdb := initRedis(cfg)

	// Auto migrate database
	if err := autoMigrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Initialize price feed
	provider := newProvider(cfg)
	feed := pricefeed.New(rdb, provider)

	// Initialize store and services
	store := repository.NewStore(db)
	locks := service.NewUserLocks()

	balanceService := service.NewBalanceService(store)
	portfolioService := service.NewPortfolioService(store, locks)
	tradeService := service.NewTradeService(store, feed, balanceService, portfolioService, cfg.Engine, locks)
	expiryService := service.NewExpiryService(store, feed, tradeService)
	authService := service.NewAuthService(store, balanceService, cfg.JWT, cfg.Engine.StartingBalance())

	// Initialize scheduler
	scheduler := worker.NewScheduler(tradeService, portfolioService, expiryService, cfg.Scheduler)
	go scheduler.Start()

	// Initialize handlers
	authHandler := handler.NewAuthHandler(authService)
	tradingHandler := handler.NewTradingHandler(tradeService)
	portfolioHandler := handler.NewPortfolioHandler(portfolioService, balanceService)
	priceHandler := handler.NewPriceHandler(feed, scheduler)

	// Create Gin router
	router := gin.Default()

	// Add request logging middleware (logs all requests with error details)
	router.Use(middleware.RequestLoggerMiddleware())

	// Add CORS middleware
	router.Use(corsMiddleware())

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
			"time":       time.Now().Unix(),
			"feed":       feed.IsConnected(),
		})
	})

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Auth routes (public)
		authHandler.RegisterRoutes(v1)

		// Market data and system routes (public)
		priceHandler.RegisterRoutes(v1)

		// Trade lifecycle routes (protected)
		authMiddleware := middleware.AuthMiddleware(authService)
		tradingHandler.RegisterRoutes(v1, authMiddleware)

		// Portfolio and wallet routes (protected)
		portfolioHandler.RegisterRoutes(v1, authMiddleware)
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start price feed
	ctx := context.Background()
	if err := feed.Start(ctx, cfg.PriceFeed.Symbols); err != nil {
		log.Printf("Warning: Failed to start price feed: %v", err)
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Stop background work
	scheduler.Stop()
	feed.Stop()

	// Graceful shutdown with 10 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// Close Redis connection
	if err := rdb.Close(); err != nil {
		log.Printf("Error closing Redis connection: %v", err)
	}

	log.Println("Server exited properly")
}

func initDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormLogger := logger.Default.LogMode(logger.Info)
	if cfg.Server.Mode == "release" {
		gormLogger = logger.Default.LogMode(logger.Warn)
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func initRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func newProvider(cfg *config.Config) pricefeed.Provider {
	if cfg.PriceFeed.Provider == "sim" {
		return pricefeed.NewSimProvider(nil)
	}
	return pricefeed.NewWSProvider()
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Trade{},
		&models.FuturesDetails{},
		&models.OptionsDetails{},
		&models.TradeHistory{},
		&models.Portfolio{},
		&models.DailySnapshot{},
		&models.Wallet{},
	)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
