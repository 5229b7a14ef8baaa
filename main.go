package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"itemprice/internal/api"
	"itemprice/internal/config"
	"itemprice/internal/database"
	"itemprice/internal/feed"
	"itemprice/internal/ingest"
	"itemprice/internal/logging"
	"itemprice/internal/pricing"
	"itemprice/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.Load()

	logger, err := logging.Setup(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	settings, err := cfg.PricingSettings()
	if err != nil {
		logger.Fatal("pricing settings", zap.Error(err))
	}
	if settings.Heightened {
		logger.Info("heightened mode enabled", zap.Int("min_update_days", settings.MinUpdateDays))
	}
	if cfg.PricingAPIKey == "" {
		logger.Warn("PRICING_API_KEY is empty, batch endpoints will reject every request")
	}

	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}

	st := store.New(db)
	hub := feed.NewHub()
	orchestrator := pricing.NewOrchestrator(st, settings).WithPublisher(hub)
	ingestSvc := ingest.NewService(st)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws/prices", gin.WrapH(hub))

	apiGroup := r.Group("/api/v1")
	api.SetupRoutes(apiGroup, orchestrator, ingestSvc, api.Options{
		APIKey:      cfg.PricingAPIKey,
		IngestRate:  cfg.IngestRatePerSecond,
		IngestBurst: cfg.IngestBurst,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
