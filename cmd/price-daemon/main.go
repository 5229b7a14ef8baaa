package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"itemprice/internal/config"
	"itemprice/internal/database"
	"itemprice/internal/logging"
	"itemprice/internal/pricing"
	"itemprice/internal/store"
)

var (
	checkInterval = flag.Duration("interval", 30*time.Minute, "time between batch runs")
	runTimeout    = flag.Duration("timeout", 10*time.Minute, "deadline of a single batch run")
	limit         = flag.Int("limit", 1000, "report budget per run")
	groupLimit    = flag.Int("group-limit", 1000, "groups fetched per run")
	drain         = flag.Bool("drain", false, "keep running batches back to back while groups remain")
	once          = flag.Bool("once", false, "run a single batch and exit")
)

func main() {
	flag.Parse()

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

	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	orchestrator := pricing.NewOrchestrator(store.New(db), settings)

	logger.Info("price daemon started",
		zap.Int("pid", os.Getpid()),
		zap.Duration("interval", *checkInterval),
		zap.Bool("heightened", settings.Heightened))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	params := pricing.BatchParams{Limit: *limit, GroupLimit: *groupLimit}
	runCycle(ctx, orchestrator, params)
	if *once {
		return
	}

	ticker := time.NewTicker(*checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			return
		case <-ticker.C:
			runCycle(ctx, orchestrator, params)
		}
	}
}

// runCycle runs one batch, or several when draining, until nothing is left
// to price or the context ends.
func runCycle(ctx context.Context, o *pricing.Orchestrator, params pricing.BatchParams) {
	for {
		runCtx, cancel := context.WithTimeout(ctx, *runTimeout)
		res, err := o.RunBatch(runCtx, params)
		cancel()
		if err != nil {
			zap.L().Error("batch run failed", zap.Error(err))
			return
		}
		if res.ManualCheck {
			zap.L().Warn("batch produced prices that need manual review", zap.String("run_id", res.RunID))
		}
		if !*drain || res.Groups == 0 || ctx.Err() != nil {
			return
		}
	}
}
