package config

import (
	"os"
	"strconv"
	"strings"

	"itemprice/internal/pricing"
)

type Config struct {
	DatabaseURL string
	Port        string
	Environment string
	LogLevel    string

	// Shared secret required by the batch and reset endpoints
	PricingAPIKey string

	// Pipeline tuning
	PricingConfigPath string
	HeightenedMode    bool

	// Ingestion throttling per client IP
	IngestRatePerSecond float64
	IngestBurst         int
}

func Load() *Config {
	defaultDSN := "root:@tcp(127.0.0.1:3306)/itemprice?charset=utf8mb4&parseTime=True&loc=UTC"

	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", defaultDSN),
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		PricingAPIKey: getEnv("PRICING_API_KEY", ""),

		PricingConfigPath: getEnv("PRICING_CONFIG", ""),
		HeightenedMode:    getBool("HEIGHTENED_MODE", false),

		IngestRatePerSecond: getFloat("INGEST_RATE_PER_SECOND", 5),
		IngestBurst:         getInt("INGEST_BURST", 20),
	}
}

// PricingSettings loads the pipeline settings for this configuration.
func (c *Config) PricingSettings() (pricing.Settings, error) {
	return pricing.LoadSettings(c.PricingConfigPath, c.HeightenedMode)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}
