package database

import (
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"itemprice/internal/models"
)

func Initialize(databaseURL string) (*gorm.DB, error) {
	if databaseURL == "" {
		return nil, eris.New("DATABASE_URL is empty")
	}

	db, err := gorm.Open(mysql.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to connect to MySQL database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, eris.Wrap(err, "failed to get underlying sql.DB")
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	zap.L().Info("database initialized")
	return db, nil
}

// Migrate creates or updates the pricing tables.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.CatalogItem{},
		&models.PriceReport{},
		&models.ProcessingMarker{},
		&models.TrustedPrice{},
	)
	if err != nil {
		return eris.Wrap(err, "auto migrate")
	}

	// selection scans pending reports by (processed, name, submitted_at)
	if !db.Migrator().HasIndex(&models.PriceReport{}, "idx_reports_pending") {
		if err := db.Exec(`CREATE INDEX idx_reports_pending ON price_reports (processed, name, submitted_at)`).Error; err != nil {
			zap.L().Warn("migration warning", zap.Error(err))
		}
	}
	return nil
}
