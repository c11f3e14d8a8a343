package verification

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/kenmgrimm/archimedes-sub002/backend/pkg/config"
)

// OpenDB connects the verification store. Postgres backs production;
// sqlite keeps tests and single-user setups dependency-free.
func OpenDB(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.VerificationDBDriver {
	case "postgres":
		dialector = postgres.Open(cfg.VerificationDBDSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.VerificationDBDSN)
	default:
		return nil, fmt.Errorf("unsupported verification db driver: %s", cfg.VerificationDBDriver)
	}

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to verification db: %w", err)
	}

	if err := db.AutoMigrate(&VerificationRequest{}, &MergeRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate verification schema: %w", err)
	}

	return db, nil
}
