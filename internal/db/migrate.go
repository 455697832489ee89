package db

import (
	"fmt"

	"github.com/zulandar/postyard/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model in the history schema.
func AllModels() []interface{} {
	return []interface{}{
		&models.Run{},
		&models.PostAttempt{},
	}
}

// AutoMigrate creates or updates the history tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
