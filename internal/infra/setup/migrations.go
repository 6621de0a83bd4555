package setup

import (
	"fmt"

	"collaborative-whiteboard/internal/domain"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MigrateDB 迁移审计表。画布文档只在内存中，没有其它表。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}
	if err := db.AutoMigrate(&domain.AuditEntry{}); err != nil {
		logrus.Errorf("Failed to auto-migrate audit table: %v", err)
		return fmt.Errorf("failed to auto-migrate tables: %w", err)
	}
	logrus.Info("Database migration completed successfully")
	return nil
}
