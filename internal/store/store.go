// Package store persists compliance records and company configurations.
// SQLite keeps the deployment footprint to a single file; the repositories
// hide gorm from the rest of the pipeline.
package store

import (
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rezonia/zatca-pipeline/internal/model"
)

// Open opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for throwaway databases in tests.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.ComplianceRecord{}, &model.Configuration{}); err != nil {
		return nil, err
	}
	return db, nil
}
