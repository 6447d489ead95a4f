package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/rezonia/zatca-pipeline/internal/model"
)

// ConfigRepository reads and writes company configurations
type ConfigRepository struct {
	db *gorm.DB
}

// NewConfigRepository creates a configuration repository
func NewConfigRepository(db *gorm.DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// ByCompany fetches the configuration for a company
func (r *ConfigRepository) ByCompany(ctx context.Context, companyID uint64) (*model.Configuration, error) {
	var cfg model.Configuration
	err := r.db.WithContext(ctx).Where("company_id = ?", companyID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrNoCredentials(companyID)
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save inserts or updates a configuration keyed by company
func (r *ConfigRepository) Save(ctx context.Context, cfg *model.Configuration) error {
	var existing model.Configuration
	err := r.db.WithContext(ctx).Where("company_id = ?", cfg.CompanyID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.WithContext(ctx).Create(cfg).Error
	}
	if err != nil {
		return err
	}
	cfg.ID = existing.ID
	return r.db.WithContext(ctx).Save(cfg).Error
}

// StoreCSID writes freshly issued credentials onto a company configuration
func (r *ConfigRepository) StoreCSID(ctx context.Context, companyID uint64, binaryToken, secret, requestID string, issuedAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&model.Configuration{}).
		Where("company_id = ?", companyID).
		Updates(map[string]any{
			"csid_binary_token": binaryToken,
			"csid_secret":       secret,
			"csid_request_id":   requestID,
			"csid_status":       "ISSUED",
			"csid_issued_at":    issuedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrNoCredentials(companyID)
	}
	return nil
}
