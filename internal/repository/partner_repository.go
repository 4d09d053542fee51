package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"quote-funnel-service/internal/models"
)

// PartnerRepository handles database operations for partners
type PartnerRepository struct {
	db *gorm.DB
}

// NewPartnerRepository creates a new partner repository
func NewPartnerRepository(db *gorm.DB) *PartnerRepository {
	return &PartnerRepository{db: db}
}

// Create creates a partner
func (r *PartnerRepository) Create(ctx context.Context, partner *models.Partner) error {
	return r.db.WithContext(ctx).Create(partner).Error
}

// GetByID retrieves an active partner by id. Returns nil, nil when absent.
func (r *PartnerRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Partner, error) {
	var partner models.Partner
	err := r.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, models.PartnerStatusActive).
		First(&partner).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &partner, nil
}

// GetBySubdomain retrieves an active partner by subdomain. Returns nil, nil
// when absent.
func (r *PartnerRepository) GetBySubdomain(ctx context.Context, subdomain string) (*models.Partner, error) {
	var partner models.Partner
	err := r.db.WithContext(ctx).
		Where("subdomain = ? AND status = ?", subdomain, models.PartnerStatusActive).
		First(&partner).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &partner, nil
}

// GetByCustomDomain retrieves an active partner whose custom domain has been
// verified. Returns nil, nil when absent.
func (r *PartnerRepository) GetByCustomDomain(ctx context.Context, domain string) (*models.Partner, error) {
	var partner models.Partner
	err := r.db.WithContext(ctx).
		Where("custom_domain = ? AND custom_domain_verified = ? AND status = ?", domain, true, models.PartnerStatusActive).
		First(&partner).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &partner, nil
}
