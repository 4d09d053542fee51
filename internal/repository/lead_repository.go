package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"quote-funnel-service/internal/models"
)

// LeadRepository handles database operations for quote submissions
type LeadRepository struct {
	db *gorm.DB
}

// NewLeadRepository creates a new lead repository
func NewLeadRepository(db *gorm.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// Create creates a lead
func (r *LeadRepository) Create(ctx context.Context, lead *models.Lead) error {
	return r.db.WithContext(ctx).Create(lead).Error
}

// GetBySubmissionID retrieves a partner's lead. Returns nil, nil when absent.
func (r *LeadRepository) GetBySubmissionID(ctx context.Context, partnerID, submissionID uuid.UUID) (*models.Lead, error) {
	var lead models.Lead
	err := r.db.WithContext(ctx).
		Where("submission_id = ? AND partner_id = ?", submissionID, partnerID).
		First(&lead).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &lead, nil
}

// UpdateFields updates selected columns of a partner's lead
func (r *LeadRepository) UpdateFields(ctx context.Context, partnerID, submissionID uuid.UUID, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	result := r.db.WithContext(ctx).Model(&models.Lead{}).
		Where("submission_id = ? AND partner_id = ?", submissionID, partnerID).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
