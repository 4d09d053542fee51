package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"quote-funnel-service/internal/models"
)

// FieldMappingRepository handles CRM field mappings
type FieldMappingRepository struct {
	db *gorm.DB
}

// NewFieldMappingRepository creates a new field mapping repository
func NewFieldMappingRepository(db *gorm.DB) *FieldMappingRepository {
	return &FieldMappingRepository{db: db}
}

// GetMap returns {ourFieldId: externalFieldId} for a partner's integration
func (r *FieldMappingRepository) GetMap(ctx context.Context, partnerID uuid.UUID, integration string) (map[string]string, error) {
	var mappings []models.FieldMapping
	err := r.db.WithContext(ctx).
		Where("partner_id = ? AND integration = ?", partnerID, integration).
		Find(&mappings).Error
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(mappings))
	for _, m := range mappings {
		out[m.OurFieldID] = m.ExternalFieldID
	}
	return out, nil
}

// Create creates a field mapping
func (r *FieldMappingRepository) Create(ctx context.Context, mapping *models.FieldMapping) error {
	return r.db.WithContext(ctx).Create(mapping).Error
}
