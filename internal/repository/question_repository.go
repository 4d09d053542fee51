package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"quote-funnel-service/internal/models"
)

// QuestionRepository handles service categories and their questions
type QuestionRepository struct {
	db *gorm.DB
}

// NewQuestionRepository creates a new question repository
func NewQuestionRepository(db *gorm.DB) *QuestionRepository {
	return &QuestionRepository{db: db}
}

// GetCategory retrieves an active category owned by the partner. Returns
// nil, nil when absent.
func (r *QuestionRepository) GetCategory(ctx context.Context, partnerID, categoryID uuid.UUID) (*models.ServiceCategory, error) {
	var category models.ServiceCategory
	err := r.db.WithContext(ctx).
		Where("id = ? AND partner_id = ? AND status = ?", categoryID, partnerID, "active").
		First(&category).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &category, nil
}

// ListActive returns the category's active, non-deleted questions ordered by
// step then display order
func (r *QuestionRepository) ListActive(ctx context.Context, partnerID, categoryID uuid.UUID) ([]models.Question, error) {
	var questions []models.Question
	err := r.db.WithContext(ctx).
		Where("partner_id = ? AND service_category_id = ? AND status = ? AND is_deleted = ?",
			partnerID, categoryID, "active", false).
		Order("step_number ASC").
		Order("display_order_in_step ASC").
		Find(&questions).Error
	if err != nil {
		return nil, err
	}
	return questions, nil
}

// CreateCategory creates a service category
func (r *QuestionRepository) CreateCategory(ctx context.Context, category *models.ServiceCategory) error {
	return r.db.WithContext(ctx).Create(category).Error
}

// Create creates a question
func (r *QuestionRepository) Create(ctx context.Context, question *models.Question) error {
	return r.db.WithContext(ctx).Create(question).Error
}
