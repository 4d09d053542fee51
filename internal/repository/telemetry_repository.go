package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quote-funnel-service/internal/models"
)

// TelemetryMutator edits a telemetry row in place. isNew is true when no row
// existed for the submission yet.
type TelemetryMutator func(row *models.SubmissionTelemetry, isNew bool) error

// TelemetryRepository handles lead_submission_data rows
type TelemetryRepository struct {
	db *gorm.DB
}

// NewTelemetryRepository creates a new telemetry repository
func NewTelemetryRepository(db *gorm.DB) *TelemetryRepository {
	return &TelemetryRepository{db: db}
}

// GetBySubmissionID retrieves a telemetry row. Returns nil, nil when absent.
func (r *TelemetryRepository) GetBySubmissionID(ctx context.Context, submissionID uuid.UUID) (*models.SubmissionTelemetry, error) {
	var row models.SubmissionTelemetry
	err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// Upsert applies mutate to the row for submissionID inside a transaction,
// creating it when absent. A concurrent insert that wins the race on the
// submission_id unique key is re-read and mutated instead.
func (r *TelemetryRepository) Upsert(ctx context.Context, submissionID uuid.UUID, mutate TelemetryMutator) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.SubmissionTelemetry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("submission_id = ?", submissionID).
			First(&row).Error
		if err == nil {
			if err := mutate(&row, false); err != nil {
				return err
			}
			return tx.Save(&row).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		row = models.SubmissionTelemetry{SubmissionID: submissionID}
		if err := mutate(&row, true); err != nil {
			return err
		}
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "submission_id"}},
			DoNothing: true,
		}).Create(&row)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			return nil
		}

		existing := models.SubmissionTelemetry{}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("submission_id = ?", submissionID).
			First(&existing).Error; err != nil {
			return err
		}
		if err := mutate(&existing, false); err != nil {
			return err
		}
		return tx.Save(&existing).Error
	})
}

// ListStale returns incomplete rows not updated since before
func (r *TelemetryRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]models.SubmissionTelemetry, error) {
	var rows []models.SubmissionTelemetry
	err := r.db.WithContext(ctx).
		Where("is_complete = ? AND updated_at < ? AND (verification_stage IS NULL OR verification_stage <> ?)",
			false, before, models.StageAbandoned).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
