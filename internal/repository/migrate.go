package repository

import (
	"gorm.io/gorm"

	"quote-funnel-service/internal/models"
)

// AutoMigrate creates or updates every table the service owns
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Partner{},
		&models.ServiceCategory{},
		&models.Question{},
		&models.Lead{},
		&models.SubmissionTelemetry{},
		&models.FieldMapping{},
	)
}
