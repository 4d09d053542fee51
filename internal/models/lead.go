package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LeadStatus values
const (
	LeadStatusNew = "new"
)

// Verification stages, recorded on both the lead and its telemetry row
const (
	StageDetailsFilled = "details_filled"
	StageOTPSent       = "otp_sent"
	StageOTPVerified   = "otp_verified"
	StageCompleted     = "completed"
	StageAbandoned     = "abandoned"
)

// Lead is the durable quote submission. SubmissionID is generated by the
// funnel when the contact step is first submitted and never changes.
type Lead struct {
	SubmissionID      uuid.UUID      `gorm:"type:uuid;primaryKey" json:"submission_id"`
	PartnerID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"partner_id"`
	ServiceCategoryID uuid.UUID      `gorm:"type:uuid;not null;index" json:"service_category_id"`
	FirstName         string         `gorm:"type:varchar(100);not null" json:"first_name"`
	LastName          string         `gorm:"type:varchar(100)" json:"last_name"`
	Email             string         `gorm:"type:varchar(255);not null;index" json:"email"`
	Phone             string         `gorm:"type:varchar(30);not null" json:"phone"`
	Address           datatypes.JSON `gorm:"type:jsonb" json:"address,omitempty"`
	FormAnswers       datatypes.JSON `gorm:"type:jsonb" json:"form_answers,omitempty"`
	RoofData          datatypes.JSON `gorm:"type:jsonb" json:"roof_data,omitempty"`
	ProductSelections datatypes.JSON `gorm:"type:jsonb" json:"product_selections,omitempty"`
	Status            string         `gorm:"type:varchar(30);not null;default:'new'" json:"status"`
	VerificationStage string         `gorm:"type:varchar(30)" json:"verification_stage,omitempty"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (Lead) TableName() string {
	return "quote_submissions"
}

// FullName joins first and last name
func (l *Lead) FullName() string {
	if l.LastName == "" {
		return l.FirstName
	}
	return l.FirstName + " " + l.LastName
}

// SubmissionTelemetry is the analytics row that shadows a lead. It is keyed
// by submission id and every write is an upsert.
type SubmissionTelemetry struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SubmissionID      uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex" json:"submission_id"`
	PartnerID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"partner_id"`
	ServiceCategoryID uuid.UUID      `gorm:"type:uuid;index" json:"service_category_id"`
	SessionID         string         `gorm:"type:varchar(64);index" json:"session_id"`
	CurrentPage       string         `gorm:"type:varchar(50)" json:"current_page"`
	PagesCompleted    datatypes.JSON `gorm:"type:jsonb" json:"pages_completed"`
	QuoteData         datatypes.JSON `gorm:"type:jsonb" json:"quote_data"`
	FormSubmissions   datatypes.JSON `gorm:"type:jsonb" json:"form_submissions"`
	ConversionEvents  datatypes.JSON `gorm:"type:jsonb" json:"conversion_events"`
	StageHistory      datatypes.JSON `gorm:"type:jsonb" json:"stage_history"`
	PageTimings       datatypes.JSON `gorm:"type:jsonb" json:"page_timings"`
	VerificationStage string         `gorm:"type:varchar(30);index" json:"verification_stage"`
	IsComplete        bool           `gorm:"default:false;index" json:"is_complete"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	DeviceInfo        datatypes.JSON `gorm:"type:jsonb" json:"device_info"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime;index" json:"updated_at"`
}

// TableName specifies the table name
func (SubmissionTelemetry) TableName() string {
	return "lead_submission_data"
}

// ConversionEvent is one entry of the conversion_events array
type ConversionEvent struct {
	Type string                 `json:"type"`
	At   time.Time              `json:"at"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// FormSubmission is one entry of the form_submissions array
type FormSubmission struct {
	Page string                 `json:"page"`
	At   time.Time              `json:"at"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// StageChange is one entry of the stage_history array
type StageChange struct {
	Stage string    `json:"stage"`
	At    time.Time `json:"at"`
}

// BeforeCreate hook to generate UUID
func (t *SubmissionTelemetry) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
