package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PartnerStatus is the lifecycle state of a partner. Partners are never
// hard-deleted.
type PartnerStatus string

const (
	PartnerStatusActive    PartnerStatus = "active"
	PartnerStatusSuspended PartnerStatus = "suspended"
	PartnerStatusArchived  PartnerStatus = "archived"
)

// Partner is a tenant business running its own branded funnel
type Partner struct {
	ID                   uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name                 string    `gorm:"type:varchar(255);not null" json:"name"`
	Subdomain            string    `gorm:"type:varchar(63);not null;uniqueIndex" json:"subdomain"`
	CustomDomain         *string   `gorm:"type:varchar(255);uniqueIndex" json:"custom_domain,omitempty"`
	CustomDomainVerified bool      `gorm:"default:false" json:"custom_domain_verified"`
	LogoURL              string    `gorm:"type:varchar(500)" json:"logo_url,omitempty"`
	AccentColor          string    `gorm:"type:varchar(20)" json:"accent_color,omitempty"`
	OTPEnabled           bool      `gorm:"default:false" json:"otp_enabled"`
	RoofMappingEnabled   bool      `gorm:"default:false" json:"roof_mapping_enabled"`
	NotificationEmail    string    `gorm:"type:varchar(255)" json:"notification_email,omitempty"`

	// SMTP credentials; the password is AES-GCM encrypted at rest
	SMTPHost              string `gorm:"type:varchar(255)" json:"-"`
	SMTPPort              int    `json:"-"`
	SMTPUsername          string `gorm:"type:varchar(255)" json:"-"`
	SMTPPasswordEncrypted string `gorm:"type:text" json:"-"`
	SMTPFromEmail         string `gorm:"type:varchar(255)" json:"-"`
	SMTPFromName          string `gorm:"type:varchar(255)" json:"-"`

	// GoHighLevel CRM settings
	GHLAPIKeyEncrypted string `gorm:"type:text" json:"-"`
	GHLLocationID      string `gorm:"type:varchar(100)" json:"-"`
	GHLPipelineID      string `gorm:"type:varchar(100)" json:"-"`
	GHLPipelineStageID string `gorm:"type:varchar(100)" json:"-"`

	LegalLinks datatypes.JSON `gorm:"type:jsonb" json:"legal_links,omitempty"`
	Status     PartnerStatus  `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (Partner) TableName() string {
	return "partners"
}

// BeforeCreate hook to generate UUID
func (p *Partner) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// IsActive reports whether the partner may serve funnels
func (p *Partner) IsActive() bool {
	return p.Status == PartnerStatusActive
}

// HasSMTP reports whether partner SMTP delivery is configured
func (p *Partner) HasSMTP() bool {
	return p.SMTPHost != "" && p.SMTPFromEmail != ""
}

// HasCRM reports whether GoHighLevel sync is configured
func (p *Partner) HasCRM() bool {
	return p.GHLAPIKeyEncrypted != "" && p.GHLLocationID != ""
}

// HasPipeline reports whether CRM opportunities should be created
func (p *Partner) HasPipeline() bool {
	return p.GHLPipelineID != "" && p.GHLPipelineStageID != ""
}

// ServiceCategory groups the question set for one product line
type ServiceCategory struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PartnerID uuid.UUID `gorm:"type:uuid;not null;index" json:"partner_id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Slug      string    `gorm:"type:varchar(100);not null" json:"slug"`
	Kind      string    `gorm:"type:varchar(50);not null" json:"kind"` // boiler, solar, heating, ...
	Status    string    `gorm:"type:varchar(20);not null;default:'active'" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (ServiceCategory) TableName() string {
	return "service_categories"
}

// BeforeCreate hook to generate UUID
func (c *ServiceCategory) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// IsSolar reports whether the category can use the roof mapping step
func (c *ServiceCategory) IsSolar() bool {
	return c.Kind == "solar"
}
