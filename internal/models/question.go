package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Answer types a question can take
const (
	AnswerTypeSingleSelect = "single_select"
	AnswerTypeMultiSelect  = "multi_select"
	AnswerTypeText         = "text"
	AnswerTypeNumber       = "number"
)

// Question is one configurable funnel question
type Question struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	PartnerID          uuid.UUID      `gorm:"type:uuid;not null;index:idx_questions_partner_category" json:"partner_id"`
	ServiceCategoryID  uuid.UUID      `gorm:"type:uuid;not null;index:idx_questions_partner_category" json:"service_category_id"`
	StepNumber         int            `gorm:"not null" json:"step_number"`
	DisplayOrderInStep int            `gorm:"not null;default:0" json:"display_order_in_step"`
	Text               string         `gorm:"type:text;not null" json:"text"`
	AnswerType         string         `gorm:"type:varchar(30);not null" json:"answer_type"`
	Options            datatypes.JSON `gorm:"type:jsonb" json:"options,omitempty"`
	ConditionalDisplay datatypes.JSON `gorm:"type:jsonb" json:"conditional_display,omitempty"`
	Status             string         `gorm:"type:varchar(20);not null;default:'active'" json:"status"`
	IsDeleted          bool           `gorm:"default:false" json:"-"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (Question) TableName() string {
	return "form_questions"
}

// BeforeCreate hook to generate UUID
func (q *Question) BeforeCreate(tx *gorm.DB) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	return nil
}

// FieldMapping maps one of our field ids to an external CRM field id
type FieldMapping struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PartnerID       uuid.UUID `gorm:"type:uuid;not null;index" json:"partner_id"`
	Integration     string    `gorm:"type:varchar(30);not null;default:'ghl'" json:"integration"`
	OurFieldID      string    `gorm:"type:varchar(255);not null" json:"our_field_id"`
	ExternalFieldID string    `gorm:"type:varchar(255);not null" json:"external_field_id"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name
func (FieldMapping) TableName() string {
	return "crm_field_mappings"
}

// BeforeCreate hook to generate UUID
func (m *FieldMapping) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
