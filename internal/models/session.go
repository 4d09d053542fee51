package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OTPStatus is the state of the phone verification sub-flow
type OTPStatus string

const (
	OTPStatusUnsent    OTPStatus = "unsent"
	OTPStatusSending   OTPStatus = "sending"
	OTPStatusSent      OTPStatus = "sent"
	OTPStatusVerifying OTPStatus = "verifying"
	OTPStatusApproved  OTPStatus = "approved"
	OTPStatusFailed    OTPStatus = "failed"
)

// Address is the structured address chosen on the address step
type Address struct {
	Line1     string  `json:"line1" binding:"required"`
	Line2     string  `json:"line2,omitempty"`
	City      string  `json:"city,omitempty"`
	County    string  `json:"county,omitempty"`
	Postcode  string  `json:"postcode" binding:"required"`
	Country   string  `json:"country,omitempty"`
	UPRN      string  `json:"uprn,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// ContactDetails are collected on the final wizard step
type ContactDetails struct {
	FirstName string `json:"first_name" validate:"required,min=2,max=100"`
	LastName  string `json:"last_name" validate:"required,min=2,max=100"`
	Email     string `json:"email" validate:"required,email,max=255"`
	Phone     string `json:"phone" validate:"required,phone_digits"`
}

// OTPState tracks verification for one funnel session. Only the resulting
// verification stage is durable; this state lives with the session.
type OTPState struct {
	Status     OTPStatus  `json:"status"`
	Phone      string     `json:"phone,omitempty"`
	Handle     string     `json:"handle,omitempty"`
	LastSentAt *time.Time `json:"last_sent_at,omitempty"`
	SendCount  int        `json:"send_count"`
	LastError  string     `json:"last_error,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
}

// FunnelSession is the server-held wizard state for one visitor. The
// submission id is assigned when the session starts so telemetry can be
// keyed by it before the lead row exists.
type FunnelSession struct {
	ID                string                     `json:"id"`
	PartnerID         uuid.UUID                  `json:"partner_id"`
	ServiceCategoryID uuid.UUID                  `json:"service_category_id"`
	CategoryKind      string                     `json:"category_kind"`
	CurrentStep       int                        `json:"current_step"`
	Answers           map[string]json.RawMessage `json:"answers"`
	Address           *Address                   `json:"address,omitempty"`
	RoofData          json.RawMessage            `json:"roof_data,omitempty"`
	Contact           *ContactDetails            `json:"contact,omitempty"`
	SubmissionID      uuid.UUID                  `json:"submission_id"`
	LeadCreated       bool                       `json:"lead_created"`
	DeviceInfo        map[string]interface{}     `json:"device_info,omitempty"`
	PagesCompleted    []string                   `json:"pages_completed,omitempty"`
	OTP               OTPState                   `json:"otp"`
	Completed         bool                       `json:"completed"`
	StartedAt         time.Time                  `json:"started_at"`
	UpdatedAt         time.Time                  `json:"updated_at"`
}

// HasLead reports whether the contact step produced a lead
func (s *FunnelSession) HasLead() bool {
	return s.LeadCreated && s.SubmissionID != uuid.Nil
}

// MarkPageCompleted records a page once
func (s *FunnelSession) MarkPageCompleted(page string) {
	for _, p := range s.PagesCompleted {
		if p == page {
			return
		}
	}
	s.PagesCompleted = append(s.PagesCompleted, page)
}
