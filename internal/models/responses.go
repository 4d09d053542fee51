package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard API response wrapper
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError represents an error response
type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// PartnerView is the public branding of a partner
type PartnerView struct {
	ID                 uuid.UUID       `json:"id"`
	Name               string          `json:"name"`
	Subdomain          string          `json:"subdomain"`
	LogoURL            string          `json:"logo_url,omitempty"`
	AccentColor        string          `json:"accent_color,omitempty"`
	OTPEnabled         bool            `json:"otp_enabled"`
	RoofMappingEnabled bool            `json:"roof_mapping_enabled"`
	LegalLinks         json.RawMessage `json:"legal_links,omitempty"`
}

// NewPartnerView strips private settings from a partner
func NewPartnerView(p *Partner) PartnerView {
	view := PartnerView{
		ID:                 p.ID,
		Name:               p.Name,
		Subdomain:          p.Subdomain,
		LogoURL:            p.LogoURL,
		AccentColor:        p.AccentColor,
		OTPEnabled:         p.OTPEnabled,
		RoofMappingEnabled: p.RoofMappingEnabled,
	}
	if len(p.LegalLinks) > 0 {
		view.LegalLinks = json.RawMessage(p.LegalLinks)
	}
	return view
}

// QuestionView is a question as rendered by the funnel
type QuestionView struct {
	ID                 uuid.UUID       `json:"id"`
	StepNumber         int             `json:"step_number"`
	DisplayOrderInStep int             `json:"display_order_in_step"`
	Text               string          `json:"text"`
	AnswerType         string          `json:"answer_type"`
	Options            json.RawMessage `json:"options,omitempty"`
	ConditionalDisplay json.RawMessage `json:"conditional_display,omitempty"`
}

// NewQuestionView converts a stored question
func NewQuestionView(q *Question) QuestionView {
	view := QuestionView{
		ID:                 q.ID,
		StepNumber:         q.StepNumber,
		DisplayOrderInStep: q.DisplayOrderInStep,
		Text:               q.Text,
		AnswerType:         q.AnswerType,
	}
	if len(q.Options) > 0 {
		view.Options = json.RawMessage(q.Options)
	}
	if len(q.ConditionalDisplay) > 0 {
		view.ConditionalDisplay = json.RawMessage(q.ConditionalDisplay)
	}
	return view
}

// StepView describes the wizard position
type StepView struct {
	Index        int    `json:"index"`
	Kind         string `json:"kind"`
	Name         string `json:"name"`
	QuestionStep int    `json:"question_step,omitempty"`
}

// SessionResponse is the funnel state returned after every wizard action
type SessionResponse struct {
	SessionID    string                     `json:"session_id"`
	CurrentStep  StepView                   `json:"current_step"`
	TotalSteps   int                        `json:"total_steps"`
	ActiveSteps  []int                      `json:"active_steps"`
	FixedSteps   []string                   `json:"fixed_steps"`
	Questions    []QuestionView             `json:"questions,omitempty"`
	Answers      map[string]json.RawMessage `json:"answers"`
	Address      *Address                   `json:"address,omitempty"`
	SubmissionID *uuid.UUID                 `json:"submission_id,omitempty"`
	OTPRequired  bool                       `json:"otp_required"`
	Completed    bool                       `json:"completed"`
}

// ContactResponse tells the client where the funnel goes after contact
type ContactResponse struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	Next         string    `json:"next"` // otp, complete
	RedirectURL  string    `json:"redirect_url,omitempty"`
}

// OTPStatusResponse reports the verification sub-flow state
type OTPStatusResponse struct {
	Status         OTPStatus  `json:"status"`
	PhoneMasked    string     `json:"phone_masked,omitempty"`
	LastSentAt     *time.Time `json:"last_sent_at,omitempty"`
	CanResend      bool       `json:"can_resend"`
	RetryInSeconds int        `json:"retry_in_seconds,omitempty"`
	Error          string     `json:"error,omitempty"`
	Verified       bool       `json:"verified"`
	RedirectURL    string     `json:"redirect_url,omitempty"`
}

// HealthResponse is returned by the health and readiness probes
type HealthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}
