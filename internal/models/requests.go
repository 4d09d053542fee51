package models

import "encoding/json"

// StartSessionRequest starts a funnel for a service category
type StartSessionRequest struct {
	ServiceCategoryID string                 `json:"service_category_id" binding:"required,uuid"`
	DeviceInfo        map[string]interface{} `json:"device_info,omitempty"`
}

// SetAnswerRequest records one question's answer
type SetAnswerRequest struct {
	QuestionID string          `json:"question_id" binding:"required"`
	Value      json.RawMessage `json:"value"`
}

// SaveRoofDataRequest records the roof mapping step. Image is an optional
// base64 PNG snapshot of the drawn roof.
type SaveRoofDataRequest struct {
	RoofData json.RawMessage `json:"roof_data" binding:"required"`
	Image    string          `json:"image,omitempty"`
}

// VerifyOTPRequest submits the code the visitor typed
type VerifyOTPRequest struct {
	Code string `json:"code"`
}

// UpdateSelectionsRequest records product choices from later funnel stages
type UpdateSelectionsRequest struct {
	Selections json.RawMessage `json:"selections" binding:"required"`
	Page       string          `json:"page,omitempty"`
}

// BeaconRequest is sent with navigator.sendBeacon while the page unloads
type BeaconRequest struct {
	SessionID   string                 `json:"session_id"`
	Page        string                 `json:"page"`
	PageTimings map[string]interface{} `json:"page_timings,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// TestEmailRequest asks for a test message through the partner's SMTP
type TestEmailRequest struct {
	PartnerID string `json:"partner_id" binding:"required,uuid"`
	To        string `json:"to" binding:"required,email"`
}
