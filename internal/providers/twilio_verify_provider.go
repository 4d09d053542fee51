package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quote-funnel-service/internal/config"
)

// TwilioVerifyProvider sends and checks codes through Twilio Verify v2 using
// API key authentication
type TwilioVerifyProvider struct {
	baseURL          string
	apiKeySID        string
	apiKeySecret     string
	verifyServiceSID string
	httpClient       *http.Client
}

// twilioVerification is the subset of the Verification resource we read
type twilioVerification struct {
	SID     string `json:"sid"`
	To      string `json:"to"`
	Channel string `json:"channel"`
	Status  string `json:"status"` // pending, approved, canceled
	Valid   bool   `json:"valid"`
}

// TwilioErrorResponse represents an error from Twilio API
type TwilioErrorResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

// NewTwilioVerifyProvider creates a new Twilio Verify provider
func NewTwilioVerifyProvider(cfg config.OTPConfig) (*TwilioVerifyProvider, error) {
	if cfg.TwilioVerifyServiceSID == "" {
		return nil, fmt.Errorf("TWILIO_VERIFY_SERVICE_SID is required")
	}
	if cfg.TwilioAPIKeySID == "" {
		return nil, fmt.Errorf("TWILIO_API_KEY_SID is required")
	}
	if cfg.TwilioAPIKeySecret == "" {
		return nil, fmt.Errorf("TWILIO_API_KEY_SECRET is required")
	}

	baseURL := strings.TrimRight(cfg.TwilioBaseURL, "/")
	if baseURL == "" {
		baseURL = "https://verify.twilio.com/v2"
	}

	return &TwilioVerifyProvider{
		baseURL:          baseURL,
		apiKeySID:        cfg.TwilioAPIKeySID,
		apiKeySecret:     cfg.TwilioAPIKeySecret,
		verifyServiceSID: cfg.TwilioVerifyServiceSID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Send starts an SMS verification and returns its SID
func (p *TwilioVerifyProvider) Send(ctx context.Context, phone string) (string, error) {
	form := url.Values{}
	form.Set("To", phone)
	form.Set("Channel", "sms")

	var v twilioVerification
	if err := p.post(ctx, "Verifications", form, &v); err != nil {
		return "", err
	}
	if v.SID == "" {
		return "", fmt.Errorf("Twilio returned no verification sid")
	}
	return v.SID, nil
}

// Check verifies code against the verification identified by handle
func (p *TwilioVerifyProvider) Check(ctx context.Context, handle, phone, code string) (bool, error) {
	form := url.Values{}
	if handle != "" {
		form.Set("VerificationSid", handle)
	} else {
		form.Set("To", phone)
	}
	form.Set("Code", code)

	var v twilioVerification
	if err := p.post(ctx, "VerificationCheck", form, &v); err != nil {
		return false, err
	}
	return v.Status == "approved" && v.Valid, nil
}

// GetName returns the provider name
func (p *TwilioVerifyProvider) GetName() string {
	return "twilio"
}

func (p *TwilioVerifyProvider) post(ctx context.Context, resource string, form url.Values, out interface{}) error {
	apiURL := fmt.Sprintf("%s/Services/%s/%s", p.baseURL, p.verifyServiceSID, resource)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	p.setAuthHeader(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrVerificationExpired
	}
	if resp.StatusCode >= 400 {
		var twilioErr TwilioErrorResponse
		if err := json.Unmarshal(body, &twilioErr); err == nil && twilioErr.Code != 0 {
			if twilioErr.Code == 60202 {
				return ErrTooManyAttempts
			}
			return fmt.Errorf("Twilio error %d: %s", twilioErr.Code, twilioErr.Message)
		}
		return fmt.Errorf("Twilio error: %d - %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// setAuthHeader uses the API key SID and secret as basic auth credentials
func (p *TwilioVerifyProvider) setAuthHeader(req *http.Request) {
	auth := base64.StdEncoding.EncodeToString([]byte(p.apiKeySID + ":" + p.apiKeySecret))
	req.Header.Set("Authorization", "Basic "+auth)
}
