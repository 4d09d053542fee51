package ghl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while a partner's CRM calls are short-circuited
var ErrCircuitOpen = errors.New("CRM circuit breaker is open")

// APIError is a non-2xx response from the CRM
type APIError struct {
	StatusCode int
	Message    string
	ContactID  string // set on duplicate contact rejections
}

func (e *APIError) Error() string {
	return fmt.Sprintf("GHL API error %d: %s", e.StatusCode, e.Message)
}

// CustomField is one mapped custom field value
type CustomField struct {
	ID    string      `json:"id"`
	Value interface{} `json:"field_value"`
}

// Contact is the contact payload sent to the CRM
type Contact struct {
	LocationID   string        `json:"locationId,omitempty"`
	FirstName    string        `json:"firstName"`
	LastName     string        `json:"lastName"`
	Email        string        `json:"email,omitempty"`
	Phone        string        `json:"phone,omitempty"`
	Address1     string        `json:"address1,omitempty"`
	City         string        `json:"city,omitempty"`
	PostalCode   string        `json:"postalCode,omitempty"`
	Source       string        `json:"source,omitempty"`
	Tags         []string      `json:"tags,omitempty"`
	CustomFields []CustomField `json:"customFields,omitempty"`
}

// Opportunity is the pipeline opportunity payload
type Opportunity struct {
	PipelineID      string `json:"pipelineId"`
	LocationID      string `json:"locationId"`
	PipelineStageID string `json:"pipelineStageId"`
	ContactID       string `json:"contactId"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	Source          string `json:"source,omitempty"`
}

// Config holds client settings
type Config struct {
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
}

// Client calls the GoHighLevel API. Each partner gets its own circuit
// breaker so one broken account does not block the rest.
type Client struct {
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     *logrus.Entry

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewClient creates a CRM client
func NewClient(cfg Config, logger *logrus.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion: cfg.APIVersion,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.WithField("component", "ghl_client"),
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
	}
}

// UpsertContact creates the contact, or updates the existing one when the
// CRM rejects the create as a duplicate. It returns the contact id and
// whether it was newly created.
func (c *Client) UpsertContact(ctx context.Context, partnerID, apiKey string, contact *Contact) (string, bool, error) {
	var created struct {
		Contact struct {
			ID string `json:"id"`
		} `json:"contact"`
	}

	err := c.call(ctx, partnerID, apiKey, http.MethodPost, "/contacts/", contact, &created)
	if err == nil {
		return created.Contact.ID, true, nil
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest || apiErr.ContactID == "" {
		return "", false, err
	}

	update := *contact
	update.LocationID = "" // not accepted on update
	if err := c.call(ctx, partnerID, apiKey, http.MethodPut, "/contacts/"+apiErr.ContactID, &update, nil); err != nil {
		return "", false, err
	}
	return apiErr.ContactID, false, nil
}

// CreateOpportunity creates a pipeline opportunity and returns its id
func (c *Client) CreateOpportunity(ctx context.Context, partnerID, apiKey string, opp *Opportunity) (string, error) {
	if opp.Status == "" {
		opp.Status = "open"
	}

	var resp struct {
		Opportunity struct {
			ID string `json:"id"`
		} `json:"opportunity"`
	}
	if err := c.call(ctx, partnerID, apiKey, http.MethodPost, "/opportunities/", opp, &resp); err != nil {
		return "", err
	}
	return resp.Opportunity.ID, nil
}

func (c *Client) call(ctx context.Context, partnerID, apiKey, method, path string, body, out interface{}) error {
	cb := c.breaker(partnerID)
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, apiKey, method, path, body, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

func (c *Client) do(ctx context.Context, apiKey, method, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Version", c.apiVersion)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseAPIError(resp.StatusCode, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}

	var parsed struct {
		Message interface{} `json:"message"`
		Meta    struct {
			ContactID string `json:"contactId"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch m := parsed.Message.(type) {
		case string:
			apiErr.Message = m
		case []interface{}:
			parts := make([]string, 0, len(m))
			for _, p := range m {
				parts = append(parts, fmt.Sprint(p))
			}
			apiErr.Message = strings.Join(parts, "; ")
		}
		apiErr.ContactID = parsed.Meta.ContactID
	}
	return apiErr
}

// breaker gets or creates the circuit breaker for a partner
func (c *Client) breaker(partnerID string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[partnerID]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("ghl-%s", partnerID),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Client errors mean the request was wrong, not that the CRM is down
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
			}
			return err == nil
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			c.logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from":            from.String(),
				"to":              to.String(),
			}).Info("Circuit breaker state changed")
		},
	})
	c.breakers[partnerID] = cb
	return cb
}
