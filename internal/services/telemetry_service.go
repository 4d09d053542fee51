package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"quote-funnel-service/internal/dispatch"
	"quote-funnel-service/internal/models"
	"quote-funnel-service/internal/repository"
)

// Conversion event types
const (
	EventOTPSent           = "otp_sent"
	EventOTPVerified       = "otp_verified"
	EventCompleted         = "completed"
	EventDetailsSubmitted  = "details_submitted"
	EventSelectionsUpdated = "selections_updated"
)

// SessionMeta identifies the submission a telemetry write belongs to. It is
// passed explicitly on every call.
type SessionMeta struct {
	SubmissionID      uuid.UUID
	PartnerID         uuid.UUID
	ServiceCategoryID uuid.UUID
	SessionID         string
	DeviceInfo        map[string]interface{}
}

// MetaFromSession builds the telemetry identity of a funnel session
func MetaFromSession(s *models.FunnelSession) SessionMeta {
	return SessionMeta{
		SubmissionID:      s.SubmissionID,
		PartnerID:         s.PartnerID,
		ServiceCategoryID: s.ServiceCategoryID,
		SessionID:         s.ID,
		DeviceInfo:        s.DeviceInfo,
	}
}

// TelemetryPatch is one write to a telemetry row. Object fields are shallow
// merged, event fields are appended.
type TelemetryPatch struct {
	CurrentPage    string
	PagesCompleted []string
	QuoteData      map[string]interface{}
	PageTimings    map[string]interface{}
	FormSubmission *models.FormSubmission
	Events         []models.ConversionEvent
	// OnceEvents are appended only when no event of the same type exists
	OnceEvents []models.ConversionEvent
	Stage      string
	Complete   bool
}

// stageRank orders verification stages so a late write cannot move a row
// backwards. Abandoned ranks lowest so a returning visitor overrides it.
var stageRank = map[string]int{
	models.StageAbandoned:     0,
	models.StageDetailsFilled: 1,
	models.StageOTPSent:       2,
	models.StageOTPVerified:   3,
	models.StageCompleted:     3,
}

// TelemetryService writes the submission telemetry projection
type TelemetryService struct {
	repo       *repository.TelemetryRepository
	dispatcher *dispatch.Dispatcher
	logger     *logrus.Entry
	now        func() time.Time
}

// NewTelemetryService creates a telemetry service
func NewTelemetryService(repo *repository.TelemetryRepository, dispatcher *dispatch.Dispatcher, logger *logrus.Logger) *TelemetryService {
	return &TelemetryService{
		repo:       repo,
		dispatcher: dispatcher,
		logger:     logger.WithField("component", "telemetry"),
		now:        time.Now,
	}
}

// Upsert merges patch into the row for meta.SubmissionID
func (s *TelemetryService) Upsert(ctx context.Context, meta SessionMeta, patch TelemetryPatch) error {
	if meta.SubmissionID == uuid.Nil {
		return fmt.Errorf("telemetry upsert without submission id")
	}
	now := s.now().UTC()

	return s.repo.Upsert(ctx, meta.SubmissionID, func(row *models.SubmissionTelemetry, isNew bool) error {
		return applyPatch(row, isNew, meta, patch, now)
	})
}

// Task wraps an upsert as a dispatchable side effect
func (s *TelemetryService) Task(meta SessionMeta, patch TelemetryPatch) dispatch.Task {
	return dispatch.Task{
		Name: "telemetry_upsert",
		Run: func(ctx context.Context) error {
			return s.Upsert(ctx, meta, patch)
		},
	}
}

// UpsertAsync dispatches an upsert without waiting for it
func (s *TelemetryService) UpsertAsync(ctx context.Context, meta SessionMeta, patch TelemetryPatch) *dispatch.Batch {
	return s.dispatcher.Dispatch(ctx, s.Task(meta, patch))
}

// MarkVerified records OTP approval. Repeated calls leave a single
// otp_verified event and the first completed_at.
func (s *TelemetryService) MarkVerified(ctx context.Context, meta SessionMeta) error {
	return s.Upsert(ctx, meta, TelemetryPatch{
		Stage:      models.StageOTPVerified,
		Complete:   true,
		OnceEvents: []models.ConversionEvent{{Type: EventOTPVerified}},
	})
}

// MarkCompleted records completion for partners without OTP, with the same
// once-only semantics as MarkVerified. Neither touches current_page, which
// later pages may already have moved on.
func (s *TelemetryService) MarkCompleted(ctx context.Context, meta SessionMeta) error {
	return s.Upsert(ctx, meta, TelemetryPatch{
		Stage:      models.StageCompleted,
		Complete:   true,
		OnceEvents: []models.ConversionEvent{{Type: EventCompleted}},
	})
}

// MarkAbandoned flags an incomplete row as abandoned
func (s *TelemetryService) MarkAbandoned(ctx context.Context, submissionID uuid.UUID) error {
	now := s.now().UTC()
	return s.repo.Upsert(ctx, submissionID, func(row *models.SubmissionTelemetry, isNew bool) error {
		if isNew || row.IsComplete {
			return nil
		}
		row.VerificationStage = models.StageAbandoned
		history, err := appendJSON(row.StageHistory, models.StageChange{Stage: models.StageAbandoned, At: now})
		if err != nil {
			return err
		}
		row.StageHistory = history
		return nil
	})
}

func applyPatch(row *models.SubmissionTelemetry, isNew bool, meta SessionMeta, patch TelemetryPatch, now time.Time) error {
	if isNew {
		row.PartnerID = meta.PartnerID
		row.ServiceCategoryID = meta.ServiceCategoryID
	}
	if meta.SessionID != "" {
		row.SessionID = meta.SessionID
	}

	var err error
	if len(meta.DeviceInfo) > 0 {
		if row.DeviceInfo, err = mergeObject(row.DeviceInfo, meta.DeviceInfo); err != nil {
			return err
		}
	} else if len(row.DeviceInfo) == 0 {
		row.DeviceInfo = datatypes.JSON("{}")
	}

	if patch.CurrentPage != "" {
		row.CurrentPage = patch.CurrentPage
	}
	if len(patch.PagesCompleted) > 0 {
		if row.PagesCompleted, err = unionStrings(row.PagesCompleted, patch.PagesCompleted); err != nil {
			return err
		}
	}
	if len(patch.QuoteData) > 0 {
		if row.QuoteData, err = mergeObject(row.QuoteData, patch.QuoteData); err != nil {
			return err
		}
	}
	if len(patch.PageTimings) > 0 {
		if row.PageTimings, err = mergeObject(row.PageTimings, patch.PageTimings); err != nil {
			return err
		}
	}
	if patch.FormSubmission != nil {
		sub := *patch.FormSubmission
		if sub.At.IsZero() {
			sub.At = now
		}
		if row.FormSubmissions, err = appendJSON(row.FormSubmissions, sub); err != nil {
			return err
		}
	}
	for _, ev := range patch.Events {
		if ev.At.IsZero() {
			ev.At = now
		}
		if row.ConversionEvents, err = appendJSON(row.ConversionEvents, ev); err != nil {
			return err
		}
	}
	for _, ev := range patch.OnceEvents {
		exists, err := hasEventType(row.ConversionEvents, ev.Type)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if ev.At.IsZero() {
			ev.At = now
		}
		if row.ConversionEvents, err = appendJSON(row.ConversionEvents, ev); err != nil {
			return err
		}
	}

	if patch.Stage != "" && patch.Stage != row.VerificationStage &&
		(row.VerificationStage == "" || stageRank[patch.Stage] >= stageRank[row.VerificationStage]) {
		row.VerificationStage = patch.Stage
		if row.StageHistory, err = appendJSON(row.StageHistory, models.StageChange{Stage: patch.Stage, At: now}); err != nil {
			return err
		}
	}

	if patch.Complete && !row.IsComplete {
		row.IsComplete = true
		completedAt := now
		row.CompletedAt = &completedAt
	}

	// jsonb columns are never left NULL
	for _, col := range []*datatypes.JSON{&row.PagesCompleted, &row.FormSubmissions, &row.ConversionEvents, &row.StageHistory} {
		if len(*col) == 0 {
			*col = datatypes.JSON("[]")
		}
	}
	for _, col := range []*datatypes.JSON{&row.QuoteData, &row.PageTimings} {
		if len(*col) == 0 {
			*col = datatypes.JSON("{}")
		}
	}
	return nil
}

func decodeObject(raw datatypes.JSON) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode object column: %w", err)
	}
	return out, nil
}

// mergeObject shallow merges patch over the stored object
func mergeObject(raw datatypes.JSON, patch map[string]interface{}) (datatypes.JSON, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	for k, v := range patch {
		obj[k] = v
	}
	encoded, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(encoded), nil
}

func decodeArray(raw datatypes.JSON) ([]json.RawMessage, error) {
	var out []json.RawMessage
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode array column: %w", err)
	}
	return out, nil
}

// appendJSON appends item to the stored array, keeping existing entries
// byte for byte
func appendJSON(raw datatypes.JSON, item interface{}) (datatypes.JSON, error) {
	arr, err := decodeArray(raw)
	if err != nil {
		return nil, err
	}
	encodedItem, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	arr = append(arr, encodedItem)
	encoded, err := json.Marshal(arr)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(encoded), nil
}

func hasEventType(raw datatypes.JSON, eventType string) (bool, error) {
	arr, err := decodeArray(raw)
	if err != nil {
		return false, err
	}
	for _, item := range arr {
		var ev struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(item, &ev) == nil && ev.Type == eventType {
			return true, nil
		}
	}
	return false, nil
}

func unionStrings(raw datatypes.JSON, add []string) (datatypes.JSON, error) {
	var existing []string
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &existing); err != nil {
			return nil, fmt.Errorf("decode pages_completed: %w", err)
		}
	}
	seen := make(map[string]bool, len(existing))
	for _, p := range existing {
		seen[p] = true
	}
	for _, p := range add {
		if !seen[p] {
			seen[p] = true
			existing = append(existing, p)
		}
	}
	encoded, err := json.Marshal(existing)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(encoded), nil
}
