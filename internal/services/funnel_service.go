package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"quote-funnel-service/internal/dispatch"
	"quote-funnel-service/internal/events"
	"quote-funnel-service/internal/funnel"
	"quote-funnel-service/internal/metrics"
	"quote-funnel-service/internal/models"
	"quote-funnel-service/internal/repository"
	"quote-funnel-service/internal/storage"
	"quote-funnel-service/internal/templates"
)

// FunnelDeps groups the collaborators of FunnelService
type FunnelDeps struct {
	Questions  *repository.QuestionRepository
	Leads      *repository.LeadRepository
	Sessions   *SessionStore
	Telemetry  *TelemetryService
	Email      *EmailService
	CRM        *CRMService
	RoofImages *storage.RoofImageStore
	Events     *events.Publisher
	Dispatcher *dispatch.Dispatcher
}

// FunnelService drives the quote wizard. Every operation is scoped to the
// partner resolved for the request.
type FunnelService struct {
	questions  *repository.QuestionRepository
	leads      *repository.LeadRepository
	sessions   *SessionStore
	telemetry  *TelemetryService
	email      *EmailService
	crm        *CRMService
	roofImages *storage.RoofImageStore
	events     *events.Publisher
	dispatcher *dispatch.Dispatcher

	productListingPath string
	logger             *logrus.Entry
	now                func() time.Time
}

// NewFunnelService creates the funnel service
func NewFunnelService(deps FunnelDeps, productListingPath string, logger *logrus.Logger) *FunnelService {
	return &FunnelService{
		questions:          deps.Questions,
		leads:              deps.Leads,
		sessions:           deps.Sessions,
		telemetry:          deps.Telemetry,
		email:              deps.Email,
		crm:                deps.CRM,
		roofImages:         deps.RoofImages,
		events:             deps.Events,
		dispatcher:         deps.Dispatcher,
		productListingPath: productListingPath,
		logger:             logger.WithField("component", "funnel"),
		now:                time.Now,
	}
}

// funnelState is one session with the question set it runs against
type funnelState struct {
	partner   *models.Partner
	session   *models.FunnelSession
	category  *models.ServiceCategory
	questions []models.Question
	rules     []funnel.Question
	byID      map[string]*models.Question
	plan      funnel.StepPlan
}

func (st *funnelState) answers() funnel.Answers {
	return funnel.Answers(st.session.Answers)
}

func (st *funnelState) replan() {
	st.plan = funnel.Plan(st.rules, st.answers(), funnel.PlanOptions{
		RoofMapping: st.category.IsSolar() && st.partner.RoofMappingEnabled,
	})
	st.session.CurrentStep = funnel.Clamp(st.session.CurrentStep, st.plan.TotalSteps)
}

func (st *funnelState) currentStep() funnel.Step {
	step, _ := st.plan.At(st.session.CurrentStep)
	return step
}

func (s *FunnelService) loadQuestions(ctx context.Context, partner *models.Partner, categoryID uuid.UUID) (*models.ServiceCategory, []models.Question, error) {
	category, err := s.questions.GetCategory(ctx, partner.ID, categoryID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load category: %w", err)
	}
	if category == nil {
		return nil, nil, ErrCategoryNotFound
	}
	questions, err := s.questions.ListActive(ctx, partner.ID, categoryID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load questions: %w", err)
	}
	return category, questions, nil
}

func (s *FunnelService) newState(partner *models.Partner, session *models.FunnelSession, category *models.ServiceCategory, questions []models.Question) *funnelState {
	st := &funnelState{
		partner:   partner,
		session:   session,
		category:  category,
		questions: questions,
		byID:      make(map[string]*models.Question, len(questions)),
		rules:     make([]funnel.Question, 0, len(questions)),
	}
	for i := range questions {
		q := &questions[i]
		id := q.ID.String()
		st.byID[id] = q

		// A malformed rule shows the question rather than losing it
		rule, err := funnel.ParseRule(q.ConditionalDisplay)
		if err != nil {
			s.logger.WithError(err).WithField("question_id", id).Warn("Ignoring invalid conditional display rule")
			rule = nil
		}
		st.rules = append(st.rules, funnel.Question{
			ID:           id,
			StepNumber:   q.StepNumber,
			DisplayOrder: q.DisplayOrderInStep,
			Rule:         rule,
		})
	}
	if refs := funnel.UnknownReferences(st.rules); len(refs) > 0 {
		s.logger.WithField("references", refs).Debug("Rules reference questions outside the active set")
	}
	st.replan()
	return st
}

func (s *FunnelService) loadState(ctx context.Context, partner *models.Partner, sessionID string) (*funnelState, error) {
	session, err := s.sessions.Get(ctx, partner.ID, sessionID)
	if err != nil {
		return nil, err
	}
	category, questions, err := s.loadQuestions(ctx, partner, session.ServiceCategoryID)
	if err != nil {
		return nil, err
	}
	return s.newState(partner, session, category, questions), nil
}

// ListQuestions returns a category's active questions in wizard order
func (s *FunnelService) ListQuestions(ctx context.Context, partner *models.Partner, categoryID uuid.UUID) ([]models.QuestionView, error) {
	_, questions, err := s.loadQuestions(ctx, partner, categoryID)
	if err != nil {
		return nil, err
	}
	views := make([]models.QuestionView, 0, len(questions))
	for i := range questions {
		views = append(views, models.NewQuestionView(&questions[i]))
	}
	return views, nil
}

// StartSession opens a wizard for a service category at step 1
func (s *FunnelService) StartSession(ctx context.Context, partner *models.Partner, categoryID uuid.UUID, device map[string]interface{}) (*models.SessionResponse, error) {
	category, questions, err := s.loadQuestions(ctx, partner, categoryID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	session := &models.FunnelSession{
		ID:                uuid.New().String(),
		PartnerID:         partner.ID,
		ServiceCategoryID: category.ID,
		CategoryKind:      category.Kind,
		CurrentStep:       1,
		Answers:           make(map[string]json.RawMessage),
		SubmissionID:      uuid.New(),
		DeviceInfo:        device,
		OTP:               models.OTPState{Status: models.OTPStatusUnsent},
		StartedAt:         now,
	}
	st := s.newState(partner, session, category, questions)

	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}

	s.telemetry.UpsertAsync(ctx, MetaFromSession(session), TelemetryPatch{
		CurrentPage: st.currentStep().Name,
		Events:      []models.ConversionEvent{{Type: "funnel_started"}},
	})

	return s.response(st), nil
}

// GetSession returns the current wizard state
func (s *FunnelService) GetSession(ctx context.Context, partner *models.Partner, sessionID string) (*models.SessionResponse, error) {
	st, err := s.loadState(ctx, partner, sessionID)
	if err != nil {
		return nil, err
	}
	return s.response(st), nil
}

// SetAnswer records one answer, drops answers of questions it hid, replans
// and keeps the current step in range
func (s *FunnelService) SetAnswer(ctx context.Context, partner *models.Partner, sessionID, questionID string, value json.RawMessage) (*models.SessionResponse, error) {
	st, err := s.loadState(ctx, partner, sessionID)
	if err != nil {
		return nil, err
	}
	if st.session.Completed {
		return nil, ErrSessionClosed
	}
	if _, ok := st.byID[questionID]; !ok {
		return nil, ErrQuestionNotFound
	}

	if len(funnel.AnswerValues(value)) == 0 {
		delete(st.session.Answers, questionID)
	} else {
		st.session.Answers[questionID] = value
	}

	pruned, removed := funnel.PruneHidden(st.rules, st.answers())
	st.session.Answers = pruned
	st.replan()

	if err := s.sessions.Save(ctx, st.session); err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		s.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"removed":    removed,
		}).Debug("Dropped answers of hidden questions")
	}

	step := st.currentStep()
	tasks := []dispatch.Task{s.telemetry.Task(MetaFromSession(st.session), TelemetryPatch{
		CurrentPage: step.Name,
		QuoteData: map[string]interface{}{
			"answers":      st.session.Answers,
			"current_step": st.session.CurrentStep,
			"total_steps":  st.plan.TotalSteps,
		},
	})}
	if st.session.HasLead() {
		tasks = append(tasks, s.leadUpdateTask(partner.ID, st.session.SubmissionID, "form_answers", st.session.Answers))
	}
	s.dispatcher.Dispatch(ctx, tasks...)

	return s.response(st), nil
}

// Next moves forward one step; it does nothing on the last step
func (s *FunnelService) Next(ctx context.Context, partner *models.Partner, sessionID string) (*models.SessionResponse, error) {
	st, err := s.loadState(ctx, partner, sessionID)
	if err != nil {
		return nil, err
	}
	if st.session.CurrentStep >= st.plan.TotalSteps {
		return s.response(st), nil
	}

	leaving := st.currentStep()
	st.session.MarkPageCompleted(leaving.Name)
	st.session.CurrentStep++
	if err := s.sessions.Save(ctx, st.session); err != nil {
		return nil, err
	}

	s.telemetry.UpsertAsync(ctx, MetaFromSession(st.session), TelemetryPatch{
		CurrentPage:    st.currentStep().Name,
		PagesCompleted: []string{leaving.Name},
		FormSubmission: &models.FormSubmission{
			Page: leaving.Name,
			Data: s.stepData(st, leaving),
		},
	})
	return s.response(st), nil
}

// Previous moves back one step, never below the first
func (s *FunnelService) Previous(ctx context.Context, partner *models.Partner, sessionID string) (*models.SessionResponse, error) {
	st, err := s.loadState(ctx, partner, sessionID)
	if err != nil {
		return nil, err
	}
	if st.session.CurrentStep <= 1 {
		return s.response(st), nil
	}

	st.session.CurrentStep--
	if err := s.sessions.Save(ctx, st.session); err != nil {
		return nil, err
	}
	s.telemetry.UpsertAsync(ctx, MetaFromSession(st.session), TelemetryPatch{
		CurrentPage: st.currentStep().Name,
	})
	return s.response(st), nil
}

// SelectAddress stores the structured address. An existing lead is updated
// in the background.
func (s *FunnelService) SelectAddress(ctx context.Context, partner *models.Partner, sessionID string, address models.Address) (*models.SessionResponse, error) {
	st, err := s.loadState(ctx, partner, sessionID)
	if err != nil {
		return nil, err
	}

	st.session.Address = &address
	if err := s.sessions.Save(ctx, st.session); err != nil {
		return nil, err
	}

	meta := MetaFromSession(st.session)
	tasks := []dispatch.Task{s.telemetry.Task(meta, TelemetryPatch{
		CurrentPage: string(funnel.StepKindAddress),
		QuoteData:   map[string]interface{}{"address": address},
		FormSubmission: &models.FormSubmission{
			Page: string(funnel.StepKindAddress),
			Data: map[string]interface{}{"postcode": address.Postcode},
		},
	})}
	if st.session.HasLead() {
		tasks = append(tasks, s.leadUpdateTask(partner.ID, st.session.SubmissionID, "address", address))
	}
	s.dispatcher.Dispatch(ctx, tasks...)

	return s.response(st), nil
}

// SaveRoofData stores roof mapping output. The optional image is uploaded
// to object storage in the background.
func (s *FunnelService) SaveRoofData(ctx context.Context, partner *models.Partner, sessionID string, roof json.RawMessage, image string) (*models.SessionResponse, error) {
	st, err := s.loadState(ctx, partner, sessionID)
	if err != nil {
		return nil, err
	}
	if st.plan.IndexOf(funnel.StepKindRoofMapping) == 0 {
		return nil, ErrRoofMappingOff
	}

	st.session.RoofData = roof
	if err := s.sessions.Save(ctx, st.session); err != nil {
		return nil, err
	}

	meta := MetaFromSession(st.session)
	tasks := []dispatch.Task{s.telemetry.Task(meta, TelemetryPatch{
		CurrentPage: string(funnel.StepKindRoofMapping),
		QuoteData:   map[string]interface{}{"roof_data": roof},
		FormSubmission: &models.FormSubmission{
			Page: string(funnel.StepKindRoofMapping),
		},
	})}
	if image != "" && s.roofImages.Enabled() {
		submissionID := st.session.SubmissionID
		tasks = append(tasks, dispatch.Task{
			Name: "roof_image_upload",
			Run: func(ctx context.Context) error {
				key, err := s.roofImages.Upload(ctx, partner.ID.String(), submissionID.String(), image)
				if err != nil {
					return err
				}
				return s.telemetry.Upsert(ctx, meta, TelemetryPatch{
					QuoteData: map[string]interface{}{"roof_image_key": key},
				})
			},
		})
	}
	if st.session.HasLead() {
		tasks = append(tasks, s.leadUpdateTask(partner.ID, st.session.SubmissionID, "roof_data", roof))
	}
	s.dispatcher.Dispatch(ctx, tasks...)

	return s.response(st), nil
}

// SubmitContact validates the contact step, saves the lead synchronously
// and dispatches the post-submission side effects as one batch
func (s *FunnelService) SubmitContact(ctx context.Context, partner *models.Partner, sessionID string, contact models.ContactDetails) (*models.ContactResponse, error) {
	if err := funnel.ValidateContact(contact); err != nil {
		return nil, err
	}
	phone, err := funnel.NormalizePhone(contact.Phone)
	if err != nil {
		return nil, &funnel.ValidationError{Fields: map[string]string{"phone": err.Error()}}
	}
	contact = models.ContactDetails{
		FirstName: strings.TrimSpace(contact.FirstName),
		LastName:  strings.TrimSpace(contact.LastName),
		Email:     strings.ToLower(strings.TrimSpace(contact.Email)),
		Phone:     phone,
	}

	st, err := s.loadState(ctx, partner, sessionID)
	if err != nil {
		return nil, err
	}
	session := st.session
	if session.Completed {
		return nil, ErrSessionClosed
	}

	stage := models.StageDetailsFilled
	if !partner.OTPEnabled {
		stage = models.StageCompleted
	}

	lead, created, err := s.saveLead(ctx, st, contact, stage)
	if err != nil {
		return nil, err
	}

	session.Contact = &contact
	session.LeadCreated = true
	session.MarkPageCompleted(string(funnel.StepKindContact))
	if idx := st.plan.IndexOf(funnel.StepKindContact); idx > 0 {
		session.CurrentStep = idx
	}
	if session.OTP.Phone != phone {
		session.OTP = models.OTPState{Status: models.OTPStatusUnsent, Phone: phone}
	}
	if !partner.OTPEnabled {
		session.Completed = true
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}

	meta := MetaFromSession(session)
	var telemetryTask dispatch.Task
	if partner.OTPEnabled {
		telemetryTask = s.telemetry.Task(meta, TelemetryPatch{
			CurrentPage:    string(funnel.StepKindContact),
			PagesCompleted: []string{string(funnel.StepKindContact)},
			Stage:          models.StageDetailsFilled,
			FormSubmission: &models.FormSubmission{Page: string(funnel.StepKindContact)},
			OnceEvents:     []models.ConversionEvent{{Type: EventDetailsSubmitted}},
		})
	} else {
		telemetryTask = dispatch.Task{
			Name: "telemetry_complete",
			Run: func(ctx context.Context) error {
				if err := s.telemetry.Upsert(ctx, meta, TelemetryPatch{
					CurrentPage:    string(funnel.StepKindContact),
					PagesCompleted: []string{string(funnel.StepKindContact)},
					FormSubmission: &models.FormSubmission{Page: string(funnel.StepKindContact)},
					OnceEvents:     []models.ConversionEvent{{Type: EventDetailsSubmitted}},
				}); err != nil {
					return err
				}
				return s.telemetry.MarkCompleted(ctx, meta)
			},
		}
	}

	tasks := []dispatch.Task{telemetryTask}
	leadEmail := s.leadEmail(st, lead)
	if created {
		tasks = append(tasks, dispatch.Task{
			Name:                  "lead_notification_email",
			MustSurviveNavigation: true,
			Run: func(ctx context.Context) error {
				return s.email.SendLeadNotification(ctx, partner, leadEmail)
			},
		})
	}
	tasks = append(tasks, dispatch.Task{
		Name: "crm_sync",
		Run: func(ctx context.Context) error {
			return s.crm.SyncLead(ctx, partner, lead)
		},
	})
	if s.events.Enabled() {
		tasks = append(tasks, dispatch.Task{
			Name: "lead_events",
			Run: func(ctx context.Context) error {
				event := s.leadEvent(session, stage)
				var errs []error
				if created {
					errs = append(errs, s.events.PublishLeadCreated(ctx, event))
				}
				if !partner.OTPEnabled {
					errs = append(errs, s.events.PublishLeadCompleted(ctx, s.leadEvent(session, stage)))
				}
				return errors.Join(errs...)
			},
		})
	}
	s.dispatcher.Dispatch(ctx, tasks...)

	resp := &models.ContactResponse{SubmissionID: session.SubmissionID, Next: "otp"}
	if !partner.OTPEnabled {
		resp.Next = "complete"
		resp.RedirectURL = s.RedirectURL(session)
	}
	return resp, nil
}

// saveLead creates the lead on first submission and updates it afterwards.
// It is awaited: the funnel does not advance when it fails.
func (s *FunnelService) saveLead(ctx context.Context, st *funnelState, contact models.ContactDetails, stage string) (*models.Lead, bool, error) {
	session := st.session
	answers, err := json.Marshal(session.Answers)
	if err != nil {
		return nil, false, err
	}

	lead := &models.Lead{
		SubmissionID:      session.SubmissionID,
		PartnerID:         st.partner.ID,
		ServiceCategoryID: session.ServiceCategoryID,
		FirstName:         contact.FirstName,
		LastName:          contact.LastName,
		Email:             contact.Email,
		Phone:             contact.Phone,
		FormAnswers:       datatypes.JSON(answers),
		Status:            models.LeadStatusNew,
		VerificationStage: stage,
	}
	if session.Address != nil {
		if raw, err := json.Marshal(session.Address); err == nil {
			lead.Address = datatypes.JSON(raw)
		}
	}
	if len(session.RoofData) > 0 {
		lead.RoofData = datatypes.JSON(session.RoofData)
	}

	if !session.HasLead() {
		err := s.leads.Create(ctx, lead)
		if err == nil {
			metrics.LeadsCreated.WithLabelValues(st.partner.ID.String()).Inc()
			s.logger.WithFields(logrus.Fields{
				"partner_id":    st.partner.ID,
				"submission_id": lead.SubmissionID,
				"email":         funnel.MaskEmail(lead.Email),
				"phone":         funnel.MaskPhone(lead.Phone),
			}).Info("Lead created")
			return lead, true, nil
		}
		// A retried submit may find the row its first attempt wrote
		existing, lookupErr := s.leads.GetBySubmissionID(ctx, st.partner.ID, lead.SubmissionID)
		if lookupErr != nil || existing == nil {
			s.logger.WithError(err).WithField("submission_id", lead.SubmissionID).Error("Failed to create lead")
			return nil, false, fmt.Errorf("%w: %v", ErrLeadSaveFailed, err)
		}
	}

	// verification_stage only moves forward, through the OTP flow
	fields := map[string]interface{}{
		"first_name":   lead.FirstName,
		"last_name":    lead.LastName,
		"email":        lead.Email,
		"phone":        lead.Phone,
		"form_answers": lead.FormAnswers,
	}
	if lead.Address != nil {
		fields["address"] = lead.Address
	}
	if lead.RoofData != nil {
		fields["roof_data"] = lead.RoofData
	}
	if err := s.leads.UpdateFields(ctx, st.partner.ID, lead.SubmissionID, fields); err != nil {
		s.logger.WithError(err).WithField("submission_id", lead.SubmissionID).Error("Failed to update lead")
		return nil, false, fmt.Errorf("%w: %v", ErrLeadSaveFailed, err)
	}
	return lead, false, nil
}

// UpdateSelections records product choices made after the wizard
func (s *FunnelService) UpdateSelections(ctx context.Context, partner *models.Partner, submissionID uuid.UUID, selections json.RawMessage, page string) error {
	var decoded interface{}
	if err := json.Unmarshal(selections, &decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSelections, err)
	}

	err := s.leads.UpdateFields(ctx, partner.ID, submissionID, map[string]interface{}{
		"product_selections": datatypes.JSON(selections),
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrLeadNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLeadSaveFailed, err)
	}

	if page == "" {
		page = "selections"
	}
	s.telemetry.UpsertAsync(ctx, SessionMeta{SubmissionID: submissionID, PartnerID: partner.ID}, TelemetryPatch{
		CurrentPage:    page,
		PagesCompleted: []string{page},
		QuoteData:      map[string]interface{}{"selections": decoded},
		FormSubmission: &models.FormSubmission{Page: page, Data: map[string]interface{}{"selections": decoded}},
		Events:         []models.ConversionEvent{{Type: EventSelectionsUpdated}},
	})
	return nil
}

// RecordBeacon stores page timings sent while a page unloads. The write
// survives shutdown draining; the caller never waits for it.
func (s *FunnelService) RecordBeacon(ctx context.Context, partner *models.Partner, req *models.BeaconRequest) error {
	session, err := s.sessions.Get(ctx, partner.ID, req.SessionID)
	if err != nil {
		return err
	}

	task := s.telemetry.Task(MetaFromSession(session), TelemetryPatch{
		CurrentPage: req.Page,
		PageTimings: req.PageTimings,
		QuoteData:   req.Data,
	})
	task.Name = "telemetry_beacon"
	task.MustSurviveNavigation = true
	s.dispatcher.Dispatch(ctx, task)
	return nil
}

// RedirectURL is where a completed funnel sends the visitor
func (s *FunnelService) RedirectURL(session *models.FunnelSession) string {
	path := s.productListingPath
	if path == "" {
		path = "/products"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + url.Values{"submission_id": {session.SubmissionID.String()}}.Encode()
}

func (s *FunnelService) leadUpdateTask(partnerID, submissionID uuid.UUID, column string, value interface{}) dispatch.Task {
	return dispatch.Task{
		Name: "lead_update_" + column,
		Run: func(ctx context.Context) error {
			raw, err := json.Marshal(value)
			if err != nil {
				return err
			}
			return s.leads.UpdateFields(ctx, partnerID, submissionID, map[string]interface{}{
				column: datatypes.JSON(raw),
			})
		},
	}
}

// leadStageTask records a verification stage on the lead row
func (s *FunnelService) leadStageTask(partner *models.Partner, session *models.FunnelSession, stage string) dispatch.Task {
	partnerID, submissionID := partner.ID, session.SubmissionID
	return dispatch.Task{
		Name: "lead_stage_" + stage,
		Run: func(ctx context.Context) error {
			return s.leads.UpdateFields(ctx, partnerID, submissionID, map[string]interface{}{
				"verification_stage": stage,
			})
		},
	}
}

// sessionLead rebuilds the lead fields the emails need from the session
func (s *FunnelService) sessionLead(st *funnelState) *models.Lead {
	lead := &models.Lead{
		SubmissionID:      st.session.SubmissionID,
		PartnerID:         st.partner.ID,
		ServiceCategoryID: st.session.ServiceCategoryID,
		Status:            models.LeadStatusNew,
	}
	if c := st.session.Contact; c != nil {
		lead.FirstName = c.FirstName
		lead.LastName = c.LastName
		lead.Email = c.Email
		lead.Phone = c.Phone
	}
	return lead
}

func (s *FunnelService) leadEvent(session *models.FunnelSession, stage string) *events.LeadEvent {
	return &events.LeadEvent{
		PartnerID:         session.PartnerID.String(),
		SubmissionID:      session.SubmissionID.String(),
		ServiceCategoryID: session.ServiceCategoryID.String(),
		SessionID:         session.ID,
		VerificationStage: stage,
	}
}

// stepData is the form submission payload for a step being left
func (s *FunnelService) stepData(st *funnelState, step funnel.Step) map[string]interface{} {
	switch step.Kind {
	case funnel.StepKindQuestion:
		data := make(map[string]interface{})
		for _, q := range funnel.QuestionsForStep(st.rules, st.answers(), step.QuestionStep) {
			if raw, ok := st.session.Answers[q.ID]; ok {
				data[q.ID] = raw
			}
		}
		return data
	case funnel.StepKindAddress:
		if st.session.Address != nil {
			return map[string]interface{}{"postcode": st.session.Address.Postcode}
		}
	}
	return nil
}

func (s *FunnelService) leadEmail(st *funnelState, lead *models.Lead) *LeadEmail {
	e := &LeadEmail{Lead: lead, Category: st.category.Name}
	if a := st.session.Address; a != nil {
		parts := make([]string, 0, 4)
		for _, p := range []string{a.Line1, a.Line2, a.City, a.Postcode} {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		e.Address = strings.Join(parts, ", ")
	}
	for _, q := range funnel.VisibleQuestions(st.rules, st.answers()) {
		values := st.answers().Values(q.ID)
		if len(values) == 0 {
			continue
		}
		e.Answers = append(e.Answers, templates.AnswerLine{
			Question: st.byID[q.ID].Text,
			Answer:   strings.Join(values, ", "),
		})
	}
	return e
}

func (s *FunnelService) response(st *funnelState) *models.SessionResponse {
	session := st.session
	step := st.currentStep()

	fixed := make([]string, 0, len(st.plan.FixedSteps))
	for _, k := range st.plan.FixedSteps {
		fixed = append(fixed, string(k))
	}

	resp := &models.SessionResponse{
		SessionID: session.ID,
		CurrentStep: models.StepView{
			Index:        step.Index,
			Kind:         string(step.Kind),
			Name:         step.Name,
			QuestionStep: step.QuestionStep,
		},
		TotalSteps:  st.plan.TotalSteps,
		ActiveSteps: st.plan.ActiveSteps,
		FixedSteps:  fixed,
		Answers:     session.Answers,
		Address:     session.Address,
		OTPRequired: st.partner.OTPEnabled,
		Completed:   session.Completed,
	}
	if session.HasLead() {
		id := session.SubmissionID
		resp.SubmissionID = &id
	}
	if step.Kind == funnel.StepKindQuestion {
		for _, q := range funnel.QuestionsForStep(st.rules, st.answers(), step.QuestionStep) {
			resp.Questions = append(resp.Questions, models.NewQuestionView(st.byID[q.ID]))
		}
	}
	return resp
}
