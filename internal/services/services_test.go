package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"quote-funnel-service/internal/clients/ghl"
	"quote-funnel-service/internal/dispatch"
	"quote-funnel-service/internal/models"
	"quote-funnel-service/internal/providers"
	"quote-funnel-service/internal/redis"
	"quote-funnel-service/internal/repository"
	"quote-funnel-service/internal/templates"
	"quote-funnel-service/pkg/crypto"
	"quote-funnel-service/pkg/otp"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef"

type fakeEmail struct {
	mu   sync.Mutex
	sent []*providers.Message
	err  error
}

func (f *fakeEmail) Send(ctx context.Context, m *providers.Message) (*providers.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return &providers.SendResult{ProviderName: "fake", Error: f.err}, f.err
	}
	f.sent = append(f.sent, m)
	return &providers.SendResult{ProviderName: "fake", Success: true}, nil
}

func (f *fakeEmail) GetName() string { return "fake" }

func (f *fakeEmail) messages() []*providers.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*providers.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeVerifier struct {
	mu      sync.Mutex
	sends   int
	checks  int
	sendErr error
	code    string
}

func (f *fakeVerifier) Send(ctx context.Context, phone string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sends++
	return fmt.Sprintf("VE%d", f.sends), nil
}

func (f *fakeVerifier) Check(ctx context.Context, handle, phone, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	return code == f.code, nil
}

func (f *fakeVerifier) GetName() string { return "fake" }

func (f *fakeVerifier) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

type testEnv struct {
	db         *gorm.DB
	store      *redis.MemoryStore
	dispatcher *dispatch.Dispatcher
	partners   *repository.PartnerRepository
	questions  *repository.QuestionRepository
	leads      *repository.LeadRepository
	rows       *repository.TelemetryRepository
	telemetry  *TelemetryService
	email      *EmailService
	funnel     *FunnelService
	otp        *OTPService
	mailbox    *fakeEmail
	verifier   *fakeVerifier
	encryptor  *crypto.Encryptor
	logger     *logrus.Logger

	clockMu sync.Mutex
	clock   time.Time
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "services.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, repository.AutoMigrate(db))
	return db
}

func newTestLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := newTestLogger()
	db := newTestDB(t)

	env := &testEnv{
		db:         db,
		store:      redis.NewMemoryStore(),
		dispatcher: dispatch.New(dispatch.Config{TaskTimeout: 5 * time.Second}, log),
		partners:   repository.NewPartnerRepository(db),
		questions:  repository.NewQuestionRepository(db),
		leads:      repository.NewLeadRepository(db),
		rows:       repository.NewTelemetryRepository(db),
		mailbox:    &fakeEmail{},
		verifier:   &fakeVerifier{code: "123456"},
		logger:     log,
		clock:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.dispatcher.Shutdown(ctx)
	})

	enc, err := crypto.NewEncryptor(testEncryptionKey)
	require.NoError(t, err)
	env.encryptor = enc

	renderer, err := templates.NewRenderer()
	require.NoError(t, err)
	fallback := providers.NewFailoverEmailProvider([]providers.EmailProvider{env.mailbox},
		providers.FailoverConfig{EnableFailover: true}, log)
	env.email = NewEmailService(renderer, fallback, enc, log)

	env.telemetry = NewTelemetryService(env.rows, env.dispatcher, log)
	crm := NewCRMService(ghl.NewClient(ghl.Config{BaseURL: "http://127.0.0.1:1"}, log),
		repository.NewFieldMappingRepository(db), enc, log)

	env.funnel = NewFunnelService(FunnelDeps{
		Questions:  env.questions,
		Leads:      env.leads,
		Sessions:   NewSessionStore(env.store, time.Hour),
		Telemetry:  env.telemetry,
		Email:      env.email,
		CRM:        crm,
		Dispatcher: env.dispatcher,
	}, "/products", log)
	env.otp = NewOTPService(env.funnel, env.verifier, otp.NewGenerator(6), env.store, 30*time.Second, log)

	now := func() time.Time {
		env.clockMu.Lock()
		defer env.clockMu.Unlock()
		return env.clock
	}
	env.funnel.now = now
	env.otp.now = now
	env.telemetry.now = now
	return env
}

func (e *testEnv) advance(d time.Duration) {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()
	e.clock = e.clock.Add(d)
}

func (e *testEnv) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.dispatcher.Flush(ctx))
}

// fixture is a partner with one category holding a fuel-type question and a
// follow-up shown only for gas
type fixture struct {
	partner  *models.Partner
	category *models.ServiceCategory
	fuel     *models.Question
	gasOnly  *models.Question
}

func (e *testEnv) seed(t *testing.T, otpEnabled bool) *fixture {
	t.Helper()
	ctx := context.Background()

	partner := &models.Partner{
		Name:              "Acme Heating",
		Subdomain:         fmt.Sprintf("acme%d", time.Now().UnixNano()),
		OTPEnabled:        otpEnabled,
		NotificationEmail: "leads@acme.test",
		Status:            models.PartnerStatusActive,
	}
	require.NoError(t, e.partners.Create(ctx, partner))

	category := &models.ServiceCategory{PartnerID: partner.ID, Name: "Boilers", Slug: "boilers", Kind: "boiler", Status: "active"}
	require.NoError(t, e.questions.CreateCategory(ctx, category))

	fuel := &models.Question{
		PartnerID: partner.ID, ServiceCategoryID: category.ID, StepNumber: 1,
		Text: "Fuel type", AnswerType: models.AnswerTypeSingleSelect,
		Options: datatypes.JSON(`["Gas","Electric"]`), Status: "active",
	}
	require.NoError(t, e.questions.Create(ctx, fuel))

	gasOnly := &models.Question{
		PartnerID: partner.ID, ServiceCategoryID: category.ID, StepNumber: 2,
		Text: "Boiler age", AnswerType: models.AnswerTypeText, Status: "active",
		ConditionalDisplay: datatypes.JSON(fmt.Sprintf(
			`{"dependent_on_question_id":%q,"show_when_answer_equals":"Gas"}`, fuel.ID.String())),
	}
	require.NoError(t, e.questions.Create(ctx, gasOnly))

	return &fixture{partner: partner, category: category, fuel: fuel, gasOnly: gasOnly}
}

func validContact() models.ContactDetails {
	return models.ContactDetails{
		FirstName: "Jane",
		LastName:  "Doe",
		Email:     "Jane.Doe@Example.com",
		Phone:     "07700 900123",
	}
}

func rawString(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}

func decodeEvents(t *testing.T, raw datatypes.JSON) []models.ConversionEvent {
	t.Helper()
	var events []models.ConversionEvent
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &events))
	}
	return events
}

func countEvents(events []models.ConversionEvent, eventType string) int {
	n := 0
	for _, e := range events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}
