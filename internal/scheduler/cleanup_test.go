package scheduler

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"quote-funnel-service/internal/config"
	"quote-funnel-service/internal/models"
	"quote-funnel-service/internal/repository"
	"quote-funnel-service/internal/services"
)

func newTestLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type fakeRows struct {
	rows   []models.SubmissionTelemetry
	before time.Time
	err    error
}

func (f *fakeRows) ListStale(ctx context.Context, before time.Time, limit int) ([]models.SubmissionTelemetry, error) {
	f.before = before
	if f.err != nil {
		return nil, f.err
	}
	n := len(f.rows)
	if n > limit {
		n = limit
	}
	out := make([]models.SubmissionTelemetry, n)
	copy(out, f.rows[:n])
	return out, nil
}

type fakeAbandoner struct {
	rows   *fakeRows
	marked []uuid.UUID
	failOn uuid.UUID
}

func (f *fakeAbandoner) MarkAbandoned(ctx context.Context, submissionID uuid.UUID) error {
	if submissionID == f.failOn {
		return errors.New("boom")
	}
	f.marked = append(f.marked, submissionID)
	// marked rows drop out of the stale listing
	for i, r := range f.rows.rows {
		if r.SubmissionID == submissionID {
			f.rows.rows = append(f.rows.rows[:i], f.rows.rows[i+1:]...)
			break
		}
	}
	return nil
}

type fakePurger struct{ calls int }

func (f *fakePurger) Purge() int {
	f.calls++
	return 3
}

func TestRunOnceMarksStaleRowsAndPurges(t *testing.T) {
	rows := &fakeRows{}
	for i := 0; i < abandonBatchSize+5; i++ {
		rows.rows = append(rows.rows, models.SubmissionTelemetry{SubmissionID: uuid.New()})
	}
	abandoner := &fakeAbandoner{rows: rows}
	purger := &fakePurger{}

	s := NewCleanupScheduler(rows, abandoner, purger, config.SchedulerConfig{AbandonAfter: 2 * time.Hour}, newTestLogger())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	marked, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, abandonBatchSize+5, marked)
	assert.Len(t, abandoner.marked, abandonBatchSize+5)
	assert.Equal(t, now.Add(-2*time.Hour), rows.before)
	assert.Equal(t, 1, purger.calls)
}

func TestRunOnceStopsWhenABatchMakesNoProgress(t *testing.T) {
	stuck := uuid.New()
	rows := &fakeRows{rows: []models.SubmissionTelemetry{{SubmissionID: stuck}}}
	abandoner := &fakeAbandoner{rows: rows, failOn: stuck}

	s := NewCleanupScheduler(rows, abandoner, nil, config.SchedulerConfig{}, newTestLogger())
	marked, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, marked)
}

func TestRunOnceReturnsListError(t *testing.T) {
	rows := &fakeRows{err: errors.New("db down")}
	s := NewCleanupScheduler(rows, &fakeAbandoner{rows: rows}, nil, config.SchedulerConfig{}, newTestLogger())
	_, err := s.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestStartRespectsEnabledAndSchedule(t *testing.T) {
	rows := &fakeRows{}
	s := NewCleanupScheduler(rows, &fakeAbandoner{rows: rows}, nil, config.SchedulerConfig{Enabled: false}, newTestLogger())
	require.NoError(t, s.Start())
	assert.False(t, s.IsRunning())

	s = NewCleanupScheduler(rows, &fakeAbandoner{rows: rows}, nil, config.SchedulerConfig{Enabled: true, CleanupSchedule: "*/15 * * * *"}, newTestLogger())
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	s.Stop()
	assert.False(t, s.IsRunning())

	s = NewCleanupScheduler(rows, &fakeAbandoner{rows: rows}, nil, config.SchedulerConfig{Enabled: true, CleanupSchedule: "not a schedule"}, newTestLogger())
	assert.Error(t, s.Start())
}

func TestRunOnceAgainstDatabase(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "scheduler.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repository.AutoMigrate(db))

	ctx := context.Background()
	repo := repository.NewTelemetryRepository(db)
	partnerID := uuid.New()

	open := uuid.New()
	done := uuid.New()
	require.NoError(t, repo.Upsert(ctx, open, func(row *models.SubmissionTelemetry, isNew bool) error {
		row.PartnerID = partnerID
		row.VerificationStage = models.StageDetailsFilled
		return nil
	}))
	require.NoError(t, repo.Upsert(ctx, done, func(row *models.SubmissionTelemetry, isNew bool) error {
		row.PartnerID = partnerID
		row.IsComplete = true
		row.VerificationStage = models.StageCompleted
		return nil
	}))

	telemetry := services.NewTelemetryService(repo, nil, newTestLogger())
	s := NewCleanupScheduler(repo, telemetry, nil, config.SchedulerConfig{AbandonAfter: 24 * time.Hour}, newTestLogger())
	s.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	marked, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	row, err := repo.GetBySubmissionID(ctx, open)
	require.NoError(t, err)
	assert.Equal(t, models.StageAbandoned, row.VerificationStage)
	assert.Contains(t, string(row.StageHistory), models.StageAbandoned)

	row, err = repo.GetBySubmissionID(ctx, done)
	require.NoError(t, err)
	assert.Equal(t, models.StageCompleted, row.VerificationStage)

	// already abandoned rows are not listed again
	marked, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, marked)
}
