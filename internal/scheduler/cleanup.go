package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"quote-funnel-service/internal/config"
	"quote-funnel-service/internal/metrics"
	"quote-funnel-service/internal/models"
)

const abandonBatchSize = 500

// StaleLister finds telemetry rows that stopped moving
type StaleLister interface {
	ListStale(ctx context.Context, before time.Time, limit int) ([]models.SubmissionTelemetry, error)
}

// Abandoner flags one submission as abandoned
type Abandoner interface {
	MarkAbandoned(ctx context.Context, submissionID uuid.UUID) error
}

// Purger drops expired in-memory keys such as local OTP codes
type Purger interface {
	Purge() int
}

// CleanupScheduler marks stale funnels abandoned and purges expired codes
type CleanupScheduler struct {
	rows      StaleLister
	abandoner Abandoner
	purger    Purger
	config    config.SchedulerConfig
	logger    *logrus.Entry
	now       func() time.Time
	cron      *cron.Cron
	mu        sync.Mutex
	running   bool
}

// NewCleanupScheduler creates a new cleanup scheduler. purger may be nil
// when codes live in Redis, which expires them itself.
func NewCleanupScheduler(rows StaleLister, abandoner Abandoner, purger Purger, cfg config.SchedulerConfig, logger *logrus.Logger) *CleanupScheduler {
	return &CleanupScheduler{
		rows:      rows,
		abandoner: abandoner,
		purger:    purger,
		config:    cfg,
		logger:    logger.WithField("component", "scheduler"),
		now:       time.Now,
	}
}

// Start starts the cleanup scheduler
func (s *CleanupScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if !s.config.Enabled {
		s.logger.Info("Funnel cleanup is disabled")
		return nil
	}

	s.cron = cron.New(cron.WithSeconds())

	schedule := s.config.CleanupSchedule
	if schedule == "" {
		schedule = "0 */15 * * * *"
	}
	// robfig/cron with WithSeconds expects 6 fields
	if len(strings.Fields(schedule)) == 5 {
		schedule = "0 " + schedule
	}

	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		s.logger.WithError(err).Error("Failed to schedule cleanup job")
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.WithFields(logrus.Fields{
		"schedule":      schedule,
		"abandon_after": s.config.AbandonAfter.String(),
	}).Info("Funnel cleanup scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a running job
func (s *CleanupScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.cron == nil {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Info("Funnel cleanup scheduler stopped")
}

// IsRunning returns whether the scheduler is running
func (s *CleanupScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *CleanupScheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.WithError(err).Error("Funnel cleanup failed")
	}
}

// RunOnce marks every stale funnel abandoned and purges expired codes. It
// returns the number of rows marked.
func (s *CleanupScheduler) RunOnce(ctx context.Context) (int, error) {
	start := s.now()
	abandonAfter := s.config.AbandonAfter
	if abandonAfter <= 0 {
		abandonAfter = 24 * time.Hour
	}
	cutoff := start.Add(-abandonAfter)

	marked, failed := 0, 0
	for {
		rows, err := s.rows.ListStale(ctx, cutoff, abandonBatchSize)
		if err != nil {
			return marked, err
		}

		progress := 0
		for _, row := range rows {
			if err := s.abandoner.MarkAbandoned(ctx, row.SubmissionID); err != nil {
				failed++
				s.logger.WithError(err).WithField("submission_id", row.SubmissionID).Warn("Failed to mark funnel abandoned")
				continue
			}
			progress++
		}
		marked += progress
		metrics.AbandonedSessions.Add(float64(progress))

		// a batch with no progress would be listed again forever
		if len(rows) < abandonBatchSize || progress == 0 {
			break
		}
	}

	purged := 0
	if s.purger != nil {
		purged = s.purger.Purge()
	}

	s.logger.WithFields(logrus.Fields{
		"abandoned":    marked,
		"failed":       failed,
		"codes_purged": purged,
		"duration":     time.Since(start).String(),
	}).Info("Completed funnel cleanup")
	return marked, nil
}
