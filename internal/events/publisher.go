package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Event subjects
const (
	SubjectLeadCreated   = "funnel.lead.created"
	SubjectLeadVerified  = "funnel.lead.verified"
	SubjectLeadCompleted = "funnel.lead.completed"
)

// LeadEvent is the payload of every funnel lead event
type LeadEvent struct {
	EventType         string    `json:"event_type"`
	PartnerID         string    `json:"partner_id"`
	SubmissionID      string    `json:"submission_id"`
	ServiceCategoryID string    `json:"service_category_id,omitempty"`
	SessionID         string    `json:"session_id,omitempty"`
	VerificationStage string    `json:"verification_stage,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// JetStreamPublisher is the part of JetStream the publisher needs
type JetStreamPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher publishes funnel events. A nil Publisher or one without a
// JetStream context drops events silently.
type Publisher struct {
	js     JetStreamPublisher
	logger *logrus.Entry
}

// NewPublisher creates a publisher over js
func NewPublisher(js JetStreamPublisher, logger *logrus.Logger) *Publisher {
	return &Publisher{
		js:     js,
		logger: logger.WithField("component", "events"),
	}
}

// Enabled reports whether events go anywhere
func (p *Publisher) Enabled() bool {
	return p != nil && p.js != nil
}

// PublishLeadCreated publishes funnel.lead.created
func (p *Publisher) PublishLeadCreated(ctx context.Context, event *LeadEvent) error {
	return p.publish(ctx, SubjectLeadCreated, event)
}

// PublishLeadVerified publishes funnel.lead.verified
func (p *Publisher) PublishLeadVerified(ctx context.Context, event *LeadEvent) error {
	return p.publish(ctx, SubjectLeadVerified, event)
}

// PublishLeadCompleted publishes funnel.lead.completed
func (p *Publisher) PublishLeadCompleted(ctx context.Context, event *LeadEvent) error {
	return p.publish(ctx, SubjectLeadCompleted, event)
}

func (p *Publisher) publish(ctx context.Context, subject string, event *LeadEvent) error {
	if !p.Enabled() {
		return nil
	}

	event.EventType = subject
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Submission id as message id lets JetStream drop duplicates
	ack, err := p.js.Publish(subject, data, nats.Context(ctx), nats.MsgId(subject+":"+event.SubmissionID))
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"subject":       subject,
			"submission_id": event.SubmissionID,
		}).WithError(err).Error("Failed to publish event")
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"subject":  subject,
		"sequence": ack.Sequence,
		"stream":   ack.Stream,
	}).Debug("Published event")
	return nil
}
