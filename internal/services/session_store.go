package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quote-funnel-service/internal/models"
	"quote-funnel-service/internal/redis"
)

const sessionKeyPrefix = "funnel:session:"

// SessionStore keeps funnel sessions in Redis (or the in-memory fallback)
// with a sliding TTL
type SessionStore struct {
	store redis.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewSessionStore creates a session store
func NewSessionStore(store redis.Store, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &SessionStore{store: store, ttl: ttl, now: time.Now}
}

// Get loads a partner's session. Sessions of other partners are reported
// as not found.
func (s *SessionStore) Get(ctx context.Context, partnerID uuid.UUID, id string) (*models.FunnelSession, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}

	var session models.FunnelSession
	found, err := redis.GetJSON(ctx, s.store, sessionKeyPrefix+id, &session)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !found || session.PartnerID != partnerID {
		return nil, ErrSessionNotFound
	}
	if session.Answers == nil {
		session.Answers = make(map[string]json.RawMessage)
	}
	return &session, nil
}

// Save stores the session and refreshes its TTL
func (s *SessionStore) Save(ctx context.Context, session *models.FunnelSession) error {
	session.UpdatedAt = s.now().UTC()
	if err := redis.SetJSON(ctx, s.store, sessionKeyPrefix+session.ID, session, s.ttl); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}
