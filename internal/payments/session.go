package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirbramstech/campus-backend/pkg/redis"
)

// SessionContext captures who initiated a checkout so the webhook can map a
// callback back to its enrollment even if the DB write raced the callback.
type SessionContext struct {
	StudentID    int64     `json:"student_id"`
	CourseID     int64     `json:"course_id"`
	EnrollmentID int64     `json:"enrollment_id"`
	InitiatedAt  time.Time `json:"initiated_at"`
}

// SessionStore persists checkout sessions with a TTL.
type SessionStore struct {
	kv  redis.KV
	ttl time.Duration
}

// NewSessionStore builds a SessionStore.
func NewSessionStore(kv redis.KV, ttl time.Duration) (*SessionStore, error) {
	if kv == nil {
		return nil, fmt.Errorf("payment sessions: kv store is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionStore{kv: kv, ttl: ttl}, nil
}

// Save stores the session under the checkout request ID.
func (s *SessionStore) Save(ctx context.Context, checkoutID string, session SessionContext) error {
	if checkoutID == "" {
		return fmt.Errorf("payment sessions: checkout id is required")
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encoding session for %s: %w", checkoutID, err)
	}
	if err := s.kv.Set(ctx, redis.PaymentSessionKey(checkoutID), string(payload), s.ttl); err != nil {
		return fmt.Errorf("storing session for %s: %w", checkoutID, err)
	}
	return nil
}

// Load returns the session for a checkout; found is false when it is missing
// or already expired.
func (s *SessionStore) Load(ctx context.Context, checkoutID string) (SessionContext, bool, error) {
	var session SessionContext
	if checkoutID == "" {
		return session, false, fmt.Errorf("payment sessions: checkout id is required")
	}
	raw, err := s.kv.Get(ctx, redis.PaymentSessionKey(checkoutID))
	if err != nil {
		if redis.IsNil(err) {
			return session, false, nil
		}
		return session, false, fmt.Errorf("loading session for %s: %w", checkoutID, err)
	}
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return session, false, fmt.Errorf("decoding session for %s: %w", checkoutID, err)
	}
	return session, true, nil
}
