// Package correlation persists the terminal outcome of a push payment keyed
// by its checkout request ID. The webhook writes here, the status poller and
// reconciler read. Entries expire so abandoned checkouts do not accumulate.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirbramstech/campus-backend/pkg/redis"
)

// Outcome is the recorded end state of a checkout.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

var (
	errKVRequired         = errors.New("correlation: kv store is required")
	errCheckoutIDRequired = errors.New("correlation: checkout id is required")
)

// Store records checkout outcomes with a TTL.
type Store struct {
	kv  redis.KV
	ttl time.Duration
}

// NewStore builds a Store. ttl bounds how long an outcome stays queryable.
func NewStore(kv redis.KV, ttl time.Duration) (*Store, error) {
	if kv == nil {
		return nil, errKVRequired
	}
	if ttl <= 0 {
		ttl = 3 * time.Hour
	}
	return &Store{kv: kv, ttl: ttl}, nil
}

// MarkCompleted records a successful payment for the checkout.
func (s *Store) MarkCompleted(ctx context.Context, checkoutID string) error {
	return s.mark(ctx, checkoutID, OutcomeCompleted)
}

// MarkFailed records a failed or cancelled payment for the checkout.
func (s *Store) MarkFailed(ctx context.Context, checkoutID string) error {
	return s.mark(ctx, checkoutID, OutcomeFailed)
}

func (s *Store) mark(ctx context.Context, checkoutID string, outcome Outcome) error {
	if checkoutID == "" {
		return errCheckoutIDRequired
	}
	key := redis.CorrelationKey(checkoutID)
	if err := s.kv.Set(ctx, key, string(outcome), s.ttl); err != nil {
		return fmt.Errorf("recording outcome for %s: %w", checkoutID, err)
	}
	return nil
}

// Lookup returns the recorded outcome for a checkout. The second return is
// false when no outcome has been recorded or it has expired.
func (s *Store) Lookup(ctx context.Context, checkoutID string) (Outcome, bool, error) {
	if checkoutID == "" {
		return "", false, errCheckoutIDRequired
	}
	value, err := s.kv.Get(ctx, redis.CorrelationKey(checkoutID))
	if err != nil {
		if redis.IsNil(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("looking up outcome for %s: %w", checkoutID, err)
	}
	switch Outcome(value) {
	case OutcomeCompleted, OutcomeFailed:
		return Outcome(value), true, nil
	default:
		return "", false, fmt.Errorf("unexpected outcome %q for %s", value, checkoutID)
	}
}
