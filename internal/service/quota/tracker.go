// Package quota enforces per-user, per-endpoint daily request quotas tied
// to subscription tiers.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/skillpath-ai/internal/domain"
)

// Store is the atomic counter backend. Increment must check and consume in
// one step: when the current count for key is below limit it increments and
// reports allowed with the new count; otherwise it leaves the counter
// untouched. limit < 0 means unlimited.
type Store interface {
	Increment(ctx context.Context, key string, limit int) (count int, allowed bool, err error)
	Get(ctx context.Context, key string) (int, error)
}

// Tracker answers "may this user hit this endpoint today" and consumes one
// quota slot when the answer is yes. Quota is consumed at request
// initiation and never refunded, so internal retries and abandoned
// requests cannot bypass the daily cap.
type Tracker struct {
	store Store
	loc   *time.Location
	now   func() time.Time
}

// NewTracker builds a Tracker over the given store. The location bounds
// the calendar day used for reset; nil means UTC.
func NewTracker(store Store, loc *time.Location) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{store: store, loc: loc, now: time.Now}
}

// SetClock replaces the tracker's time source. Intended for tests.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// DayKey returns the counter key for the given identity at the tracker's
// current day. Stale keys from previous days are simply never read again.
func (t *Tracker) DayKey(userID, endpoint string) string {
	day := t.now().In(t.loc).Format("2006-01-02")
	return fmt.Sprintf("usage:%s:%s:%s", userID, endpoint, day)
}

// CheckAndConsume atomically checks the daily counter against limit and
// consumes one slot. It returns the remaining count after consumption, or
// domain.ErrQuotaExceeded with remaining 0 when the limit is already
// reached. limit < 0 is unlimited and reports remaining -1.
func (t *Tracker) CheckAndConsume(ctx domain.Context, userID, endpoint string, limit int) (int, error) {
	key := t.DayKey(userID, endpoint)
	count, allowed, err := t.store.Increment(ctx, key, limit)
	if err != nil {
		return 0, fmt.Errorf("op=quota.consume: %w", err)
	}
	if !allowed {
		slog.Info("quota denied",
			slog.String("user_id", userID),
			slog.String("endpoint", endpoint),
			slog.Int("limit", limit))
		return 0, fmt.Errorf("%w: daily limit %d reached for %s", domain.ErrQuotaExceeded, limit, endpoint)
	}
	if limit < 0 {
		return domain.UnlimitedQuota, nil
	}
	return limit - count, nil
}

// Remaining reports how many requests the user has left today without
// consuming anything. Used by the usage endpoint for UI display.
func (t *Tracker) Remaining(ctx domain.Context, userID, endpoint string, limit int) (used, remaining int, err error) {
	count, err := t.store.Get(ctx, t.DayKey(userID, endpoint))
	if err != nil {
		return 0, 0, fmt.Errorf("op=quota.remaining: %w", err)
	}
	if limit < 0 {
		return count, domain.UnlimitedQuota, nil
	}
	rem := limit - count
	if rem < 0 {
		rem = 0
	}
	return count, rem, nil
}
