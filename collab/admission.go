package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vrushitpatel/repoauditor/store"
)

// Subject identifies who and what is asking for a new workflow
// execution. Admission is checked across three dimensions: the actor,
// the change request, and the repository.
type Subject struct {
	Actor      string
	Repository string
	RequestID  int
}

// Decision is the admission verdict. A denial carries a human-readable
// reason and prevents any State from being constructed.
type Decision struct {
	Allowed bool
	Reason  string
}

// Admission gates new workflow executions. Consulted exactly once per
// trigger, before the runner starts.
type Admission interface {
	CheckAndRecord(ctx context.Context, subject Subject) (Decision, error)
}

// Limits configures the three admission windows.
type Limits struct {
	// ActorPerHour caps executions per actor in a rolling hour.
	ActorPerHour int

	// PerRequestTotal caps executions per change request, total.
	PerRequestTotal int

	// RepoPerDay caps executions per repository in a rolling day.
	RepoPerDay int
}

// DefaultLimits mirrors the production defaults: 5 per actor-hour,
// 10 per change request, 50 per repository-day.
func DefaultLimits() Limits {
	return Limits{
		ActorPerHour:    5,
		PerRequestTotal: 10,
		RepoPerDay:      50,
	}
}

const casRetries = 5

// WindowLimiter implements Admission over a versioned KV. Each
// dimension keeps a list of execution timestamps under its own key;
// counts are evaluated against a rolling window and recorded with
// compare-and-set so concurrent triggers never double-admit past a
// limit.
type WindowLimiter struct {
	kv     store.KV
	limits Limits
	now    func() time.Time
}

// NewWindowLimiter builds a limiter over kv. Zero-valued limits fall
// back to DefaultLimits.
func NewWindowLimiter(kv store.KV, limits Limits) *WindowLimiter {
	defaults := DefaultLimits()
	if limits.ActorPerHour <= 0 {
		limits.ActorPerHour = defaults.ActorPerHour
	}
	if limits.PerRequestTotal <= 0 {
		limits.PerRequestTotal = defaults.PerRequestTotal
	}
	if limits.RepoPerDay <= 0 {
		limits.RepoPerDay = defaults.RepoPerDay
	}
	return &WindowLimiter{kv: kv, limits: limits, now: time.Now}
}

// CheckAndRecord evaluates all three dimensions and, only if every one
// is within its limit, records the execution in each. A Decision with
// Allowed=false is not an error; the error return is reserved for store
// failures.
func (w *WindowLimiter) CheckAndRecord(ctx context.Context, subject Subject) (Decision, error) {
	dims := []struct {
		key    string
		limit  int
		window time.Duration
		reason string
	}{
		{
			key:    "admission/actor/" + subject.Actor,
			limit:  w.limits.ActorPerHour,
			window: time.Hour,
			reason: fmt.Sprintf("actor limit exceeded: %d per hour", w.limits.ActorPerHour),
		},
		{
			key:    fmt.Sprintf("admission/request/%s#%d", subject.Repository, subject.RequestID),
			limit:  w.limits.PerRequestTotal,
			window: 0,
			reason: fmt.Sprintf("change request limit exceeded: %d total", w.limits.PerRequestTotal),
		},
		{
			key:    "admission/repo/" + subject.Repository,
			limit:  w.limits.RepoPerDay,
			window: 24 * time.Hour,
			reason: fmt.Sprintf("repository limit exceeded: %d per day", w.limits.RepoPerDay),
		},
	}

	now := w.now().UTC()

	// Check every dimension before recording any, so a denial in one
	// never burns budget in another.
	for _, dim := range dims {
		count, _, _, err := w.load(ctx, dim.key, now, dim.window)
		if err != nil {
			return Decision{}, err
		}
		if count >= dim.limit {
			return Decision{Allowed: false, Reason: dim.reason}, nil
		}
	}

	// Recording re-checks the limit inside the compare-and-set loop, so
	// two triggers that both passed the check above cannot both land past
	// a limit. The loser may have already recorded in an earlier
	// dimension; that burns a slot but never over-admits.
	for _, dim := range dims {
		admitted, err := w.record(ctx, dim.key, now, dim.window, dim.limit)
		if err != nil {
			return Decision{}, err
		}
		if !admitted {
			return Decision{Allowed: false, Reason: dim.reason}, nil
		}
	}
	return Decision{Allowed: true}, nil
}

// load returns the in-window count plus the raw timestamps and version
// for a follow-up compare-and-set. A window of zero counts everything.
func (w *WindowLimiter) load(ctx context.Context, key string, now time.Time, window time.Duration) (int, []time.Time, int64, error) {
	entry, err := w.kv.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil, 0, nil
	}
	if err != nil {
		return 0, nil, 0, fmt.Errorf("admission load %s: %w", key, err)
	}

	var stamps []time.Time
	if err := json.Unmarshal(entry.Value, &stamps); err != nil {
		return 0, nil, 0, fmt.Errorf("admission decode %s: %w", key, err)
	}

	if window > 0 {
		cutoff := now.Add(-window)
		kept := stamps[:0]
		for _, ts := range stamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		stamps = kept
	}
	return len(stamps), stamps, entry.Version, nil
}

// record appends a timestamp under key, re-evaluating the in-window
// count on every compare-and-set attempt. Returns false when appending
// would exceed limit, which happens when a concurrent trigger recorded
// between the caller's check and this write.
func (w *WindowLimiter) record(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		count, stamps, version, err := w.load(ctx, key, now, window)
		if err != nil {
			return false, err
		}
		if count >= limit {
			return false, nil
		}

		value, err := json.Marshal(append(stamps, now))
		if err != nil {
			return false, fmt.Errorf("admission encode %s: %w", key, err)
		}

		_, err = w.kv.CompareAndSet(ctx, key, version, value)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return false, fmt.Errorf("admission record %s: %w", key, err)
		}
	}
	return false, fmt.Errorf("admission record %s: gave up after %d conflicts", key, casRetries)
}
