package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vrushitpatel/repoauditor/store"
)

// DefaultHistoryTTL is how long a recorded artifact stays "seen".
// Matches the production review-history retention of two days.
const DefaultHistoryTTL = 48 * time.Hour

// History records artifact identifiers already reviewed on a change
// request, so incremental re-reviews skip findings the team has already
// seen. Records expire after the TTL; an expired record reads as unseen.
type History struct {
	kv  store.KV
	ttl time.Duration
	now func() time.Time
}

// NewHistory builds a history over kv. A non-positive ttl falls back to
// DefaultHistoryTTL.
func NewHistory(kv store.KV, ttl time.Duration) *History {
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	return &History{kv: kv, ttl: ttl, now: time.Now}
}

func historyKey(repo string, requestID int) string {
	return fmt.Sprintf("history/%s#%d", repo, requestID)
}

// Seen reports whether artifactID was recorded for this change request
// within the TTL.
func (h *History) Seen(ctx context.Context, repo string, requestID int, artifactID string) (bool, error) {
	records, _, err := h.load(ctx, historyKey(repo, requestID))
	if err != nil {
		return false, err
	}
	recordedAt, ok := records[artifactID]
	if !ok {
		return false, nil
	}
	return h.now().UTC().Sub(recordedAt) < h.ttl, nil
}

// Record marks artifactIDs as seen for this change request.
func (h *History) Record(ctx context.Context, repo string, requestID int, artifactIDs ...string) error {
	if len(artifactIDs) == 0 {
		return nil
	}
	key := historyKey(repo, requestID)
	now := h.now().UTC()

	for attempt := 0; attempt < casRetries; attempt++ {
		records, version, err := h.load(ctx, key)
		if err != nil {
			return err
		}
		for _, id := range artifactIDs {
			records[id] = now
		}

		value, err := json.Marshal(records)
		if err != nil {
			return fmt.Errorf("history encode %s: %w", key, err)
		}

		_, err = h.kv.CompareAndSet(ctx, key, version, value)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return fmt.Errorf("history record %s: %w", key, err)
		}
	}
	return fmt.Errorf("history record %s: gave up after %d conflicts", key, casRetries)
}

// Prune drops store entries older than the TTL across all change
// requests. Run periodically by the embedding process.
func (h *History) Prune(ctx context.Context) (int, error) {
	return h.kv.Prune(ctx, h.now().UTC().Add(-h.ttl))
}

func (h *History) load(ctx context.Context, key string) (map[string]time.Time, int64, error) {
	entry, err := h.kv.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return make(map[string]time.Time), 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("history load %s: %w", key, err)
	}

	var records map[string]time.Time
	if err := json.Unmarshal(entry.Value, &records); err != nil {
		return nil, 0, fmt.Errorf("history decode %s: %w", key, err)
	}
	if records == nil {
		records = make(map[string]time.Time)
	}
	return records, entry.Version, nil
}
