// Package dedup guards the bridge against relay loops and duplicate
// webhook deliveries. Two independent mechanisms are used: an invisible
// marker appended to every text the bridge injects into WhatsApp, and a
// TTL-bounded cache of WhatsApp message ids that have already been
// relayed. Either match is sufficient to drop a message.
package dedup

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Marker is the zero-width sequence appended to text relayed into
// WhatsApp. It is invisible in every client but survives the round trip
// through both platforms, so an echoed copy can be recognized.
const Marker = "​⁠​"

// DefaultTTL is how long a relayed message id is remembered.
const DefaultTTL = 24 * time.Hour

// Tag appends the loop marker to text. Tagging is idempotent.
func Tag(text string) string {
	if IsTagged(text) {
		return text
	}
	return text + Marker
}

// IsTagged reports whether the text ends with the loop marker.
func IsTagged(text string) bool {
	return strings.HasSuffix(text, Marker)
}

// Strip removes the loop marker from the end of text, if present.
func Strip(text string) string {
	return strings.TrimSuffix(text, Marker)
}

// Record is one remembered message id.
type Record struct {
	Key         string
	FirstSeenAt time.Time
	Snapshot    []byte
}

// Store persists dedup records. Remember must be atomic: when two webhook
// deliveries race on the same key, exactly one sees first == true.
type Store interface {
	// Remember inserts the key if absent and reports whether this call was
	// the first to see it.
	Remember(ctx context.Context, key string, firstSeen time.Time, snapshot []byte) (first bool, err error)
	// Forget removes the key so a later Remember sees it as first again.
	Forget(ctx context.Context, key string) error
	// Sweep drops records first seen before the cutoff and returns how
	// many were removed.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// Engine applies the TTL policy over a Store.
type Engine struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates an Engine. A non-positive ttl falls back to DefaultTTL.
func NewEngine(log *slog.Logger, store Store, ttl time.Duration) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Engine{
		store:  store,
		ttl:    ttl,
		logger: log.With(slog.String("component", "dedup")),
		now:    time.Now,
	}
}

// Remember records the message id and reports whether it is new within
// the TTL window. Expired records are swept opportunistically before each
// insert so the store never needs an external janitor to stay correct.
func (e *Engine) Remember(ctx context.Context, messageID string, snapshot []byte) (bool, error) {
	now := e.now()
	if _, err := e.store.Sweep(ctx, now.Add(-e.ttl)); err != nil {
		// A failed sweep only delays eviction; the insert still decides.
		e.logger.Warn("dedup sweep failed", slog.Any("error", err))
	}
	first, err := e.store.Remember(ctx, messageID, now, snapshot)
	if err != nil {
		return false, err
	}
	if !first {
		e.logger.Info("duplicate message id dropped", slog.String("message_id", messageID))
	}
	return first, nil
}

// Forget releases a remembered message id so a redelivery of the same
// webhook is treated as first again. Callers use it when a relay attempt
// fails before anything reached the other platform.
func (e *Engine) Forget(ctx context.Context, messageID string) error {
	if err := e.store.Forget(ctx, messageID); err != nil {
		return err
	}
	e.logger.Info("released message id for redelivery", slog.String("message_id", messageID))
	return nil
}

// Sweep removes expired records immediately. The serve command schedules
// this periodically in addition to the opportunistic sweep on insert.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	return e.store.Sweep(ctx, e.now().Add(-e.ttl))
}

// MemoryStore is an in-process Store guarded by a single mutex, giving
// Remember its atomic check-then-insert semantics.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Remember(_ context.Context, key string, firstSeen time.Time, snapshot []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; ok {
		return false, nil
	}
	s.records[key] = Record{Key: key, FirstSeenAt: firstSeen, Snapshot: snapshot}
	return true, nil
}

func (s *MemoryStore) Forget(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, rec := range s.records {
		if rec.FirstSeenAt.Before(cutoff) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of live records. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
