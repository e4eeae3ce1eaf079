package identity

import (
	"context"
	"sync"
	"time"
)

// Mapping associates a canonical phone with at most one opaque linked
// identifier, plus the last profile details observed for the contact.
type Mapping struct {
	Phone       string
	LID         string
	DisplayName string
	AvatarURL   string
	UpdatedAt   time.Time
}

// MappingStore persists phone/LID mappings. Implementations must be safe
// for concurrent use; webhook deliveries for the same contact can arrive
// in parallel.
type MappingStore interface {
	FindByPhone(ctx context.Context, phone string) (Mapping, error)
	FindByLID(ctx context.Context, lid string) (Mapping, error)
	Upsert(ctx context.Context, m Mapping) error
	ClearLID(ctx context.Context, lid string) error
}

// MemoryStore is a MappingStore held entirely in process memory. It backs
// deployments without Postgres and the test suite.
type MemoryStore struct {
	mu      sync.RWMutex
	byPhone map[string]Mapping
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byPhone: make(map[string]Mapping)}
}

func (s *MemoryStore) FindByPhone(_ context.Context, phone string) (Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byPhone[phone]
	if !ok {
		return Mapping{}, ErrMappingNotFound
	}
	return m, nil
}

func (s *MemoryStore) FindByLID(_ context.Context, lid string) (Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if lid != "" {
		for _, m := range s.byPhone {
			if m.LID == lid {
				return m, nil
			}
		}
	}
	return Mapping{}, ErrMappingNotFound
}

func (s *MemoryStore) Upsert(_ context.Context, m Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.byPhone[m.Phone]
	merged := merge(existing, m)
	merged.UpdatedAt = time.Now()
	s.byPhone[m.Phone] = merged
	return nil
}

func (s *MemoryStore) ClearLID(_ context.Context, lid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for phone, m := range s.byPhone {
		if m.LID == lid {
			m.LID = ""
			m.UpdatedAt = time.Now()
			s.byPhone[phone] = m
		}
	}
	return nil
}

// merge overlays the non-empty fields of update on top of existing.
func merge(existing, update Mapping) Mapping {
	out := existing
	out.Phone = update.Phone
	if update.LID != "" {
		out.LID = update.LID
	}
	if update.DisplayName != "" {
		out.DisplayName = update.DisplayName
	}
	if update.AvatarURL != "" {
		out.AvatarURL = update.AvatarURL
	}
	return out
}
