package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Service resolves identities to canonical phones and records phone/LID
// mappings as webhooks reveal them.
type Service struct {
	normalizer Normalizer
	store      MappingStore
	logger     *slog.Logger
}

// NewService creates a Service over the given store.
func NewService(log *slog.Logger, normalizer Normalizer, store MappingStore) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		normalizer: normalizer,
		store:      store,
		logger:     log.With(slog.String("component", "identity")),
	}
}

// Normalizer returns the phone normalizer used by this service.
func (s *Service) Normalizer() Normalizer {
	return s.normalizer
}

// ResolvePhone returns the canonical phone for a value that is either a
// phone number or an opaque linked identifier. A LID with no persisted
// mapping yields ErrMappingNotFound; the caller must drop the message
// rather than guess.
func (s *Service) ResolvePhone(ctx context.Context, value string) (string, error) {
	if !IsLID(value) {
		return s.normalizer.NormalizePhone(value)
	}
	m, err := s.store.FindByLID(ctx, value)
	if err != nil {
		if errors.Is(err, ErrMappingNotFound) {
			s.logger.Warn("cannot resolve opaque identifier", slog.String("lid", value))
		}
		return "", err
	}
	s.logger.Debug("resolved opaque identifier",
		slog.String("lid", value), slog.String("phone", m.Phone))
	return m.Phone, nil
}

// RegisterMapping associates a LID with a phone, last-write-wins per LID:
// if the LID was previously mapped to a different phone (the contact
// reinstalled the app, or the number changed hands) the old mapping is
// cleared first.
func (s *Service) RegisterMapping(ctx context.Context, phone, lid string) error {
	if phone == "" || lid == "" {
		return nil
	}
	canonical, err := s.normalizer.NormalizePhone(phone)
	if err != nil {
		return err
	}
	existing, err := s.store.FindByLID(ctx, lid)
	if err == nil && existing.Phone != canonical {
		if err := s.store.ClearLID(ctx, lid); err != nil {
			return err
		}
	} else if err != nil && !errors.Is(err, ErrMappingNotFound) {
		return err
	}
	if err := s.store.Upsert(ctx, Mapping{Phone: canonical, LID: lid}); err != nil {
		return fmt.Errorf("register mapping: %w", err)
	}
	s.logger.Info("registered lid mapping",
		slog.String("phone", canonical), slog.String("lid", lid))
	return nil
}

// RegisterContact records or refreshes the full contact snapshot observed
// in a webhook: phone, optional LID, and profile details.
func (s *Service) RegisterContact(ctx context.Context, phone, lid, displayName, avatarURL string) error {
	canonical, err := s.normalizer.NormalizePhone(phone)
	if err != nil {
		return err
	}
	if lid != "" {
		if err := s.RegisterMapping(ctx, canonical, lid); err != nil {
			return err
		}
	}
	return s.store.Upsert(ctx, Mapping{
		Phone:       canonical,
		DisplayName: displayName,
		AvatarURL:   avatarURL,
	})
}
