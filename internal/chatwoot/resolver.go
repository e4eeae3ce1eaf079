package chatwoot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zapiwoot/zapiwoot/internal/identity"
	"github.com/zapiwoot/zapiwoot/internal/zapi"
)

// API is the slice of the Chatwoot client the resolver needs.
type API interface {
	SearchContacts(ctx context.Context, query string) ([]Contact, error)
	CreateContact(ctx context.Context, req ContactRequest) (Contact, error)
	UpdateContact(ctx context.Context, contactID int, req ContactRequest) error
	ListContactConversations(ctx context.Context, contactID int) ([]Conversation, error)
	CreateConversation(ctx context.Context, req ConversationRequest) (Conversation, error)
}

// ProfileSource looks up the WhatsApp profile of a phone, used to name
// contacts at creation time and refresh them afterwards.
type ProfileSource interface {
	GetProfile(ctx context.Context, phone string) (zapi.Profile, error)
}

// Resolution is a usable contact/conversation pair for one phone.
type Resolution struct {
	ContactID      int
	ConversationID int
}

// Resolver finds or creates the Chatwoot contact and conversation for a
// canonical phone. Creation races with concurrent webhook deliveries are
// resolved by re-searching after a conflict; the remote uniqueness
// constraints are the actual serialization point.
type Resolver struct {
	api        API
	profiles   ProfileSource
	normalizer identity.Normalizer
	inboxID    int
	retry      RetryPolicy
	logger     *slog.Logger
}

func NewResolver(log *slog.Logger, api API, profiles ProfileSource, normalizer identity.Normalizer, inboxID int, retry RetryPolicy) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		api:        api,
		profiles:   profiles,
		normalizer: normalizer,
		inboxID:    inboxID,
		retry:      retry,
		logger:     log.With(slog.String("component", "resolver")),
	}
}

// Resolve returns the contact and conversation ids for the phone,
// creating either resource when absent. It is idempotent: repeated calls
// with no intervening state change return the same pair.
func (r *Resolver) Resolve(ctx context.Context, phone string) (Resolution, error) {
	contactID, err := r.resolveContact(ctx, phone)
	if err != nil {
		return Resolution{}, err
	}
	conversationID, err := r.resolveConversation(ctx, contactID, phone)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{ContactID: contactID, ConversationID: conversationID}, nil
}

func (r *Resolver) resolveContact(ctx context.Context, phone string) (int, error) {
	if contact, ok, err := r.findContact(ctx, phone); err != nil {
		return 0, err
	} else if ok {
		r.refreshProfile(ctx, contact, phone)
		return contact.ID, nil
	}

	profile := r.lookupProfile(ctx, phone)
	name := profile.Name
	if name == "" {
		name = "WhatsApp: " + phone
	}
	contact, err := r.api.CreateContact(ctx, ContactRequest{
		InboxID:     r.inboxID,
		Name:        name,
		PhoneNumber: identity.Dialable(phone),
		Identifier:  phone,
		AvatarURL:   profile.AvatarURL,
	})
	if err == nil {
		r.logger.Info("created contact", slog.String("phone", phone), slog.Int("contact_id", contact.ID))
		return contact.ID, nil
	}
	if !errors.Is(err, ErrConflict) {
		return 0, err
	}

	// Someone else created the contact first, or the search index lagged
	// behind a previous creation. Wait and search again, bounded.
	for attempt := 1; attempt <= r.retry.MaxAttempts; attempt++ {
		if waitErr := r.retry.Wait(ctx); waitErr != nil {
			return 0, waitErr
		}
		contact, ok, findErr := r.findContact(ctx, phone)
		if findErr != nil {
			return 0, findErr
		}
		if ok {
			r.logger.Info("found contact after conflict",
				slog.String("phone", phone),
				slog.Int("contact_id", contact.ID),
				slog.Int("attempt", attempt))
			return contact.ID, nil
		}
	}
	return 0, fmt.Errorf("contact for %s: %w: %w", phone, err, ErrContactUnavailable)
}

// findContact searches the directory and accepts only exact matches:
// the stored phone re-normalized, or the declared identifier, must equal
// the canonical phone. Text-search hits are never trusted blindly.
func (r *Resolver) findContact(ctx context.Context, phone string) (Contact, bool, error) {
	results, err := r.api.SearchContacts(ctx, phone)
	if err != nil {
		return Contact{}, false, err
	}
	for _, contact := range results {
		if contact.Identifier == phone {
			return contact, true, nil
		}
		if normalized, err := r.normalizer.NormalizePhone(contact.PhoneNumber); err == nil && normalized == phone {
			return contact, true, nil
		}
	}
	return Contact{}, false, nil
}

// refreshProfile pushes current WhatsApp profile data onto an existing
// contact. Best effort: failures are logged, never propagated.
func (r *Resolver) refreshProfile(ctx context.Context, contact Contact, phone string) {
	profile := r.lookupProfile(ctx, phone)
	if profile.Name == "" && profile.AvatarURL == "" {
		return
	}
	req := ContactRequest{Name: profile.Name, AvatarURL: profile.AvatarURL}
	if err := r.api.UpdateContact(ctx, contact.ID, req); err != nil {
		r.logger.Warn("contact profile refresh failed",
			slog.Int("contact_id", contact.ID), slog.Any("error", err))
	}
}

func (r *Resolver) lookupProfile(ctx context.Context, phone string) zapi.Profile {
	if r.profiles == nil {
		return zapi.Profile{}
	}
	profile, err := r.profiles.GetProfile(ctx, phone)
	if err != nil {
		r.logger.Warn("whatsapp profile lookup failed",
			slog.String("phone", phone), slog.Any("error", err))
		return zapi.Profile{}
	}
	return profile
}

func (r *Resolver) resolveConversation(ctx context.Context, contactID int, phone string) (int, error) {
	conversations, err := r.api.ListContactConversations(ctx, contactID)
	if err != nil {
		return 0, err
	}
	// Open status always wins; among several open ones the first in
	// remote listing order is used. The remote gives no ordering
	// guarantee, so the pick is stable only per listing.
	for _, conv := range conversations {
		if conv.Status == "open" {
			return conv.ID, nil
		}
	}
	for _, conv := range conversations {
		if conv.InboxID == r.inboxID {
			return conv.ID, nil
		}
	}

	created, err := r.api.CreateConversation(ctx, ConversationRequest{
		SourceID:  phone,
		InboxID:   r.inboxID,
		ContactID: contactID,
		Status:    "open",
		AdditionalAttributes: map[string]any{
			"whatsapp_phone": phone,
		},
	})
	if err != nil {
		return 0, err
	}
	r.logger.Info("created conversation",
		slog.Int("contact_id", contactID), slog.Int("conversation_id", created.ID))
	return created.ID, nil
}
