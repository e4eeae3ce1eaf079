package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zapiwoot/zapiwoot/internal/chatwoot"
	"github.com/zapiwoot/zapiwoot/internal/dedup"
	"github.com/zapiwoot/zapiwoot/internal/identity"
	"github.com/zapiwoot/zapiwoot/internal/zapi"
)

// relayInbound moves a WhatsApp message into the Chatwoot inbox.
func (b *Bridge) relayInbound(ctx context.Context, payload zapi.Payload, raw []byte) (Result, error) {
	log := b.logger.With(slog.String("direction", "inbound"), slog.String("message_id", payload.MessageID))

	if payload.IsGroup {
		return ignored("group chat"), nil
	}
	if payload.Type != zapi.CallbackReceived {
		return ignored("callback type " + payload.Type), nil
	}
	if payload.FromMe && payload.FromAPI {
		// Z-API echoes messages the bridge itself injected.
		return ignored("api echo"), nil
	}
	if dedup.IsTagged(payload.Body()) {
		// Echo of a bridge send that arrived without the fromApi flag.
		return ignored("loop marker"), nil
	}

	phone, result, err := b.senderPhone(ctx, payload, log)
	if err != nil || result.Outcome == Ignored {
		return result, err
	}

	b.recordContact(ctx, payload, phone, log)

	remembered := false
	if payload.MessageID != "" {
		first, err := b.deduper.Remember(ctx, payload.MessageID, raw)
		if err != nil {
			return Result{}, fmt.Errorf("dedup check: %w", err)
		}
		if !first {
			return ignored("duplicate message id"), nil
		}
		remembered = true
	}

	req, ok := translateInbound(payload)
	if !ok {
		return ignored("no relayable content"), nil
	}

	resolution, err := b.resolver.Resolve(ctx, phone)
	if err != nil {
		b.release(ctx, payload.MessageID, remembered, log)
		return Result{}, fmt.Errorf("resolve %s: %w", phone, err)
	}
	if err := b.inbox.CreateMessage(ctx, resolution.ConversationID, req); err != nil {
		b.release(ctx, payload.MessageID, remembered, log)
		return Result{}, fmt.Errorf("create message: %w", err)
	}

	log.Info("relayed to inbox",
		slog.String("phone", phone),
		slog.Int("conversation_id", resolution.ConversationID),
		slog.Int("attachments", len(req.Attachments)))
	return relayed(), nil
}

// release frees the dedup key after a failed relay so the 500 response
// lets the platform's redelivery go through instead of being dropped as
// a duplicate. The at-most-once window only has to hold once a message
// reached Chatwoot; a failed create that actually landed remotely is the
// one case a redelivery can double, and doubling beats losing the
// message for a support inbox. A failed release is logged only: the key
// then expires with the TTL.
func (b *Bridge) release(ctx context.Context, messageID string, remembered bool, log *slog.Logger) {
	if !remembered {
		return
	}
	if err := b.deduper.Forget(ctx, messageID); err != nil {
		log.Warn("dedup release failed, redelivery will be dropped until the window expires",
			slog.Any("error", err))
	}
}

// senderPhone resolves the payload's identifiers to one canonical phone.
// Unroutable identities are dropped, not errored: a LID with no persisted
// mapping or a malformed number is not worth failing the webhook over.
func (b *Bridge) senderPhone(ctx context.Context, payload zapi.Payload, log *slog.Logger) (string, Result, error) {
	candidate := payload.PhoneCandidate()
	if candidate == "" {
		candidate = payload.LIDCandidate()
	}
	if candidate == "" {
		return "", ignored("no sender identity"), nil
	}

	phone, err := b.identity.ResolvePhone(ctx, candidate)
	switch {
	case err == nil:
		return phone, Result{}, nil
	case errors.Is(err, identity.ErrInvalidPhone), errors.Is(err, identity.ErrMappingNotFound):
		log.Warn("unroutable sender dropped",
			slog.String("candidate", candidate), slog.Any("error", err))
		return "", ignored("unroutable sender"), nil
	default:
		return "", Result{}, fmt.Errorf("resolve sender %s: %w", candidate, err)
	}
}

// recordContact persists the identity snapshot the payload reveals.
// Failures are logged only: a broken mapping store must not stop the
// relay of a message whose phone is already known.
func (b *Bridge) recordContact(ctx context.Context, payload zapi.Payload, phone string, log *slog.Logger) {
	lid := payload.LIDCandidate()
	if err := b.identity.RegisterContact(ctx, phone, lid, payload.SenderName, payload.SenderPhoto); err != nil {
		log.Warn("contact registration failed",
			slog.String("phone", phone), slog.Any("error", err))
	}
}

// translateInbound builds the Chatwoot message for a WhatsApp payload.
// ok is false when the payload carries nothing relayable.
func translateInbound(payload zapi.Payload) (chatwoot.MessageRequest, bool) {
	content := dedup.Strip(payload.Body())

	var attachments []chatwoot.MessageAttachment
	for _, block := range payload.MediaBlocks() {
		if block.URL == "" {
			continue
		}
		attachments = append(attachments, chatwoot.MessageAttachment{
			ExternalURL: block.URL,
			FileType:    string(block.EffectiveKind()),
			FileName:    block.Media.FileName,
		})
		if content == "" {
			content = block.Media.Caption
		}
	}
	if content == "" && len(attachments) > 0 {
		// Chatwoot rejects empty content even on attachment messages.
		content = "[" + attachments[0].FileType + "]"
	}
	if content == "" {
		return chatwoot.MessageRequest{}, false
	}

	messageType := "incoming"
	if payload.FromMe {
		// Typed by the account owner on the phone itself; show it on the
		// agent side of the conversation.
		messageType = "outgoing"
	}
	return chatwoot.MessageRequest{
		Content:     content,
		MessageType: messageType,
		Attachments: attachments,
	}, true
}
