package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zapiwoot/zapiwoot/internal/chatwoot"
	"github.com/zapiwoot/zapiwoot/internal/dedup"
	"github.com/zapiwoot/zapiwoot/internal/identity"
	"github.com/zapiwoot/zapiwoot/internal/zapi"
)

// relayOutbound moves an agent reply from Chatwoot to WhatsApp.
func (b *Bridge) relayOutbound(ctx context.Context, event chatwoot.Event) (Result, error) {
	log := b.logger.With(slog.String("direction", "outbound"))

	if event.Event != chatwoot.EventMessageCreated {
		return ignored("event " + event.Event), nil
	}
	if event.Private {
		return ignored("private note"), nil
	}
	if event.MessageType != "outgoing" {
		return ignored("message type " + event.MessageType), nil
	}
	if dedup.IsTagged(event.Content) {
		// The bridge's own injection echoed back through the webhook.
		return ignored("loop marker"), nil
	}
	if !event.FromAgent() {
		return ignored("not an agent message"), nil
	}

	hint := event.PhoneHint()
	if hint == "" {
		return ignored("no contact phone"), nil
	}
	phone, err := b.identity.ResolvePhone(ctx, hint)
	switch {
	case err == nil:
	case errors.Is(err, identity.ErrInvalidPhone), errors.Is(err, identity.ErrMappingNotFound):
		log.Warn("unroutable contact dropped",
			slog.String("hint", hint), slog.Any("error", err))
		return ignored("unroutable contact"), nil
	default:
		return Result{}, fmt.Errorf("resolve contact %s: %w", hint, err)
	}

	content := strings.TrimSpace(event.Content)
	if len(event.Attachments) > 0 {
		return b.sendAttachments(ctx, log, phone, content, event.Attachments)
	}
	if content == "" {
		return ignored("no relayable content"), nil
	}

	if err := b.gateway.SendText(ctx, phone, dedup.Tag(content)); err != nil {
		return Result{}, fmt.Errorf("send text: %w", err)
	}
	log.Info("relayed to whatsapp", slog.String("phone", phone))
	return relayed(), nil
}

// sendAttachments relays each attachment in order, the reply text riding
// as the caption of the first. Consecutive sends are spaced out so the
// gateway delivers them in order.
func (b *Bridge) sendAttachments(ctx context.Context, log *slog.Logger, phone, content string, attachments []chatwoot.EventAttachment) (Result, error) {
	sent := 0
	for _, attachment := range attachments {
		if attachment.DataURL == "" {
			continue
		}
		if sent > 0 {
			if err := b.sleep(ctx, b.mediaDelay); err != nil {
				return Result{}, err
			}
		}
		caption := ""
		if sent == 0 && content != "" {
			caption = dedup.Tag(content)
		}
		kind := mediaKindFromFileType(attachment.FileType)
		if err := b.gateway.SendMedia(ctx, phone, attachment.DataURL, caption, kind, attachment.Name); err != nil {
			return Result{}, fmt.Errorf("send media: %w", err)
		}
		sent++
	}
	if sent == 0 {
		return ignored("no relayable content"), nil
	}
	log.Info("relayed to whatsapp",
		slog.String("phone", phone), slog.Int("attachments", sent))
	return relayed(), nil
}

// mediaKindFromFileType maps Chatwoot's attachment file_type onto the
// gateway's media kinds.
func mediaKindFromFileType(fileType string) zapi.MediaKind {
	switch strings.ToLower(strings.TrimSpace(fileType)) {
	case "image":
		return zapi.MediaImage
	case "video":
		return zapi.MediaVideo
	case "audio":
		return zapi.MediaAudio
	case "file", "document":
		return zapi.MediaDocument
	default:
		return zapi.MediaGeneric
	}
}
