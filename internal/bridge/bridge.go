package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/zapiwoot/zapiwoot/internal/chatwoot"
	"github.com/zapiwoot/zapiwoot/internal/zapi"
)

// Bridge orchestrates the two relay directions behind a single webhook
// entry point.
type Bridge struct {
	gateway    Gateway
	inbox      Inbox
	resolver   Resolver
	identity   Identity
	deduper    Deduper
	mediaDelay time.Duration
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// Options tunes non-essential bridge behavior.
type Options struct {
	// MediaDelay is the pause between consecutive media sends toward
	// WhatsApp, keeping the gateway from reordering or throttling them.
	MediaDelay time.Duration
}

// New creates a Bridge.
func New(log *slog.Logger, gateway Gateway, inbox Inbox, resolver Resolver, identity Identity, deduper Deduper, opts Options) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		gateway:    gateway,
		inbox:      inbox,
		resolver:   resolver,
		identity:   identity,
		deduper:    deduper,
		mediaDelay: opts.MediaDelay,
		logger:     log.With(slog.String("component", "bridge")),
		sleep:      sleepContext,
	}
}

// Handle classifies a raw webhook body by structure and dispatches it to
// the matching relay direction. Classification never depends on which URL
// the webhook arrived at: both platforms may be pointed at one endpoint.
func (b *Bridge) Handle(ctx context.Context, raw []byte) (Result, error) {
	var probe struct {
		// Z-API marks its callbacks with a type and at least one chat
		// identifier.
		Type    string `json:"type"`
		Phone   string `json:"phone"`
		ChatID  string `json:"chatId"`
		ChatLID string `json:"chatLid"`

		// Chatwoot events carry an event name, a message type, and the
		// conversation context.
		Event        string          `json:"event"`
		MessageType  string          `json:"message_type"`
		Conversation json.RawMessage `json:"conversation"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnrecognizedPayload, err)
	}

	switch {
	case probe.Type != "" && (probe.Phone != "" || probe.ChatID != "" || probe.ChatLID != ""):
		var payload zapi.Payload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrUnrecognizedPayload, err)
		}
		return b.relayInbound(ctx, payload, raw)
	case probe.Event != "" && probe.MessageType != "" && len(probe.Conversation) > 0:
		var event chatwoot.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrUnrecognizedPayload, err)
		}
		return b.relayOutbound(ctx, event)
	default:
		return Result{}, ErrUnrecognizedPayload
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
