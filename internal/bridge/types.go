// Package bridge relays messages between a Z-API WhatsApp instance and a
// Chatwoot support inbox. It classifies raw webhook bodies, translates
// them across the two wire formats, and guards the relay against loops
// and duplicate deliveries.
package bridge

import (
	"context"
	"errors"

	"github.com/zapiwoot/zapiwoot/internal/chatwoot"
	"github.com/zapiwoot/zapiwoot/internal/zapi"
)

// ErrUnrecognizedPayload indicates the webhook body matched neither side's
// wire format. The HTTP layer maps it to a 400.
var ErrUnrecognizedPayload = errors.New("payload matches no known webhook format")

// Outcome says what the bridge did with a webhook.
type Outcome string

const (
	// Relayed means the message crossed to the other platform.
	Relayed Outcome = "relayed"
	// Ignored means the webhook was valid but intentionally dropped.
	Ignored Outcome = "ignored"
)

// Result reports the disposition of one webhook delivery.
type Result struct {
	Outcome Outcome
	// Reason is set when Outcome is Ignored.
	Reason string
}

func relayed() Result {
	return Result{Outcome: Relayed}
}

func ignored(reason string) Result {
	return Result{Outcome: Ignored, Reason: reason}
}

// Gateway is the WhatsApp side of the relay, satisfied by *zapi.Client.
type Gateway interface {
	SendText(ctx context.Context, phone, text string) error
	SendMedia(ctx context.Context, phone, mediaURL, caption string, kind zapi.MediaKind, filename string) error
}

// Inbox is the Chatwoot side of the relay, satisfied by *chatwoot.Client.
type Inbox interface {
	CreateMessage(ctx context.Context, conversationID int, req chatwoot.MessageRequest) error
}

// Resolver finds or creates the contact and conversation for a phone,
// satisfied by *chatwoot.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, phone string) (chatwoot.Resolution, error)
}

// Identity resolves raw identifiers to canonical phones and records
// phone/LID associations, satisfied by *identity.Service.
type Identity interface {
	ResolvePhone(ctx context.Context, value string) (string, error)
	RegisterMapping(ctx context.Context, phone, lid string) error
	RegisterContact(ctx context.Context, phone, lid, displayName, avatarURL string) error
}

// Deduper remembers relayed message ids, satisfied by *dedup.Engine.
type Deduper interface {
	Remember(ctx context.Context, messageID string, snapshot []byte) (bool, error)
	Forget(ctx context.Context, messageID string) error
}
