// Package chatwoot talks to the Chatwoot support-inbox API and resolves
// the remote contact and conversation that correspond to a WhatsApp
// identity.
package chatwoot

import (
	"errors"
	"strings"
)

var (
	// ErrConflict indicates a create collided with an existing remote
	// record (phone or identifier already taken), usually a race with a
	// concurrent webhook or a stale search index.
	ErrConflict = errors.New("remote resource already exists")
	// ErrContactUnavailable indicates the contact could neither be found
	// nor created; the message must not be relayed.
	ErrContactUnavailable = errors.New("contact could not be resolved")
)

// Contact is a Chatwoot contact as returned by search and create.
type Contact struct {
	ID          int    `json:"id"`
	Name        string `json:"name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Identifier  string `json:"identifier,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Conversation is a Chatwoot conversation in listing responses.
type Conversation struct {
	ID      int    `json:"id"`
	InboxID int    `json:"inbox_id"`
	Status  string `json:"status"`
}

// ContactRequest is the body for contact creation and update.
type ContactRequest struct {
	InboxID     int    `json:"inbox_id,omitempty"`
	Name        string `json:"name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Identifier  string `json:"identifier,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ConversationRequest is the body for conversation creation.
type ConversationRequest struct {
	SourceID             string         `json:"source_id,omitempty"`
	InboxID              int            `json:"inbox_id"`
	ContactID            int            `json:"contact_id"`
	Status               string         `json:"status,omitempty"`
	AdditionalAttributes map[string]any `json:"additional_attributes,omitempty"`
}

// MessageAttachment references an externally hosted attachment on a
// created message.
type MessageAttachment struct {
	ExternalURL string `json:"external_url"`
	FileType    string `json:"file_type,omitempty"`
	FileName    string `json:"file_name,omitempty"`
}

// MessageRequest is the body for message creation.
type MessageRequest struct {
	Content     string              `json:"content"`
	MessageType string              `json:"message_type"`
	Private     bool                `json:"private"`
	Attachments []MessageAttachment `json:"attachments,omitempty"`
}

// Event is a Chatwoot outbound webhook payload.
type Event struct {
	Event        string             `json:"event"`
	MessageType  string             `json:"message_type"`
	Private      bool               `json:"private"`
	Content      string             `json:"content"`
	SourceID     string             `json:"source_id,omitempty"`
	Attachments  []EventAttachment  `json:"attachments,omitempty"`
	Conversation *EventConversation `json:"conversation,omitempty"`
	Sender       *EventSender       `json:"sender,omitempty"`
}

// EventAttachment is an attachment block inside a webhook event.
type EventAttachment struct {
	DataURL  string `json:"data_url,omitempty"`
	FileType string `json:"file_type,omitempty"`
	Name     string `json:"name,omitempty"`
}

// EventConversation carries the conversation context of a webhook event.
type EventConversation struct {
	ID   int `json:"id,omitempty"`
	Meta struct {
		Sender struct {
			PhoneNumber string `json:"phone_number,omitempty"`
		} `json:"sender"`
	} `json:"meta"`
	ContactInbox struct {
		SourceID string `json:"source_id,omitempty"`
	} `json:"contact_inbox"`
}

// EventSender identifies who authored the message: "user" is a human
// agent, "agent_bot" and absent senders are automation.
type EventSender struct {
	Type string `json:"type,omitempty"`
}

// EventMessageCreated is the only event the bridge relays.
const EventMessageCreated = "message_created"

// SenderTypeAgent is the sender type of a human agent. It is the single
// authorization signal for outbound relay.
const SenderTypeAgent = "user"

// PhoneHint returns the contact phone carried by the event, preferring
// the conversation meta sender over the contact-inbox source id.
func (e Event) PhoneHint() string {
	if e.Conversation == nil {
		return ""
	}
	if v := strings.TrimSpace(e.Conversation.Meta.Sender.PhoneNumber); v != "" {
		return v
	}
	return strings.TrimSpace(e.Conversation.ContactInbox.SourceID)
}

// FromAgent reports whether the event was authored by a human agent.
func (e Event) FromAgent() bool {
	return e.Sender != nil && e.Sender.Type == SenderTypeAgent
}
