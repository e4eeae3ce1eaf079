// Package zapi talks to the Z-API WhatsApp gateway: it models the webhook
// payloads Z-API delivers and wraps the REST endpoints the bridge calls.
package zapi

import (
	"strings"

	"github.com/zapiwoot/zapiwoot/internal/identity"
)

// CallbackReceived is the webhook type emitted for messages arriving on
// the WhatsApp side. Every other callback type is ignored by the bridge.
const CallbackReceived = "ReceivedCallback"

// MediaKind classifies an attachment for the send endpoints.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
	MediaGeneric  MediaKind = "generic"
)

// Text is the text block of a webhook payload.
type Text struct {
	Message string `json:"message"`
}

// Media is the shape shared by the typed media blocks. Each block carries
// its URL under a field named after the media type.
type Media struct {
	ImageURL    string `json:"imageUrl,omitempty"`
	VideoURL    string `json:"videoUrl,omitempty"`
	AudioURL    string `json:"audioUrl,omitempty"`
	DocumentURL string `json:"documentUrl,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Caption     string `json:"caption,omitempty"`
	FileName    string `json:"fileName,omitempty"`
}

// Contact is the nested contact block, the most trustworthy source of the
// sender's identifiers.
type Contact struct {
	Phone string `json:"phone,omitempty"`
	LID   string `json:"lid,omitempty"`
}

// Payload is an inbound Z-API webhook.
type Payload struct {
	Type        string  `json:"type"`
	InstanceID  string  `json:"instanceId,omitempty"`
	MessageID   string  `json:"messageId,omitempty"`
	Phone       string  `json:"phone,omitempty"`
	ChatID      string  `json:"chatId,omitempty"`
	ChatLID     string  `json:"chatLid,omitempty"`
	Contact     Contact `json:"contact,omitempty"`
	FromMe      bool    `json:"fromMe,omitempty"`
	FromAPI     bool    `json:"fromApi,omitempty"`
	IsGroup     bool    `json:"isGroup,omitempty"`
	SenderName  string  `json:"senderName,omitempty"`
	SenderPhoto string  `json:"senderPhoto,omitempty"`
	Text        *Text   `json:"text,omitempty"`
	Image       *Media  `json:"image,omitempty"`
	Video       *Media  `json:"video,omitempty"`
	Audio       *Media  `json:"audio,omitempty"`
	Document    *Media  `json:"document,omitempty"`
}

const chatSuffix = "@c.us"

// PhoneCandidate returns the first phone-shaped identifier in the payload,
// checked in priority order: the nested contact block, the top-level phone
// field, then the chat id composite. LID-shaped values are skipped; the
// result is raw and still needs normalization.
func (p Payload) PhoneCandidate() string {
	if v := strings.TrimSpace(p.Contact.Phone); v != "" && !identity.IsLID(v) {
		return v
	}
	if v := strings.TrimSpace(p.Phone); v != "" && !identity.IsLID(v) {
		return v
	}
	if v := strings.TrimSpace(p.ChatID); strings.HasSuffix(v, chatSuffix) {
		if v = strings.TrimSuffix(v, chatSuffix); !identity.IsLID(v) {
			return v
		}
	}
	return ""
}

// LIDCandidate returns the first opaque identifier in the payload, checked
// in priority order: the nested contact block, the chat LID field, then a
// LID-shaped top-level phone.
func (p Payload) LIDCandidate() string {
	if v := strings.TrimSpace(p.Contact.LID); identity.IsLID(v) {
		return v
	}
	if v := strings.TrimSpace(p.ChatLID); identity.IsLID(v) {
		return v
	}
	if v := strings.TrimSpace(p.Phone); identity.IsLID(v) {
		return v
	}
	return ""
}

// Body returns the plain text body, empty when the payload has none.
func (p Payload) Body() string {
	if p.Text == nil {
		return ""
	}
	return strings.TrimSpace(p.Text.Message)
}

// MediaBlocks returns the typed media blocks in their fixed relay order,
// paired with the kind implied by the field each came from.
func (p Payload) MediaBlocks() []TypedMedia {
	blocks := make([]TypedMedia, 0, 4)
	if p.Image != nil {
		blocks = append(blocks, TypedMedia{Kind: MediaImage, URL: p.Image.ImageURL, Media: *p.Image})
	}
	if p.Video != nil {
		blocks = append(blocks, TypedMedia{Kind: MediaVideo, URL: p.Video.VideoURL, Media: *p.Video})
	}
	if p.Audio != nil {
		blocks = append(blocks, TypedMedia{Kind: MediaAudio, URL: p.Audio.AudioURL, Media: *p.Audio})
	}
	if p.Document != nil {
		blocks = append(blocks, TypedMedia{Kind: MediaDocument, URL: p.Document.DocumentURL, Media: *p.Document})
	}
	return blocks
}

// TypedMedia is a media block together with the kind of the field that
// carried it.
type TypedMedia struct {
	Kind  MediaKind
	URL   string
	Media Media
}

// EffectiveKind infers the media kind, preferring the declared MIME type
// over the name of the payload field.
func (m TypedMedia) EffectiveKind() MediaKind {
	if kind, ok := KindFromMime(m.Media.MimeType); ok {
		return kind
	}
	if m.Kind != "" {
		return m.Kind
	}
	return MediaGeneric
}

// KindFromMime maps a MIME type onto a MediaKind.
func KindFromMime(mime string) (MediaKind, bool) {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case mime == "":
		return "", false
	case strings.HasPrefix(mime, "image/"):
		return MediaImage, true
	case strings.HasPrefix(mime, "video/"):
		return MediaVideo, true
	case strings.HasPrefix(mime, "audio/"):
		return MediaAudio, true
	case mime == "application/pdf", strings.HasPrefix(mime, "application/"), strings.HasPrefix(mime, "text/"):
		return MediaDocument, true
	default:
		return MediaGeneric, true
	}
}
