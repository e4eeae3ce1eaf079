package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapiwoot/zapiwoot/internal/chatwoot"
	"github.com/zapiwoot/zapiwoot/internal/dedup"
	"github.com/zapiwoot/zapiwoot/internal/identity"
	"github.com/zapiwoot/zapiwoot/internal/zapi"
)

type sentText struct {
	phone string
	text  string
}

type sentMedia struct {
	phone    string
	mediaURL string
	caption  string
	kind     zapi.MediaKind
	filename string
}

type fakeGateway struct {
	texts []sentText
	media []sentMedia
}

func (f *fakeGateway) SendText(_ context.Context, phone, text string) error {
	f.texts = append(f.texts, sentText{phone: phone, text: text})
	return nil
}

func (f *fakeGateway) SendMedia(_ context.Context, phone, mediaURL, caption string, kind zapi.MediaKind, filename string) error {
	f.media = append(f.media, sentMedia{phone: phone, mediaURL: mediaURL, caption: caption, kind: kind, filename: filename})
	return nil
}

type createdMessage struct {
	conversationID int
	req            chatwoot.MessageRequest
}

type fakeInbox struct {
	messages []createdMessage
	err      error
}

func (f *fakeInbox) CreateMessage(_ context.Context, conversationID int, req chatwoot.MessageRequest) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, createdMessage{conversationID: conversationID, req: req})
	return nil
}

type fakeResolver struct {
	calls int
	err   error
}

func (f *fakeResolver) Resolve(_ context.Context, _ string) (chatwoot.Resolution, error) {
	f.calls++
	if f.err != nil {
		return chatwoot.Resolution{}, f.err
	}
	return chatwoot.Resolution{ContactID: 42, ConversationID: 9}, nil
}

type testBridge struct {
	*Bridge
	gateway  *fakeGateway
	inbox    *fakeInbox
	resolver *fakeResolver
	ids      *identity.Service
	sleeps   *int
}

func newTestBridge(t *testing.T) *testBridge {
	t.Helper()
	gateway := &fakeGateway{}
	inbox := &fakeInbox{}
	resolver := &fakeResolver{}
	ids := identity.NewService(nil, identity.NewNormalizer(""), identity.NewMemoryStore())
	deduper := dedup.NewEngine(nil, dedup.NewMemoryStore(), time.Hour)

	b := New(nil, gateway, inbox, resolver, ids, deduper, Options{MediaDelay: 100 * time.Millisecond})
	sleeps := 0
	b.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		return nil
	}
	return &testBridge{Bridge: b, gateway: gateway, inbox: inbox, resolver: resolver, ids: ids, sleeps: &sleeps}
}

func TestInboundTextIsRelayedOnce(t *testing.T) {
	b := newTestBridge(t)
	raw := []byte(`{"type":"ReceivedCallback","messageId":"m1","phone":"5531999998888","senderName":"Maria","text":{"message":"hi"}}`)

	res, err := b.Handle(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, Relayed, res.Outcome)

	require.Len(t, b.inbox.messages, 1)
	msg := b.inbox.messages[0]
	assert.Equal(t, 9, msg.conversationID)
	assert.Equal(t, "hi", msg.req.Content)
	assert.Equal(t, "incoming", msg.req.MessageType)
	assert.Empty(t, msg.req.Attachments)
	assert.Equal(t, 1, b.resolver.calls)

	// Redelivery of the same message id does nothing remote.
	res, err = b.Handle(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, Ignored, res.Outcome)
	assert.Equal(t, "duplicate message id", res.Reason)
	assert.Len(t, b.inbox.messages, 1)
	assert.Equal(t, 1, b.resolver.calls)
}

func TestRedeliveryAfterInboxFailureIsRelayed(t *testing.T) {
	b := newTestBridge(t)
	raw := []byte(`{"type":"ReceivedCallback","messageId":"m1","phone":"5531999998888","text":{"message":"hi"}}`)

	// Chatwoot is down: the relay fails, so Z-API gets a 500 and will
	// redeliver the webhook.
	b.inbox.err = errors.New("upstream unavailable")
	_, err := b.Handle(context.Background(), raw)
	require.Error(t, err)
	assert.Empty(t, b.inbox.messages)

	// The redelivery after recovery must not be dropped as a duplicate.
	b.inbox.err = nil
	res, err := b.Handle(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, Relayed, res.Outcome)
	require.Len(t, b.inbox.messages, 1)
	assert.Equal(t, "hi", b.inbox.messages[0].req.Content)
}

func TestRedeliveryAfterResolverFailureIsRelayed(t *testing.T) {
	b := newTestBridge(t)
	raw := []byte(`{"type":"ReceivedCallback","messageId":"m1","phone":"5531999998888","text":{"message":"hi"}}`)

	b.resolver.err = errors.New("upstream unavailable")
	_, err := b.Handle(context.Background(), raw)
	require.Error(t, err)

	b.resolver.err = nil
	res, err := b.Handle(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, Relayed, res.Outcome)
	require.Len(t, b.inbox.messages, 1)

	// Once relayed, the id is held again: a late redelivery is dropped.
	res, err = b.Handle(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, Ignored, res.Outcome)
	assert.Equal(t, "duplicate message id", res.Reason)
	require.Len(t, b.inbox.messages, 1)
}

func TestOutboundAgentReplyIsSentTagged(t *testing.T) {
	b := newTestBridge(t)
	raw := []byte(`{
		"event":"message_created","message_type":"outgoing","private":false,
		"content":"reply","sender":{"type":"user"},
		"conversation":{"meta":{"sender":{"phone_number":"+5531999998888"}},"contact_inbox":{"source_id":"5531999998888"}}
	}`)

	res, err := b.Handle(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, Relayed, res.Outcome)

	require.Len(t, b.gateway.texts, 1)
	assert.Equal(t, "5531999998888", b.gateway.texts[0].phone)
	assert.Equal(t, "reply"+dedup.Marker, b.gateway.texts[0].text)
}

func TestGroupMessagesAreIgnored(t *testing.T) {
	b := newTestBridge(t)
	raw := []byte(`{"type":"ReceivedCallback","messageId":"m2","phone":"5531999998888","isGroup":true,"text":{"message":"hey all"}}`)

	res, err := b.Handle(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, Ignored, res.Outcome)
	assert.Equal(t, "group chat", res.Reason)
	assert.Empty(t, b.inbox.messages)
	assert.Zero(t, b.resolver.calls)
}

func TestUnrecognizedPayloadErrors(t *testing.T) {
	b := newTestBridge(t)

	_, err := b.Handle(context.Background(), []byte(`{"hello":"world"}`))
	assert.ErrorIs(t, err, ErrUnrecognizedPayload)

	_, err = b.Handle(context.Background(), []byte(`not json`))
	assert.ErrorIs(t, err, ErrUnrecognizedPayload)
}

func TestInboundApiEchoIsIgnored(t *testing.T) {
	b := newTestBridge(t)
	raw := []byte(`{"type":"ReceivedCallback","messageId":"m3","phone":"5531999998888","fromMe":true,"fromApi":true,"text":{"message":"reply` + dedup.Marker + `"}}`)

	res, err := b.Handle(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, Ignored, res.Outcome)
	assert.Empty(t, b.inbox.messages)
}

func TestInboundMarkerEchoIsIgnoredWithoutApiFlag(t *testing.T) {
	b := newTestBridge(t)
	raw := []byte(`{"type":"ReceivedCallback","messageId":"m4","phone":"5531999998888","fromMe":true,"text":{"message":"reply` + dedup.Marker + `"}}`)

	res, err := b.Handle(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, Ignored, res.Outcome)
	assert.Equal(t, "loop marker", res.Reason)
}

func TestInboundOwnerMessageShowsAsOutgoing(t *testing.T) {
	b := newTestBridge(t)
	raw := []byte(`{"type":"ReceivedCallback","messageId":"m5","phone":"5531999998888","fromMe":true,"text":{"message":"typed on the phone"}}`)

	res, err := b.Handle(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, Relayed, res.Outcome)
	require.Len(t, b.inbox.messages, 1)
	assert.Equal(t, "outgoing", b.inbox.messages[0].req.MessageType)
}

func TestInboundLIDResolvesThroughMapping(t *testing.T) {
	b := newTestBridge(t)

	// First webhook carries both identifiers and records the mapping.
	first := []byte(`{"type":"ReceivedCallback","messageId":"m6","phone":"5531999998888","contact":{"phone":"5531999998888","lid":"98765@lid"},"text":{"message":"hi"}}`)
	res, err := b.Handle(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, Relayed, res.Outcome)

	// Second webhook identifies the sender only by LID.
	second := []byte(`{"type":"ReceivedCallback","messageId":"m7","phone":"98765@lid","text":{"message":"still me"}}`)
	res, err = b.Handle(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, Relayed, res.Outcome)
	require.Len(t, b.inbox.messages, 2)
}

func TestInboundUnknownLIDIsDropped(t *testing.T) {
	b := newTestBridge(t)
	raw := []byte(`{"type":"ReceivedCallback","messageId":"m8","phone":"55555@lid","text":{"message":"who am i"}}`)

	res, err := b.Handle(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, Ignored, res.Outcome)
	assert.Equal(t, "unroutable sender", res.Reason)
	assert.Empty(t, b.inbox.messages)
}

func TestInboundAttachmentsBecomeChatwootAttachments(t *testing.T) {
	b := newTestBridge(t)
	raw := []byte(`{
		"type":"ReceivedCallback","messageId":"m9","phone":"5531999998888",
		"image":{"imageUrl":"https://cdn/x.jpg","mimeType":"image/jpeg","caption":"look"}
	}`)

	res, err := b.Handle(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, Relayed, res.Outcome)

	require.Len(t, b.inbox.messages, 1)
	msg := b.inbox.messages[0].req
	assert.Equal(t, "look", msg.Content)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "https://cdn/x.jpg", msg.Attachments[0].ExternalURL)
	assert.Equal(t, "image", msg.Attachments[0].FileType)
}

func TestInboundAttachmentWithoutCaptionGetsPlaceholder(t *testing.T) {
	b := newTestBridge(t)
	raw := []byte(`{"type":"ReceivedCallback","messageId":"m10","phone":"5531999998888","audio":{"audioUrl":"https://cdn/v.ogg","mimeType":"audio/ogg"}}`)

	res, err := b.Handle(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, Relayed, res.Outcome)
	require.Len(t, b.inbox.messages, 1)
	assert.Equal(t, "[audio]", b.inbox.messages[0].req.Content)
}

func TestInboundEmptyPayloadIsIgnored(t *testing.T) {
	b := newTestBridge(t)
	raw := []byte(`{"type":"ReceivedCallback","messageId":"m11","phone":"5531999998888"}`)

	res, err := b.Handle(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, Ignored, res.Outcome)
	assert.Equal(t, "no relayable content", res.Reason)
}

func TestOutboundIncomingEventIsIgnored(t *testing.T) {
	b := newTestBridge(t)
	raw := []byte(`{"event":"message_created","message_type":"incoming","content":"hi","conversation":{"contact_inbox":{"source_id":"5531999998888"}}}`)

	res, err := b.Handle(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, Ignored, res.Outcome)
	assert.Empty(t, b.gateway.texts)
}

func TestOutboundPrivateNoteIsIgnored(t *testing.T) {
	b := newTestBridge(t)
	raw := []byte(`{"event":"message_created","message_type":"outgoing","private":true,"content":"internal","sender":{"type":"user"},"conversation":{"contact_inbox":{"source_id":"5531999998888"}}}`)

	res, err := b.Handle(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, Ignored, res.Outcome)
	assert.Empty(t, b.gateway.texts)
}

func TestOutboundBotSenderIsIgnored(t *testing.T) {
	b := newTestBridge(t)
	raw := []byte(`{"event":"message_created","message_type":"outgoing","content":"automated","sender":{"type":"agent_bot"},"conversation":{"contact_inbox":{"source_id":"5531999998888"}}}`)

	res, err := b.Handle(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, Ignored, res.Outcome)
	assert.Equal(t, "not an agent message", res.Reason)
	assert.Empty(t, b.gateway.texts)
}

func TestOutboundTaggedContentIsIgnored(t *testing.T) {
	b := newTestBridge(t)
	raw := []byte(`{"event":"message_created","message_type":"outgoing","content":"reply` + dedup.Marker + `","sender":{"type":"user"},"conversation":{"contact_inbox":{"source_id":"5531999998888"}}}`)

	res, err := b.Handle(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, Ignored, res.Outcome)
	assert.Equal(t, "loop marker", res.Reason)
	assert.Empty(t, b.gateway.texts)
}

func TestOutboundAttachmentsAreSpacedAndCaptioned(t *testing.T) {
	b := newTestBridge(t)
	raw := []byte(`{
		"event":"message_created","message_type":"outgoing","content":"here you go",
		"sender":{"type":"user"},
		"conversation":{"contact_inbox":{"source_id":"5531999998888"}},
		"attachments":[
			{"data_url":"https://cdn/a.jpg","file_type":"image"},
			{"data_url":"https://cdn/b.pdf","file_type":"file","name":"invoice.pdf"}
		]
	}`)

	res, err := b.Handle(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, Relayed, res.Outcome)

	require.Len(t, b.gateway.media, 2)
	assert.Equal(t, zapi.MediaImage, b.gateway.media[0].kind)
	assert.Equal(t, "here you go"+dedup.Marker, b.gateway.media[0].caption)
	assert.Equal(t, zapi.MediaDocument, b.gateway.media[1].kind)
	assert.Empty(t, b.gateway.media[1].caption)
	assert.Equal(t, "invoice.pdf", b.gateway.media[1].filename)
	assert.Equal(t, 1, *b.sleeps)
	assert.Empty(t, b.gateway.texts)
}

func TestOutboundUnroutablePhoneIsIgnored(t *testing.T) {
	b := newTestBridge(t)
	raw := []byte(`{"event":"message_created","message_type":"outgoing","content":"hi","sender":{"type":"user"},"conversation":{"contact_inbox":{"source_id":"12"}}}`)

	res, err := b.Handle(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, Ignored, res.Outcome)
	assert.Equal(t, "unroutable contact", res.Reason)
	assert.Empty(t, b.gateway.texts)
}
