package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapiwoot/zapiwoot/internal/bridge"
)

type fakeRelay struct {
	result bridge.Result
	err    error
	calls  int
	raw    []byte
}

func (f *fakeRelay) Handle(_ context.Context, raw []byte) (bridge.Result, error) {
	f.calls++
	f.raw = raw
	return f.result, f.err
}

func perform(t *testing.T, handler *WebhookHandler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	handler.Register(e)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestWebhookRelayedReturnsSuccess(t *testing.T) {
	relay := &fakeRelay{result: bridge.Result{Outcome: bridge.Relayed}}
	handler := NewWebhookHandler(nil, relay, "")

	rec := perform(t, handler, "/webhook", `{"type":"ReceivedCallback","phone":"5531999998888"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, 1, relay.calls)
	assert.JSONEq(t, `{"type":"ReceivedCallback","phone":"5531999998888"}`, string(relay.raw))
}

func TestWebhookIgnoredReturnsReason(t *testing.T) {
	relay := &fakeRelay{result: bridge.Result{Outcome: bridge.Ignored, Reason: "group chat"}}
	handler := NewWebhookHandler(nil, relay, "")

	rec := perform(t, handler, "/webhook", `{"type":"ReceivedCallback","phone":"1","isGroup":true}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ignored", body["status"])
	assert.Equal(t, "group chat", body["reason"])
}

func TestWebhookUnrecognizedPayloadIsBadRequest(t *testing.T) {
	relay := &fakeRelay{err: bridge.ErrUnrecognizedPayload}
	handler := NewWebhookHandler(nil, relay, "")

	rec := perform(t, handler, "/webhook", `{"hello":"world"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookRelayErrorIsServerError(t *testing.T) {
	relay := &fakeRelay{err: context.DeadlineExceeded}
	handler := NewWebhookHandler(nil, relay, "")

	rec := perform(t, handler, "/webhook", `{"type":"ReceivedCallback","phone":"1"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhookEmptyBodyIsBadRequest(t *testing.T) {
	relay := &fakeRelay{}
	handler := NewWebhookHandler(nil, relay, "")

	rec := perform(t, handler, "/webhook", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, relay.calls)
}

func TestZAPIRouteEnforcesSecurityToken(t *testing.T) {
	relay := &fakeRelay{result: bridge.Result{Outcome: bridge.Relayed}}
	handler := NewWebhookHandler(nil, relay, "s3cret")

	rec := perform(t, handler, "/webhooks/zapi", `{"type":"ReceivedCallback","phone":"1"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, relay.calls)

	rec = perform(t, handler, "/webhooks/zapi", `{"type":"ReceivedCallback","phone":"1"}`,
		map[string]string{"Client-Token": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, relay.calls)

	rec = perform(t, handler, "/webhooks/zapi", `{"type":"ReceivedCallback","phone":"1"}`,
		map[string]string{"Client-Token": "s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, relay.calls)
}

func TestChatwootRouteSkipsSecurityToken(t *testing.T) {
	relay := &fakeRelay{result: bridge.Result{Outcome: bridge.Relayed}}
	handler := NewWebhookHandler(nil, relay, "s3cret")

	rec := perform(t, handler, "/webhooks/chatwoot", `{"event":"message_created"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, relay.calls)
}

func TestCombinedRouteChecksTokenOnlyWhenPresented(t *testing.T) {
	relay := &fakeRelay{result: bridge.Result{Outcome: bridge.Relayed}}
	handler := NewWebhookHandler(nil, relay, "s3cret")

	// No header: treated as a Chatwoot delivery.
	rec := perform(t, handler, "/webhook", `{"event":"message_created"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Wrong header is rejected.
	rec = perform(t, handler, "/webhook", `{"type":"ReceivedCallback","phone":"1"}`,
		map[string]string{"Client-Token": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
