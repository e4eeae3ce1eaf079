package chatwoot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	dialTimeout    = 5 * time.Second
	requestTimeout = 30 * time.Second
)

// Client calls the Chatwoot account API.
type Client struct {
	baseURL    string
	apiToken   string
	accountID  int
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(log *slog.Logger, baseURL, apiToken string, accountID int) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiToken:  apiToken,
		accountID: accountID,
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: dialTimeout}).DialContext,
			},
		},
		logger: log.With(slog.String("component", "chatwoot")),
	}
}

// SearchContacts queries the contact directory. Matches are text-search
// results and must be verified by the caller before being trusted.
func (c *Client) SearchContacts(ctx context.Context, query string) ([]Contact, error) {
	raw, err := c.do(ctx, http.MethodGet, "contacts/search?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	return decodeContactList(raw)
}

// CreateContact requests creation of a contact. A remote uniqueness
// violation surfaces as ErrConflict.
func (c *Client) CreateContact(ctx context.Context, req ContactRequest) (Contact, error) {
	raw, err := c.do(ctx, http.MethodPost, "contacts", req)
	if err != nil {
		return Contact{}, err
	}
	return decodeContact(raw)
}

// UpdateContact refreshes contact fields. Used for best-effort profile
// updates; callers may ignore the error.
func (c *Client) UpdateContact(ctx context.Context, contactID int, req ContactRequest) error {
	_, err := c.do(ctx, http.MethodPut, "contacts/"+strconv.Itoa(contactID), req)
	return err
}

// ListContactConversations lists the conversations associated with a
// contact, in remote listing order.
func (c *Client) ListContactConversations(ctx context.Context, contactID int) ([]Conversation, error) {
	raw, err := c.do(ctx, http.MethodGet, "contacts/"+strconv.Itoa(contactID)+"/conversations", nil)
	if err != nil {
		return nil, err
	}
	return decodeConversationList(raw)
}

// CreateConversation requests creation of a conversation.
func (c *Client) CreateConversation(ctx context.Context, req ConversationRequest) (Conversation, error) {
	raw, err := c.do(ctx, http.MethodPost, "conversations", req)
	if err != nil {
		return Conversation{}, err
	}
	return decodeConversation(raw)
}

// CreateMessage appends a message to a conversation.
func (c *Client) CreateMessage(ctx context.Context, conversationID int, req MessageRequest) error {
	_, err := c.do(ctx, http.MethodPost, "conversations/"+strconv.Itoa(conversationID)+"/messages", req)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	target := fmt.Sprintf("%s/api/v1/accounts/%d/%s", c.baseURL, c.accountID, path)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("api_access_token", c.apiToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chatwoot %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	c.logger.Debug("chatwoot request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return raw, nil
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// Uniqueness violations (phone or identifier already taken) come
		// back as 422; the resolver retries the search on this.
		return nil, fmt.Errorf("chatwoot %s %s: %s: %w", method, path, errorDetail(raw), ErrConflict)
	default:
		c.logger.Error("chatwoot request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("response", string(raw)))
		return nil, fmt.Errorf("chatwoot %s %s: status %d", method, path, resp.StatusCode)
	}
}

func errorDetail(raw []byte) string {
	var env struct {
		Message string   `json:"message"`
		Errors  []string `json:"errors"`
	}
	if err := json.Unmarshal(raw, &env); err == nil {
		if env.Message != "" {
			return env.Message
		}
		if len(env.Errors) > 0 {
			return strings.Join(env.Errors, "; ")
		}
	}
	return "unprocessable entity"
}
