package zapi

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
	"strings"
	"time"
)

const (
	dialTimeout    = 5 * time.Second
	requestTimeout = 30 * time.Second
)

// Profile is the best-effort WhatsApp profile of a phone number.
type Profile struct {
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Client calls the Z-API REST endpoints for one gateway instance.
type Client struct {
	baseURL     string
	instanceID  string
	token       string
	clientToken string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient creates a Client. clientToken is the account security token
// sent in the Client-Token header; it may be empty for instances without
// one configured.
func NewClient(log *slog.Logger, baseURL, instanceID, token, clientToken string) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		instanceID:  instanceID,
		token:       token,
		clientToken: clientToken,
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: dialTimeout}).DialContext,
			},
		},
		logger: log.With(slog.String("component", "zapi")),
	}
}

// SendText delivers a text message to the phone.
func (c *Client) SendText(ctx context.Context, phone, text string) error {
	body := map[string]any{"phone": phone, "message": text}
	return c.post(ctx, "send-text", body)
}

// SendMedia delivers a single attachment by reference. The caption, when
// non-empty, rides along with the media. Z-API accepts one attachment per
// call, so callers sequence multiple attachments themselves.
func (c *Client) SendMedia(ctx context.Context, phone, mediaURL, caption string, kind MediaKind, filename string) error {
	endpoint, field := sendEndpoint(kind)
	body := map[string]any{"phone": phone, field: mediaURL}
	if caption != "" {
		body["caption"] = caption
	}
	if filename != "" && (kind == MediaDocument || kind == MediaGeneric) {
		body["fileName"] = filename
	}
	return c.post(ctx, endpoint, body)
}

// sendEndpoint maps a media kind to its endpoint and JSON field. Kinds
// without a dedicated endpoint fall back to the document one.
func sendEndpoint(kind MediaKind) (string, string) {
	switch kind {
	case MediaImage:
		return "send-image", "image"
	case MediaVideo:
		return "send-video", "video"
	case MediaAudio:
		return "send-audio", "audio"
	default:
		return "send-document", "document"
	}
}

// GetProfile fetches the display name and avatar for a phone. Both lookups
// are best effort: a missing contact or picture is logged and yields an
// empty profile, never an error, so contact creation can proceed with a
// synthetic name.
func (c *Client) GetProfile(ctx context.Context, phone string) (Profile, error) {
	var profile Profile

	var meta struct {
		Name  string `json:"name"`
		VName string `json:"vname"`
		Short string `json:"short"`
	}
	if ok, err := c.get(ctx, "contacts/"+url.PathEscape(phone), nil, &meta); err != nil {
		return Profile{}, err
	} else if ok {
		profile.Name = firstNonEmpty(meta.Name, meta.VName, meta.Short)
	}

	var pic struct {
		Link string `json:"link"`
	}
	if ok, err := c.get(ctx, "profile-picture", url.Values{"phone": {phone}}, &pic); err != nil {
		return Profile{}, err
	} else if ok {
		profile.AvatarURL = pic.Link
	}

	return profile, nil
}

func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s/instances/%s/token/%s/%s", c.baseURL, c.instanceID, c.token, path)
}

func (c *Client) post(ctx context.Context, path string, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("zapi %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("zapi request failed",
			slog.String("endpoint", path),
			slog.Int("status", resp.StatusCode),
			slog.String("response", string(raw)))
		return fmt.Errorf("zapi %s: status %d", path, resp.StatusCode)
	}

	c.logger.Debug("zapi request ok", slog.String("endpoint", path), slog.Int("status", resp.StatusCode))
	return nil
}

// get performs a GET and decodes into out. It returns ok=false for 404
// and other non-2xx statuses, which callers treat as "no data".
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) (bool, error) {
	target := c.endpoint(path)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, err
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("zapi %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Info("zapi lookup returned no data",
			slog.String("endpoint", path), slog.Int("status", resp.StatusCode))
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.Warn("zapi lookup returned unparseable body",
			slog.String("endpoint", path), slog.Any("error", err))
		return false, nil
	}
	return true, nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.clientToken != "" {
		req.Header.Set("Client-Token", c.clientToken)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
