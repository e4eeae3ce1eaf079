// Package handlers holds the HTTP handlers mounted on the server.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/zapiwoot/zapiwoot/internal/bridge"
)

// clientTokenHeader is the header Z-API sends the instance security
// token in.
const clientTokenHeader = "Client-Token"

// Relay is the bridge entry point the handler dispatches into.
type Relay interface {
	Handle(ctx context.Context, raw []byte) (bridge.Result, error)
}

// WebhookHandler receives webhook deliveries from both platforms and
// hands them to the bridge.
type WebhookHandler struct {
	logger        *slog.Logger
	relay         Relay
	securityToken string
}

// NewWebhookHandler creates a WebhookHandler. securityToken is the Z-API
// instance security token; empty disables the check.
func NewWebhookHandler(log *slog.Logger, relay Relay, securityToken string) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		logger:        log.With(slog.String("handler", "webhook")),
		relay:         relay,
		securityToken: securityToken,
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/zapi", h.ReceiveZAPI)
	e.POST("/webhooks/chatwoot", h.Receive)
	// Combined endpoint: either platform may be pointed here; the body
	// structure decides the direction.
	e.POST("/webhook", h.ReceiveCombined)
}

// ReceiveZAPI handles deliveries from the Z-API instance, enforcing the
// security token when one is configured.
func (h *WebhookHandler) ReceiveZAPI(c echo.Context) error {
	if err := h.checkToken(c); err != nil {
		return err
	}
	return h.Receive(c)
}

// ReceiveCombined enforces the security token only when the delivery
// presents one; Chatwoot sends no Client-Token header.
func (h *WebhookHandler) ReceiveCombined(c echo.Context) error {
	if c.Request().Header.Get(clientTokenHeader) != "" {
		if err := h.checkToken(c); err != nil {
			return err
		}
	}
	return h.Receive(c)
}

// Receive reads the body, runs the bridge, and maps its outcome onto the
// HTTP response.
func (h *WebhookHandler) Receive(c echo.Context) error {
	deliveryID := uuid.NewString()
	log := h.logger.With(slog.String("delivery_id", deliveryID))

	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read body")
	}
	if len(raw) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "empty body")
	}

	result, err := h.relay.Handle(c.Request().Context(), raw)
	if err != nil {
		if errors.Is(err, bridge.ErrUnrecognizedPayload) {
			log.Warn("unrecognized webhook", slog.Any("error", err))
			return echo.NewHTTPError(http.StatusBadRequest, "unrecognized payload")
		}
		log.Error("webhook relay failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "relay failed")
	}

	if result.Outcome == bridge.Ignored {
		log.Info("webhook ignored", slog.String("reason", result.Reason))
		return c.JSON(http.StatusOK, map[string]string{
			"status": "ignored",
			"reason": result.Reason,
		})
	}
	log.Info("webhook relayed")
	return c.JSON(http.StatusOK, map[string]string{
		"status": "success",
	})
}

func (h *WebhookHandler) checkToken(c echo.Context) error {
	if h.securityToken == "" {
		return nil
	}
	if c.Request().Header.Get(clientTokenHeader) != h.securityToken {
		h.logger.Warn("webhook rejected: bad security token",
			slog.String("remote_ip", c.RealIP()))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid security token")
	}
	return nil
}
