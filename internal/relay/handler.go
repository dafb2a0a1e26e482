package relay

import (
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"leadrelay_backend/platform/httpkit"
	"leadrelay_backend/platform/logger"
)

const secretHeader = "X-Webhook-Secret"

// Handler exposes the webhook endpoint.
type Handler struct {
	service *Service
	secret  string
	log     *logger.Logger
}

// NewHandler creates the webhook handler. An empty secret disables the
// shared-secret check.
func NewHandler(service *Service, secret string, log *logger.Logger) *Handler {
	return &Handler{service: service, secret: secret, log: log}
}

// HandleWebhook receives a lead notification from the listing portal.
func (h *Handler) HandleWebhook(c *gin.Context) {
	if h.secret != "" {
		provided := c.GetHeader(secretHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) != 1 {
			h.log.Warn("webhook rejected: invalid secret", "ip", c.ClientIP())
			httpkit.Error(c, http.StatusUnauthorized, "invalid webhook secret")
			return
		}
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "unreadable request body")
		return
	}

	lead, ok, err := ParseLead(body)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if !ok {
		// Portal pings and test deliveries carry no lead fields. Acknowledge
		// so the portal does not retry.
		httpkit.OK(c, gin.H{"status": "ignored"})
		return
	}

	result, err := h.service.Process(c.Request.Context(), lead)
	if httpkit.HandleError(c, err) {
		return
	}

	status := http.StatusOK
	if result.Outcome == OutcomeInProgress {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{
		"status":     result.Outcome.String(),
		"contact_id": result.ContactID,
		"chat_id":    result.ChatID,
	})
}

// HandleHealth is the liveness probe.
func (h *Handler) HandleHealth(c *gin.Context) {
	httpkit.OK(c, gin.H{"status": "ok"})
}
