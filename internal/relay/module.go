package relay

import (
	"github.com/gin-gonic/gin"

	"leadrelay_backend/internal/dedupe"
	"leadrelay_backend/internal/routing"
	"leadrelay_backend/platform/logger"
)

// Module bundles the relay service with its HTTP surface.
type Module struct {
	Service *Service
	handler *Handler
}

// Deps are the external collaborators injected into the module.
type Deps struct {
	Store         dedupe.Store
	CRM           CRM
	Roster        *routing.Roster
	Selector      routing.Selector
	Templates     TemplatePicker
	Reprocess     Reprocessor
	ChannelID     string
	WebhookSecret string
	Log           *logger.Logger
}

// NewModule wires the relay pipeline.
func NewModule(d Deps) *Module {
	service := NewService(d.Store, d.CRM, d.Roster, d.Selector, d.Templates, d.Reprocess, d.ChannelID, d.Log)
	return &Module{
		Service: service,
		handler: NewHandler(service, d.WebhookSecret, d.Log),
	}
}

// RegisterRoutes mounts the webhook and health endpoints.
func (m *Module) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", m.handler.HandleHealth)
	r.POST("/api/v1/webhook/olx", m.handler.HandleWebhook)
}
