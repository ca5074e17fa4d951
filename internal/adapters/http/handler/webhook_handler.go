package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"zapgate/internal/adapters/http/shared"
	"zapgate/internal/domain/webhook"
	"zapgate/internal/ports"
	apperrors "zapgate/pkg/errors"
	"zapgate/platform/logger"
)

// WebhookHandler implementa o CRUD de webhooks de uma instância
type WebhookHandler struct {
	*shared.BaseHandler
	webhooks  ports.WebhookRepository
	instances *InstanceHandler
}

func NewWebhookHandler(webhooks ports.WebhookRepository, instances *InstanceHandler, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: shared.NewBaseHandler(log),
		webhooks:    webhooks,
		instances:   instances,
	}
}

// Events lista os tipos de evento que os webhooks podem assinar
func (h *WebhookHandler) Events(w http.ResponseWriter, r *http.Request) {
	h.GetWriter().WriteSuccess(w, webhook.SupportedEvents)
}

type CreateWebhookRequest struct {
	Name   string   `json:"name" validate:"required,min=2"`
	URL    string   `json:"url" validate:"required,url"`
	Events []string `json:"events" validate:"required,min=1"`
}

type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// Create registra um novo webhook na instância
func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	h.LogRequest(r, "create webhook")

	inst, err := h.instances.ownedInstance(r)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	var req CreateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.GetWriter().WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := h.GetValidator().ValidateStruct(&req); err != nil {
		h.GetWriter().WriteBadRequest(w, "Validation failed", err.Error())
		return
	}
	if invalid := webhook.ValidateEvents(req.Events); len(invalid) > 0 {
		h.GetWriter().WriteBadRequest(w, "Unsupported events", invalid)
		return
	}

	wh := webhook.New(inst.ID, req.Name, req.URL, req.Events)
	if err := h.webhooks.Create(r.Context(), wh); err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}
	h.GetWriter().WriteCreated(w, wh)
}

// List retorna os webhooks da instância
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	h.LogRequest(r, "list webhooks")

	inst, err := h.instances.ownedInstance(r)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	hooks, err := h.webhooks.ListByInstance(r.Context(), inst.ID)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}
	h.GetWriter().WriteSuccess(w, hooks)
}

// Update altera nome, URL ou filtro de eventos do webhook
func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	h.LogRequest(r, "update webhook")

	wh, err := h.ownedWebhook(r)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	var req webhook.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.GetWriter().WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := h.GetValidator().ValidateStruct(&req); err != nil {
		h.GetWriter().WriteBadRequest(w, "Validation failed", err.Error())
		return
	}
	if req.Events != nil {
		if invalid := webhook.ValidateEvents(req.Events); len(invalid) > 0 {
			h.GetWriter().WriteBadRequest(w, "Unsupported events", invalid)
			return
		}
	}

	wh.Update(&req)
	if err := h.webhooks.Update(r.Context(), wh); err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}
	h.GetWriter().WriteSuccess(w, wh)
}

// SetEnabled liga ou desliga a entrega para o webhook
func (h *WebhookHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	h.LogRequest(r, "set webhook enabled")

	wh, err := h.ownedWebhook(r)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	var req SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.GetWriter().WriteBadRequest(w, "Invalid request body")
		return
	}

	wh.Enabled = req.Enabled
	if err := h.webhooks.Update(r.Context(), wh); err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}
	h.GetWriter().WriteSuccess(w, wh)
}

// Delete remove o webhook da instância
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.LogRequest(r, "delete webhook")

	wh, err := h.ownedWebhook(r)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	if err := h.webhooks.Delete(r.Context(), wh.ID); err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}
	h.GetWriter().WriteSuccess(w, nil, "Webhook deleted")
}

// ownedWebhook resolve o webhook garantindo que pertence a uma instância do
// usuário autenticado
func (h *WebhookHandler) ownedWebhook(r *http.Request) (*webhook.Webhook, error) {
	inst, err := h.instances.ownedInstance(r)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(chi.URLParam(r, "webhookID"))
	if err != nil {
		return nil, apperrors.NewWithDetails(http.StatusBadRequest, "Invalid webhook ID", err.Error())
	}

	wh, err := h.webhooks.GetByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if wh.InstanceID != inst.ID {
		return nil, apperrors.ErrWebhookNotFound
	}
	return wh, nil
}
