package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"zapgate/internal/adapters/http/middleware"
	"zapgate/internal/adapters/http/shared"
	"zapgate/internal/domain/instance"
	"zapgate/internal/domain/webhook"
	"zapgate/internal/infra/whatsapp"
	"zapgate/internal/ports"
	apperrors "zapgate/pkg/errors"
	"zapgate/platform/logger"
)

// InstanceHandler implementa o CRUD e o ciclo de vida das instâncias
type InstanceHandler struct {
	*shared.BaseHandler
	instances  ports.InstanceRepository
	webhooks   ports.WebhookRepository
	users      ports.UserRepository
	controller *whatsapp.Controller
}

func NewInstanceHandler(
	instances ports.InstanceRepository,
	webhooks ports.WebhookRepository,
	users ports.UserRepository,
	controller *whatsapp.Controller,
	log *logger.Logger,
) *InstanceHandler {
	return &InstanceHandler{
		BaseHandler: shared.NewBaseHandler(log),
		instances:   instances,
		webhooks:    webhooks,
		users:       users,
		controller:  controller,
	}
}

type CreateInstanceRequest struct {
	InstanceName string `json:"instanceName" validate:"required,min=2"`
}

type InstanceWithWebhooks struct {
	*instance.Instance
	Webhooks []*webhook.Webhook `json:"webhooks"`
}

type ConnectResponse struct {
	State     string        `json:"state"`
	Connected bool          `json:"connected"`
	QRCode    *ports.QRCode `json:"qrcode,omitempty"`
}

// Create cria uma instância para o usuário autenticado
func (h *InstanceHandler) Create(w http.ResponseWriter, r *http.Request) {
	h.LogRequest(r, "create instance")

	claims, ok := middleware.UserClaimsFromContext(r.Context())
	if !ok {
		h.GetWriter().WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req CreateInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.GetWriter().WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := h.GetValidator().ValidateStruct(&req); err != nil {
		h.GetWriter().WriteBadRequest(w, "Validation failed", err.Error())
		return
	}

	owner, err := h.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}
	if owner.TrialExpired(time.Now()) {
		h.GetWriter().WriteAppError(w, apperrors.ErrTrialExpired)
		return
	}

	inst := instance.New(req.InstanceName, claims.UserID)
	if err := h.instances.Create(r.Context(), inst); err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	h.GetLogger().InfoWithFields("Instance created", map[string]interface{}{
		"instance_id": inst.ID.String(),
		"user_id":     claims.UserID.String(),
	})

	h.GetWriter().WriteCreated(w, inst)
}

// List retorna as instâncias do usuário autenticado
func (h *InstanceHandler) List(w http.ResponseWriter, r *http.Request) {
	h.LogRequest(r, "list instances")

	claims, ok := middleware.UserClaimsFromContext(r.Context())
	if !ok {
		h.GetWriter().WriteUnauthorized(w, "Unauthorized")
		return
	}

	list, err := h.instances.ListByUser(r.Context(), claims.UserID)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}
	h.GetWriter().WriteSuccess(w, list)
}

// Get retorna a instância com seus webhooks
func (h *InstanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.LogRequest(r, "get instance")

	inst, err := h.ownedInstance(r)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	hooks, err := h.webhooks.ListByInstance(r.Context(), inst.ID)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	h.GetWriter().WriteSuccess(w, &InstanceWithWebhooks{Instance: inst, Webhooks: hooks})
}

// UpdateSettings aplica os flags de comportamento editáveis
func (h *InstanceHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	h.LogRequest(r, "update instance settings")

	inst, err := h.ownedInstance(r)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	var settings instance.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		h.GetWriter().WriteBadRequest(w, "Invalid request body")
		return
	}

	inst.ApplySettings(&settings)
	if err := h.instances.Update(r.Context(), inst); err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}
	h.GetWriter().WriteSuccess(w, inst)
}

// Delete encerra a sessão ao vivo (se houver) e remove a instância
func (h *InstanceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.LogRequest(r, "delete instance")

	inst, err := h.ownedInstance(r)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	h.controller.ForceClose(r.Context(), inst.ID)

	if err := h.instances.Delete(r.Context(), inst.ID); err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}
	h.GetWriter().WriteSuccess(w, nil, "Instance deleted")
}

// Connect inicia a sessão e devolve o estado alcançado
func (h *InstanceHandler) Connect(w http.ResponseWriter, r *http.Request) {
	h.LogRequest(r, "connect instance")

	inst, err := h.ownedInstance(r)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	sess, err := h.controller.Start(r.Context(), inst.ID)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	resp := &ConnectResponse{}
	current, err := h.instances.GetByID(r.Context(), inst.ID)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}
	resp.State = current.State
	resp.Connected = current.Connected

	if !current.Connected {
		if qr, err := sess.Client.GetQRCode(r.Context()); err == nil {
			resp.QRCode = qr
		}
	}

	h.GetWriter().WriteSuccess(w, resp)
}

// GetQRCode devolve o QR de pareamento corrente da sessão ao vivo
func (h *InstanceHandler) GetQRCode(w http.ResponseWriter, r *http.Request) {
	h.LogRequest(r, "get instance qrcode")

	inst, err := h.ownedInstance(r)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	sess := h.controller.Registry().Get(inst.ID)
	if sess == nil {
		h.GetWriter().WriteAppError(w, apperrors.ErrNotConnected)
		return
	}

	qr, err := sess.Client.GetQRCode(r.Context())
	if err != nil {
		h.GetWriter().WriteNotFound(w, "No QR code available")
		return
	}
	h.GetWriter().WriteSuccess(w, qr)
}

// Disconnect encerra a sessão mantendo as credenciais do dispositivo
func (h *InstanceHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.LogRequest(r, "disconnect instance")

	inst, err := h.ownedInstance(r)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	if err := h.controller.Disconnect(r.Context(), inst.ID); err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}
	h.GetWriter().WriteSuccess(w, nil, "Instance disconnected")
}

// Logout encerra a sessão e invalida as credenciais do dispositivo
func (h *InstanceHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.LogRequest(r, "logout instance")

	inst, err := h.ownedInstance(r)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	if err := h.controller.Logout(r.Context(), inst.ID); err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}
	h.GetWriter().WriteSuccess(w, nil, "Instance logged out")
}

// ownedInstance resolve o path param e garante que a instância pertence ao
// usuário autenticado (admins enxergam todas)
func (h *InstanceHandler) ownedInstance(r *http.Request) (*instance.Instance, error) {
	claims, ok := middleware.UserClaimsFromContext(r.Context())
	if !ok {
		return nil, apperrors.ErrUnauthorized
	}

	id, err := uuid.Parse(chi.URLParam(r, "instanceID"))
	if err != nil {
		return nil, apperrors.NewWithDetails(http.StatusBadRequest, "Invalid instance ID", err.Error())
	}

	inst, err := h.instances.GetByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if inst.UserID != claims.UserID && !claims.IsAdmin {
		return nil, apperrors.ErrForbidden
	}
	return inst, nil
}
