package handler

import (
	"encoding/json"
	"net/http"

	"zapgate/internal/adapters/http/middleware"
	"zapgate/internal/adapters/http/shared"
	"zapgate/internal/domain/instance"
	"zapgate/internal/infra/whatsapp"
	apperrors "zapgate/pkg/errors"
	"zapgate/platform/logger"
)

// MessageHandler implementa o envio de mensagens pelas rotas autenticadas
// com token de instância
type MessageHandler struct {
	*shared.BaseHandler
	controller *whatsapp.Controller
}

func NewMessageHandler(controller *whatsapp.Controller, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		BaseHandler: shared.NewBaseHandler(log),
		controller:  controller,
	}
}

type SendTextRequest struct {
	Phone string `json:"phone" validate:"required,min=8"`
	Body  string `json:"body" validate:"required"`
}

type SendImageRequest struct {
	Phone   string `json:"phone" validate:"required,min=8"`
	Data    string `json:"data" validate:"required"`
	Caption string `json:"caption,omitempty"`
}

type SendDocumentRequest struct {
	Phone    string `json:"phone" validate:"required,min=8"`
	Data     string `json:"data" validate:"required"`
	Filename string `json:"filename" validate:"required"`
	Caption  string `json:"caption,omitempty"`
}

type SendMessageResponse struct {
	MessageID string `json:"messageId"`
}

type CheckNumberResponse struct {
	Phone  string `json:"phone"`
	Exists bool   `json:"exists"`
}

// SendText envia mensagem de texto pelo número informado
func (h *MessageHandler) SendText(w http.ResponseWriter, r *http.Request) {
	h.LogRequest(r, "send text message")

	sess, inst, err := h.liveSession(r)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	var req SendTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.GetWriter().WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := h.GetValidator().ValidateStruct(&req); err != nil {
		h.GetWriter().WriteBadRequest(w, "Validation failed", err.Error())
		return
	}

	if err := h.requireOnWhatsApp(r, sess, req.Phone); err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	id, err := sess.Client.SendText(r.Context(), req.Phone, req.Body)
	if err != nil {
		h.logSendFailure(inst, "text", err)
		h.GetWriter().WriteAppError(w, err)
		return
	}
	h.GetWriter().WriteSuccess(w, &SendMessageResponse{MessageID: id})
}

// SendImage envia imagem em base64 com legenda opcional
func (h *MessageHandler) SendImage(w http.ResponseWriter, r *http.Request) {
	h.LogRequest(r, "send image message")

	sess, inst, err := h.liveSession(r)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	var req SendImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.GetWriter().WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := h.GetValidator().ValidateStruct(&req); err != nil {
		h.GetWriter().WriteBadRequest(w, "Validation failed", err.Error())
		return
	}

	if err := h.requireOnWhatsApp(r, sess, req.Phone); err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	id, err := sess.Client.SendImage(r.Context(), req.Phone, req.Data, req.Caption)
	if err != nil {
		h.logSendFailure(inst, "image", err)
		h.GetWriter().WriteAppError(w, err)
		return
	}
	h.GetWriter().WriteSuccess(w, &SendMessageResponse{MessageID: id})
}

// SendDocument envia documento em base64
func (h *MessageHandler) SendDocument(w http.ResponseWriter, r *http.Request) {
	h.LogRequest(r, "send document message")

	sess, inst, err := h.liveSession(r)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	var req SendDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.GetWriter().WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := h.GetValidator().ValidateStruct(&req); err != nil {
		h.GetWriter().WriteBadRequest(w, "Validation failed", err.Error())
		return
	}

	if err := h.requireOnWhatsApp(r, sess, req.Phone); err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	id, err := sess.Client.SendFile(r.Context(), req.Phone, req.Data, req.Filename, req.Caption)
	if err != nil {
		h.logSendFailure(inst, "document", err)
		h.GetWriter().WriteAppError(w, err)
		return
	}
	h.GetWriter().WriteSuccess(w, &SendMessageResponse{MessageID: id})
}

// CheckNumber verifica se o número tem conta de WhatsApp
func (h *MessageHandler) CheckNumber(w http.ResponseWriter, r *http.Request) {
	h.LogRequest(r, "check number")

	sess, _, err := h.liveSession(r)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	phone := r.URL.Query().Get("phone")
	if phone == "" {
		h.GetWriter().WriteBadRequest(w, "Query param phone is required")
		return
	}

	exists, err := sess.Client.CheckNumber(r.Context(), phone)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}
	h.GetWriter().WriteSuccess(w, &CheckNumberResponse{Phone: phone, Exists: exists})
}

// liveSession resolve a instância autenticada e exige sessão iniciada
func (h *MessageHandler) liveSession(r *http.Request) (*whatsapp.Session, *instance.Instance, error) {
	inst, ok := middleware.InstanceFromContext(r.Context())
	if !ok {
		return nil, nil, apperrors.ErrUnauthorized
	}

	sess := h.controller.Registry().Get(inst.ID)
	if sess == nil {
		return nil, nil, apperrors.ErrNotConnected
	}
	return sess, inst, nil
}

// requireOnWhatsApp valida o destinatário antes do envio
func (h *MessageHandler) requireOnWhatsApp(r *http.Request, sess *whatsapp.Session, phone string) error {
	exists, err := sess.Client.CheckNumber(r.Context(), phone)
	if err != nil {
		return err
	}
	if !exists {
		return apperrors.NewWithDetails(http.StatusBadRequest, "Number is not on WhatsApp", phone)
	}
	return nil
}

func (h *MessageHandler) logSendFailure(inst *instance.Instance, kind string, err error) {
	h.GetLogger().WarnWithFields("Message send failed", map[string]interface{}{
		"instance_id": inst.ID.String(),
		"type":        kind,
		"error":       err.Error(),
	})
}
