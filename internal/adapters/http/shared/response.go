package shared

import (
	"encoding/json"
	"net/http"

	apperrors "zapgate/pkg/errors"
	"zapgate/platform/logger"
)

// SuccessResponse estrutura padrão para respostas de sucesso
type SuccessResponse struct {
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Success bool        `json:"success"`
}

// ErrorResponse estrutura padrão para respostas de erro
type ErrorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
	Success bool        `json:"success"`
}

// ResponseWriter utilitário para escrever respostas HTTP
type ResponseWriter struct {
	logger *logger.Logger
}

func NewResponseWriter(log *logger.Logger) *ResponseWriter {
	return &ResponseWriter{logger: log}
}

func (rw *ResponseWriter) WriteSuccess(w http.ResponseWriter, data interface{}, message ...string) {
	response := &SuccessResponse{Success: true, Data: data}
	if len(message) > 0 {
		response.Message = message[0]
	}
	rw.writeJSON(w, http.StatusOK, response)
}

func (rw *ResponseWriter) WriteCreated(w http.ResponseWriter, data interface{}, message ...string) {
	response := &SuccessResponse{Success: true, Data: data}
	if len(message) > 0 {
		response.Message = message[0]
	}
	rw.writeJSON(w, http.StatusCreated, response)
}

func (rw *ResponseWriter) WriteError(w http.ResponseWriter, statusCode int, message string, details ...interface{}) {
	response := &ErrorResponse{Success: false, Error: message}
	if len(details) > 0 {
		response.Details = details[0]
	}
	rw.writeJSON(w, statusCode, response)
}

func (rw *ResponseWriter) WriteBadRequest(w http.ResponseWriter, message string, details ...interface{}) {
	rw.WriteError(w, http.StatusBadRequest, message, details...)
}

func (rw *ResponseWriter) WriteUnauthorized(w http.ResponseWriter, message string) {
	rw.WriteError(w, http.StatusUnauthorized, message)
}

func (rw *ResponseWriter) WriteForbidden(w http.ResponseWriter, message string) {
	rw.WriteError(w, http.StatusForbidden, message)
}

func (rw *ResponseWriter) WriteNotFound(w http.ResponseWriter, message string) {
	rw.WriteError(w, http.StatusNotFound, message)
}

func (rw *ResponseWriter) WriteInternalError(w http.ResponseWriter, message string) {
	rw.WriteError(w, http.StatusInternalServerError, message)
}

// WriteAppError mapeia erros de domínio para o status HTTP que carregam
func (rw *ResponseWriter) WriteAppError(w http.ResponseWriter, err error) {
	appErr := apperrors.GetAppError(err)
	if appErr.Code >= http.StatusInternalServerError {
		rw.logger.ErrorWithFields("Request failed", map[string]interface{}{
			"error": err.Error(),
		})
		// Não vazar detalhes internos na resposta
		rw.WriteError(w, appErr.Code, appErr.Message)
		return
	}
	if appErr.Details != "" {
		rw.WriteError(w, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	rw.WriteError(w, appErr.Code, appErr.Message)
}

func (rw *ResponseWriter) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		rw.logger.ErrorWithFields("Failed to encode JSON response", map[string]interface{}{
			"error":       err.Error(),
			"status_code": statusCode,
		})
	}
}
