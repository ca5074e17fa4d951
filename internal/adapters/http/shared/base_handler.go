package shared

import (
	"net/http"

	"zapgate/platform/logger"
)

// BaseHandler agrega as dependências comuns a todos os handlers REST
type BaseHandler struct {
	logger    *logger.Logger
	writer    *ResponseWriter
	validator *Validator
}

func NewBaseHandler(log *logger.Logger) *BaseHandler {
	return &BaseHandler{
		logger:    log,
		writer:    NewResponseWriter(log),
		validator: NewValidator(),
	}
}

func (h *BaseHandler) GetWriter() *ResponseWriter {
	return h.writer
}

func (h *BaseHandler) GetValidator() *Validator {
	return h.validator
}

func (h *BaseHandler) GetLogger() *logger.Logger {
	return h.logger
}

func (h *BaseHandler) LogRequest(r *http.Request, operation string) {
	h.logger.DebugWithFields("Handling request", map[string]interface{}{
		"operation": operation,
		"method":    r.Method,
		"path":      r.URL.Path,
	})
}
