package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"zapgate/internal/adapters/http/middleware"
	"zapgate/internal/adapters/http/shared"
	"zapgate/internal/domain/user"
	"zapgate/internal/infra/auth"
	"zapgate/internal/ports"
	apperrors "zapgate/pkg/errors"
	"zapgate/platform/logger"
)

// AuthHandler implementa registro e login de usuários
type AuthHandler struct {
	*shared.BaseHandler
	users  ports.UserRepository
	issuer *auth.TokenIssuer
}

func NewAuthHandler(users ports.UserRepository, issuer *auth.TokenIssuer, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		BaseHandler: shared.NewBaseHandler(log),
		users:       users,
		issuer:      issuer,
	}
}

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,min=2"`
	Email    string `json:"email" validate:"required,email"`
	Document string `json:"document" validate:"required,min=3"`
	Password string `json:"password" validate:"required,min=8"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	Token string     `json:"token"`
	User  *user.User `json:"user"`
}

// Register cria um usuário com trial de 7 dias e já retorna o token
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	h.LogRequest(r, "register user")

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.GetWriter().WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := h.GetValidator().ValidateStruct(&req); err != nil {
		h.GetWriter().WriteBadRequest(w, "Validation failed", err.Error())
		return
	}

	exists, err := h.users.ExistsByEmailOrDocument(r.Context(), req.Email, req.Document)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}
	if exists {
		h.GetWriter().WriteAppError(w, apperrors.ErrUserAlreadyExists)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	u := user.New(req.Name, req.Email, req.Document, hash)
	if err := h.users.Create(r.Context(), u); err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	token, err := h.issuer.Issue(u.ID, u.IsAdmin)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	h.GetLogger().InfoWithFields("User registered", map[string]interface{}{
		"user_id": u.ID.String(),
	})

	h.GetWriter().WriteCreated(w, &AuthResponse{Token: token, User: u})
}

// Login autentica por email e senha
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	h.LogRequest(r, "login user")

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.GetWriter().WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := h.GetValidator().ValidateStruct(&req); err != nil {
		h.GetWriter().WriteBadRequest(w, "Validation failed", err.Error())
		return
	}

	u, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, apperrors.ErrUserNotFound) {
			h.GetWriter().WriteUnauthorized(w, "Invalid credentials")
			return
		}
		h.GetWriter().WriteAppError(w, err)
		return
	}

	if !auth.CheckPassword(u.Password, req.Password) {
		h.GetWriter().WriteUnauthorized(w, "Invalid credentials")
		return
	}

	token, err := h.issuer.Issue(u.ID, u.IsAdmin)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}

	h.GetWriter().WriteSuccess(w, &AuthResponse{Token: token, User: u})
}

// Me retorna o perfil do usuário autenticado
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	h.LogRequest(r, "get current user")

	claims, ok := middleware.UserClaimsFromContext(r.Context())
	if !ok {
		h.GetWriter().WriteUnauthorized(w, "Unauthorized")
		return
	}

	u, err := h.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		h.GetWriter().WriteAppError(w, err)
		return
	}
	h.GetWriter().WriteSuccess(w, u)
}
