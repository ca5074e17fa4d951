package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"zapgate/internal/adapters/http/shared"
	"zapgate/internal/domain/instance"
	"zapgate/internal/infra/auth"
	"zapgate/internal/ports"
	apperrors "zapgate/pkg/errors"
	"zapgate/platform/logger"
)

type contextKey string

const (
	userClaimsContextKey contextKey = "user_claims"
	instanceContextKey   contextKey = "instance"
)

// UserAuth valida o JWT do usuário e injeta as claims no contexto
func UserAuth(issuer *auth.TokenIssuer, log *logger.Logger) func(http.Handler) http.Handler {
	writer := shared.NewResponseWriter(log)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				writer.WriteUnauthorized(w, "Authorization token is required")
				return
			}

			claims, err := issuer.Verify(token)
			if err != nil {
				log.WarnWithFields("Rejected user token", map[string]interface{}{
					"path":   r.URL.Path,
					"method": r.Method,
				})
				writer.WriteUnauthorized(w, "Invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), userClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InstanceAuth autentica rotas de mensagem pelo token opaco da instância.
// Instâncias bloqueadas ou inativas são rejeitadas antes do handler.
func InstanceAuth(instances ports.InstanceRepository, log *logger.Logger) func(http.Handler) http.Handler {
	writer := shared.NewResponseWriter(log)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				writer.WriteUnauthorized(w, "Instance token is required")
				return
			}

			inst, err := instances.GetByToken(r.Context(), token)
			if err != nil {
				if errors.Is(err, apperrors.ErrInstanceNotFound) {
					writer.WriteUnauthorized(w, "Invalid instance token")
					return
				}
				writer.WriteAppError(w, err)
				return
			}

			if inst.Blocked {
				writer.WriteAppError(w, apperrors.ErrInstanceBlocked)
				return
			}
			if !inst.IsActive {
				writer.WriteAppError(w, apperrors.ErrInstanceInactive)
				return
			}

			ctx := context.WithValue(r.Context(), instanceContextKey, inst)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserClaimsFromContext retorna as claims injetadas pelo UserAuth
func UserClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(userClaimsContextKey).(*auth.Claims)
	return claims, ok
}

// InstanceFromContext retorna a instância autenticada pelo InstanceAuth
func InstanceFromContext(ctx context.Context) (*instance.Instance, bool) {
	inst, ok := ctx.Value(instanceContextKey).(*instance.Instance)
	return inst, ok
}

func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return authHeader
}
