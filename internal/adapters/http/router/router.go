package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"zapgate/internal/adapters/http/handler"
	"zapgate/internal/adapters/http/middleware"
	"zapgate/internal/infra/auth"
	"zapgate/internal/ports"
	"zapgate/platform/logger"
)

// Deps agrega tudo que as rotas precisam
type Deps struct {
	Logger    *logger.Logger
	Issuer    *auth.TokenIssuer
	Instances ports.InstanceRepository

	Auth     *handler.AuthHandler
	Instance *handler.InstanceHandler
	Webhook  *handler.WebhookHandler
	Message  *handler.MessageHandler
}

// SetupRoutes configura todas as rotas da aplicação
func SetupRoutes(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer(deps.Logger))
	r.Use(middleware.HTTPLogger(deps.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	setupHealthRoutes(r)

	// Lista pública dos eventos que um webhook pode assinar
	r.Get("/webhook/events", deps.Webhook.Events)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", deps.Auth.Register)
		r.Post("/login", deps.Auth.Login)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.UserAuth(deps.Issuer, deps.Logger))
		r.Get("/me", deps.Auth.Me)
	})

	// Rotas de gerenciamento autenticadas pelo JWT do usuário
	r.Route("/instances", func(r chi.Router) {
		r.Use(middleware.UserAuth(deps.Issuer, deps.Logger))

		r.Post("/", deps.Instance.Create)
		r.Get("/", deps.Instance.List)

		r.Route("/{instanceID}", func(r chi.Router) {
			r.Get("/", deps.Instance.Get)
			r.Delete("/", deps.Instance.Delete)
			r.Put("/settings", deps.Instance.UpdateSettings)

			r.Post("/connect", deps.Instance.Connect)
			r.Get("/qrcode", deps.Instance.GetQRCode)
			r.Post("/disconnect", deps.Instance.Disconnect)
			r.Post("/logout", deps.Instance.Logout)

			r.Route("/webhooks", func(r chi.Router) {
				r.Post("/", deps.Webhook.Create)
				r.Get("/", deps.Webhook.List)
				r.Put("/{webhookID}", deps.Webhook.Update)
				r.Put("/{webhookID}/enabled", deps.Webhook.SetEnabled)
				r.Delete("/{webhookID}", deps.Webhook.Delete)
			})
		})
	})

	// Rotas de mensagem autenticadas pelo token opaco da instância
	r.Route("/message", func(r chi.Router) {
		r.Use(middleware.InstanceAuth(deps.Instances, deps.Logger))

		r.Post("/send-text", deps.Message.SendText)
		r.Post("/send-image", deps.Message.SendImage)
		r.Post("/send-document", deps.Message.SendDocument)
		r.Get("/check-number", deps.Message.CheckNumber)
	})

	return r
}

func setupHealthRoutes(r *chi.Mux) {
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"zapgate"}`))
	})
}
