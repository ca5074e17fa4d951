package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"zapgate/internal/adapters/database/postgres"
	"zapgate/internal/adapters/http/handler"
	"zapgate/internal/adapters/http/router"
	"zapgate/internal/adapters/waclient"
	"zapgate/internal/infra/auth"
	webhookdispatch "zapgate/internal/infra/integrations/webhook"
	"zapgate/internal/infra/tasks"
	"zapgate/internal/infra/whatsapp"
	"zapgate/internal/ports"
	"zapgate/platform/config"
	"zapgate/platform/database"
	"zapgate/platform/logger"
)

// Container é o container principal de Dependency Injection
type Container struct {
	config   *config.Config
	logger   *logger.Logger
	database *database.Database

	// Pool separado para o device store do whatsmeow quando WA_STORE_URL
	// aponta para outro banco; nil quando o store mora no banco principal.
	storeDatabase *database.Database

	instanceRepo ports.InstanceRepository
	webhookRepo  ports.WebhookRepository
	userRepo     ports.UserRepository

	issuer     *auth.TokenIssuer
	dispatcher *webhookdispatch.Dispatcher
	registry   *whatsapp.Registry
	controller *whatsapp.Controller
	trialSweep *tasks.TrialSweep
}

// Config estrutura de configuração para o container
type Config struct {
	AppConfig *config.Config
	Logger    *logger.Logger
	Database  *database.Database
}

// New cria uma nova instância do container
func New(ctx context.Context, cfg *Config) (*Container, error) {
	c := &Container{
		config:   cfg.AppConfig,
		logger:   cfg.Logger,
		database: cfg.Database,
	}

	if err := c.initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize container: %w", err)
	}

	cfg.Logger.Info("Dependency injection container initialized successfully")
	return c, nil
}

func (c *Container) initialize(ctx context.Context) error {
	c.logger.Debug("Initializing container...")

	// 1. Repositories
	c.instanceRepo = postgres.NewInstanceRepository(c.database.DB)
	c.webhookRepo = postgres.NewWebhookRepository(c.database.DB)
	c.userRepo = postgres.NewUserRepository(c.database.DB)

	// 2. Auth
	c.issuer = auth.NewTokenIssuer(
		c.config.JWT.Secret,
		time.Duration(c.config.JWT.ExpiresIn)*time.Second,
	)

	// 3. Webhook dispatcher
	c.dispatcher = webhookdispatch.NewDispatcher(c.webhookRepo, c.logger)

	// 4. WhatsApp engine factory. O device store usa o banco da aplicação a
	// não ser que WA_STORE_URL aponte para outro lugar.
	storeDB := c.database
	if c.config.WhatsApp.StoreURL != c.config.Database.URL {
		storeCfg := c.config.Database
		storeCfg.URL = c.config.WhatsApp.StoreURL
		sep, err := database.New(storeCfg, c.logger)
		if err != nil {
			return fmt.Errorf("failed to connect device store database: %w", err)
		}
		c.storeDatabase = sep
		storeDB = sep
		c.logger.Info("Using dedicated device store database")
	}

	factory, err := waclient.NewFactory(ctx, storeDB.DB, c.instanceRepo, c.logger)
	if err != nil {
		return fmt.Errorf("failed to create WhatsApp client factory: %w", err)
	}

	// 5. Registry + lifecycle controller
	c.registry = whatsapp.NewRegistry()
	c.controller = whatsapp.NewController(
		c.registry,
		factory,
		c.instanceRepo,
		c.dispatcher,
		c.logger,
		whatsapp.WithStartTimeout(time.Duration(c.config.WhatsApp.StartTimeout)*time.Second),
		whatsapp.WithProfileRefreshInterval(time.Duration(c.config.WhatsApp.ProfileRefreshInterval)*time.Second),
	)

	// 6. Trial sweep
	c.trialSweep = tasks.NewTrialSweep(
		c.userRepo,
		c.instanceRepo,
		c.dispatcher,
		c.controller,
		c.logger,
		c.config.WhatsApp.TrialSweepSchedule,
	)

	c.logger.Debug("Container initialized successfully")
	return nil
}

func (c *Container) GetConfig() *config.Config {
	return c.config
}

func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

func (c *Container) GetDatabase() *database.Database {
	return c.database
}

func (c *Container) GetController() *whatsapp.Controller {
	return c.controller
}

// Start inicia os componentes de fundo e retoma sessões derrubadas pelo
// sistema no último shutdown
func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("Starting container components...")

	if err := c.trialSweep.Start(ctx); err != nil {
		return fmt.Errorf("failed to start trial sweep: %w", err)
	}

	go c.controller.ResumeSystemDisconnected(ctx)

	c.logger.Info("Container components started successfully")
	return nil
}

// Stop para todos os componentes gracefully
func (c *Container) Stop(ctx context.Context) error {
	c.logger.Info("Stopping container components...")

	c.trialSweep.Stop()
	c.controller.Shutdown(ctx)
	c.dispatcher.Wait()

	if c.storeDatabase != nil {
		if err := c.storeDatabase.Close(); err != nil {
			c.logger.ErrorWithFields("Failed to close device store database connection", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	if err := c.database.Close(); err != nil {
		c.logger.ErrorWithFields("Failed to close database connection", map[string]interface{}{
			"error": err.Error(),
		})
	}

	c.logger.Info("Container components stopped successfully")
	return nil
}

// Handler retorna um handler HTTP completo com todas as rotas
func (c *Container) Handler() http.Handler {
	instanceHandler := handler.NewInstanceHandler(c.instanceRepo, c.webhookRepo, c.userRepo, c.controller, c.logger)

	return router.SetupRoutes(router.Deps{
		Logger:    c.logger,
		Issuer:    c.issuer,
		Instances: c.instanceRepo,
		Auth:      handler.NewAuthHandler(c.userRepo, c.issuer, c.logger),
		Instance:  instanceHandler,
		Webhook:   handler.NewWebhookHandler(c.webhookRepo, instanceHandler, c.logger),
		Message:   handler.NewMessageHandler(c.controller, c.logger),
	})
}
