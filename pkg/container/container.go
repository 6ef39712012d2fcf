package container

import (
	"context"

	"github.com/Mercury-nju/novamail-sub004/config"
	"github.com/Mercury-nju/novamail-sub004/pkg/api/handlers"
	"github.com/Mercury-nju/novamail-sub004/pkg/billing"
	"github.com/Mercury-nju/novamail-sub004/pkg/cache"
	"github.com/Mercury-nju/novamail-sub004/pkg/campaigns"
	"github.com/Mercury-nju/novamail-sub004/pkg/database"
	"github.com/Mercury-nju/novamail-sub004/pkg/domain"
	"github.com/Mercury-nju/novamail-sub004/pkg/email"
	"github.com/Mercury-nju/novamail-sub004/pkg/gate"
	"github.com/Mercury-nju/novamail-sub004/pkg/jobs"
	"github.com/Mercury-nju/novamail-sub004/pkg/logger"
	"github.com/Mercury-nju/novamail-sub004/pkg/metrics"
	"github.com/Mercury-nju/novamail-sub004/pkg/quota"
	"github.com/Mercury-nju/novamail-sub004/pkg/verification"
	"github.com/Mercury-nju/novamail-sub004/pkg/webhook"
)

// Container holds all application dependencies
type Container struct {
	Config  *config.Config
	Logger  logger.Logger
	Metrics *metrics.Metrics

	// Infrastructure
	DB    *database.Client
	Cache *cache.Client

	// Stores
	Accounts domain.AccountStore
	Codes    domain.CodeStore
	Events   domain.EventStore

	// Services
	Tracker        *quota.Tracker
	Gate           *gate.Gate
	BillingService *billing.Service
	EmailService   *email.Service
	CampaignSender domain.CampaignSender
	Cron           *jobs.CronManager

	// Handlers
	AuthHandler     *handlers.AuthHandler
	UserHandler     *handlers.UserHandler
	BillingHandler  *handlers.BillingHandler
	CampaignHandler *handlers.CampaignHandler
	AdminHandler    *handlers.AdminHandler
}

// New creates and initializes all application dependencies
func New(cfg *config.Config) (*Container, error) {
	c := &Container{
		Config:  cfg,
		Logger:  logger.New(cfg.LogLevel),
		Metrics: metrics.New(),
	}

	if err := c.initInfrastructure(); err != nil {
		return nil, err
	}

	c.initServices()
	c.initHandlers()

	c.Logger.Info("container initialized",
		"environment", cfg.APIEnvironment,
		"database", "connected",
		"cache", "connected")

	return c, nil
}

// initInfrastructure initializes database and cache connections
func (c *Container) initInfrastructure() error {
	db, err := database.NewClient(c.Config.DatabaseURL)
	if err != nil {
		c.Logger.Error("failed to connect to database", "error", err)
		return err
	}
	if err := db.EnsureSchema(context.Background()); err != nil {
		c.Logger.Error("failed to ensure schema", "error", err)
		return err
	}
	c.DB = db

	cacheClient, err := cache.NewClient(c.Config.RedisURL)
	if err != nil {
		c.Logger.Error("failed to connect to redis", "error", err)
		return err
	}
	c.Cache = cacheClient

	return nil
}

// initServices initializes stores and domain services
func (c *Container) initServices() {
	c.Accounts = database.NewAccountStore(c.DB)
	c.Codes = verification.NewStore(c.Cache)
	c.Events = webhook.NewEventLog(c.Cache)

	c.Tracker = quota.NewTracker(c.Accounts)
	c.Gate = gate.New(c.Tracker, c.Logger)

	billingCfg := &billing.Config{
		StripeSecretKey:     c.Config.StripeSecretKey,
		StripeWebhookSecret: c.Config.StripeWebhookSecret,
		ProviderSecrets:     map[string]string{},
	}
	if c.Config.ProviderWebhookSecret != "" {
		billingCfg.ProviderSecrets["generic"] = c.Config.ProviderWebhookSecret
	}
	c.BillingService = billing.NewService(c.Accounts, c.Events, billingCfg, c.Logger)

	c.EmailService = email.NewService(c.Config.EmailFrom, c.Config.EmailFromName, c.Config.SendGridAPIKey, c.Logger)
	c.CampaignSender = campaigns.NewLogSender(c.Logger)

	c.Cron = jobs.NewCronManager(c.Codes, c.Accounts, c.Tracker, c.Logger)
}

// initHandlers initializes HTTP handlers
func (c *Container) initHandlers() {
	c.AuthHandler = handlers.NewAuthHandler(c.Accounts, c.Codes, c.EmailService, c.Config, c.Metrics, c.Logger)
	c.UserHandler = handlers.NewUserHandler(c.Tracker, c.Accounts, c.Metrics)
	c.BillingHandler = handlers.NewBillingHandler(c.BillingService, c.Metrics)
	c.CampaignHandler = handlers.NewCampaignHandler(c.Gate, c.CampaignSender, c.Metrics)
	c.AdminHandler = handlers.NewAdminHandler(c.Accounts)
}

// Close releases infrastructure resources
func (c *Container) Close() {
	if c.Cache != nil {
		_ = c.Cache.Close()
	}
	if c.DB != nil {
		_ = c.DB.Close()
	}
}
