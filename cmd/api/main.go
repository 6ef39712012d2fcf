package main

// @title NovaMail API
// @version 1.0
// @description Enforcement gate for the NovaMail email-marketing platform: usage quotas, verification codes, payment webhooks.

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the session token.

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Mercury-nju/novamail-sub004/config"
	"github.com/Mercury-nju/novamail-sub004/pkg/container"
	custommw "github.com/Mercury-nju/novamail-sub004/pkg/middleware"
)

func main() {
	cfg := config.Load()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			AttachStacktrace: true,
		}); err != nil {
			log.Printf("failed to initialize sentry: %v", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	c, err := container.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}
	defer c.Close()

	e := echo.New()
	e.HideBanner = true

	// Rate limiters: tight buckets for the endpoints that mint or consume
	// codes, a wide one for webhooks (providers burst on retry).
	globalLimiter := custommw.NewRateLimiter(cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurst)
	authLimiter := custommw.NewRateLimiter(5, 2)
	webhookLimiter := custommw.NewRateLimiter(100, 20)

	e.Use(middleware.Recover())
	if cfg.SentryDSN != "" {
		e.Use(sentryecho.New(sentryecho.Options{Repanic: true}))
	}
	e.Use(c.Metrics.Middleware())
	e.Use(custommw.SecurityHeaders())
	e.Use(globalLimiter.Middleware())

	// Health & metrics
	e.GET("/health", func(ec echo.Context) error {
		return ec.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Public auth endpoints
	authGroup := e.Group("/api/auth")
	authGroup.POST("/send-verification", c.AuthHandler.SendVerification, authLimiter.Middleware())
	authGroup.POST("/register", c.AuthHandler.Register, authLimiter.Middleware())
	authGroup.POST("/login", c.AuthHandler.Login, authLimiter.Middleware())

	// Authenticated endpoints
	userGroup := e.Group("/api/user", custommw.JWT(cfg.JWTSecret))
	userGroup.POST("/check-permission", c.UserHandler.CheckPermission)
	userGroup.POST("/update-usage", c.UserHandler.UpdateUsage)
	userGroup.GET("/usage", c.UserHandler.GetUsage)

	campaignGroup := e.Group("/api/campaigns", custommw.JWT(cfg.JWTSecret))
	campaignGroup.POST("/send", c.CampaignHandler.SendCampaign)

	// Admin endpoints
	adminGroup := e.Group("/api/admin", custommw.JWT(cfg.JWTSecret), custommw.RequireAdmin(c.Accounts))
	adminGroup.GET("/accounts/:id", c.AdminHandler.GetAccount)

	// Payment provider webhooks: no session auth, signature-verified inside.
	webhookGroup := e.Group("/webhooks", webhookLimiter.Middleware())
	webhookGroup.POST("/stripe", c.BillingHandler.StripeWebhook)
	webhookGroup.POST("/:provider", c.BillingHandler.ProviderWebhook)

	if err := c.Cron.SetupJobs(); err != nil {
		log.Fatalf("failed to set up cron jobs: %v", err)
	}
	c.Cron.Start()
	defer c.Cron.Stop()

	// Start server with graceful shutdown
	go func() {
		addr := cfg.APIHost + ":" + cfg.APIPort
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
}
