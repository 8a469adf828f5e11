package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"courseplatform.app/api/handlers"
	"courseplatform.app/api/internal/access"
	"courseplatform.app/api/internal/auth"
	"courseplatform.app/api/internal/billing"
	"courseplatform.app/api/internal/config"
	"courseplatform.app/api/internal/courses"
	"courseplatform.app/api/internal/license"
	"courseplatform.app/api/internal/logger"
	"courseplatform.app/api/internal/ratelimit"
	"courseplatform.app/api/internal/session"
	"courseplatform.app/api/models"
	"courseplatform.app/api/storage"
	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/stripe/stripe-go/v82"
)

var version = "dev"

func main() {
	if versionBytes, err := os.ReadFile("VERSION"); err == nil {
		version = strings.TrimSpace(string(versionBytes))
	}

	cfg, err := config.New()
	if err != nil {
		logger.Error("Invalid configuration", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	err = sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		Release:          version,
		TracesSampleRate: 1.0,
	})
	if err != nil {
		logger.Error("Failed to initialize Sentry", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}
	defer sentry.Flush(2 * time.Second)

	store, err := storage.NewSQLiteStorage(cfg.DatabaseURL)
	if err != nil {
		logger.Error("Failed to open database", map[string]interface{}{
			"database": cfg.DatabaseURL,
			"error":    err.Error(),
		})
		os.Exit(1)
	}
	defer store.Close()

	server, err := newServer(cfg, store, nil)
	if err != nil {
		logger.Error("Failed to build server", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           sentryHandler.Handle(server),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("Course platform API starting", map[string]interface{}{
			"version":     version,
			"port":        cfg.Port,
			"environment": cfg.Environment,
			"payments":    cfg.StripeSecret != "",
		})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", map[string]interface{}{
				"error": err.Error(),
			})
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Graceful shutdown failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// newServer wires the services. A nil backend talks to the live Stripe API.
func newServer(cfg *config.Config, store storage.Storage, backend stripe.Backend) (*handlers.Server, error) {
	sessions, err := session.NewManager([]byte(cfg.SessionSecret), cfg.SessionTTL)
	if err != nil {
		return nil, err
	}

	prices, err := billing.NewPrices(
		map[models.LicenseType]string{
			models.LicenseSingle:       cfg.PriceSingle,
			models.LicenseFamily:       cfg.PriceFamily,
			models.LicenseOrganization: cfg.PriceOrganization,
		},
		map[models.LicenseType]string{
			models.LicenseSingle:       cfg.DisplayPriceSingle,
			models.LicenseFamily:       cfg.DisplayPriceFamily,
			models.LicenseOrganization: cfg.DisplayPriceOrganization,
		},
		cfg.Currency,
	)
	if err != nil {
		return nil, err
	}

	gateway := billing.NewStripeGateway(billing.GatewayConfig{
		SecretKey:  cfg.StripeSecret,
		SuccessURL: cfg.CheckoutSuccessURL,
		CancelURL:  cfg.CheckoutCancelURL,
	}, prices)
	if backend != nil {
		gateway.WithBackend(backend)
	}
	licenses := license.NewService(store, gateway)

	catalog, err := courses.LoadCatalog(cfg.CourseCatalogPath)
	if err != nil {
		return nil, err
	}

	return handlers.NewHttpServer(handlers.Dependencies{
		Storage:        store,
		Auth:           auth.NewService(store, sessions),
		Sessions:       sessions,
		Licenses:       licenses,
		Courses:        courses.NewService(catalog, store, licenses),
		Gate:           access.NewGate(catalog, licenses, store),
		Prices:         prices,
		Webhooks:       billing.NewLedger(store, billing.NewDispatcher(licenses, store), cfg.WebhookMaxAttempts),
		WebhookSecret:  cfg.StripeWebhookSecret,
		AdminToken:     cfg.AdminToken,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Limiter:        ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow),
		Version:        version,
	}), nil
}
