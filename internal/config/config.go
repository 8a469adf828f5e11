package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port string `envconfig:"PORT" default:"8080"`

	DatabaseURL string `envconfig:"DATABASE_URL" default:"courseplatform.db"`

	// Stripe credentials are optional at boot; purchases report a
	// misconfiguration instead of failing startup.
	StripeSecret        string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`

	PriceSingle       string `envconfig:"STRIPE_PRICE_SINGLE"`
	PriceFamily       string `envconfig:"STRIPE_PRICE_FAMILY"`
	PriceOrganization string `envconfig:"STRIPE_PRICE_ORGANIZATION"`

	DisplayPriceSingle       string `envconfig:"LICENSE_DISPLAY_PRICE_SINGLE" default:"49.00"`
	DisplayPriceFamily       string `envconfig:"LICENSE_DISPLAY_PRICE_FAMILY" default:"149.00"`
	DisplayPriceOrganization string `envconfig:"LICENSE_DISPLAY_PRICE_ORGANIZATION"`
	Currency                 string `envconfig:"LICENSE_CURRENCY" default:"usd"`

	CheckoutSuccessURL string `envconfig:"CHECKOUT_SUCCESS_URL" default:"http://localhost:3000/licenses?checkout=success"`
	CheckoutCancelURL  string `envconfig:"CHECKOUT_CANCEL_URL" default:"http://localhost:3000/licenses?checkout=cancelled"`

	SessionSecret string        `envconfig:"SESSION_SECRET"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"4h"`

	AdminToken string `envconfig:"ADMIN_TOKEN"`

	WebhookMaxAttempts int `envconfig:"WEBHOOK_MAX_ATTEMPTS" default:"5"`

	CourseCatalogPath string `envconfig:"COURSE_CATALOG_PATH"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`

	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"10m"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"INFO"`
}

// MinSessionSecretLen matches the HS256 key size.
const MinSessionSecretLen = 32

// New loads .env (when present) and the process environment.
func New() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var result *multierror.Error

	if c.DatabaseURL == "" {
		result = multierror.Append(result, errors.New("DATABASE_URL environment variable is required"))
	}
	if len(c.SessionSecret) < MinSessionSecretLen {
		result = multierror.Append(result, fmt.Errorf("SESSION_SECRET must be at least %d bytes", MinSessionSecretLen))
	}
	if c.SessionTTL <= 0 {
		result = multierror.Append(result, errors.New("SESSION_TTL must be positive"))
	}
	if c.WebhookMaxAttempts < 1 {
		result = multierror.Append(result, errors.New("WEBHOOK_MAX_ATTEMPTS must be at least 1"))
	}
	if c.StripeSecret != "" && c.StripeWebhookSecret == "" {
		result = multierror.Append(result, errors.New("STRIPE_WEBHOOK_SECRET environment variable is required when STRIPE_SECRET_KEY is set"))
	}

	return result.ErrorOrNil()
}
