package billing

import (
	"context"
	"errors"
	"fmt"

	"courseplatform.app/api/internal/license"
	"courseplatform.app/api/internal/logger"
	"courseplatform.app/api/models"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
)

// Metadata keys written on checkout sessions and their subscriptions.
const (
	MetaType        = "type"
	MetaUserID      = "userId"
	MetaLicenseType = "licenseType"
	MetaPriceID     = "priceId"
	MetaPlan        = "plan"

	MetaTypeLicense = "license"
	MetaTypePlan    = "plan"
)

type GatewayConfig struct {
	SecretKey  string
	SuccessURL string
	CancelURL  string
}

// StripeGateway opens hosted subscription checkouts.
type StripeGateway struct {
	prices  *Prices
	config  GatewayConfig
	backend stripe.Backend
}

func NewStripeGateway(cfg GatewayConfig, prices *Prices) *StripeGateway {
	return &StripeGateway{
		prices:  prices,
		config:  cfg,
		backend: stripe.GetBackend(stripe.APIBackend),
	}
}

// WithBackend points the gateway at another API backend, for tests.
func (g *StripeGateway) WithBackend(backend stripe.Backend) *StripeGateway {
	g.backend = backend
	return g
}

func (g *StripeGateway) Configured() bool {
	return g.config.SecretKey != ""
}

func (g *StripeGateway) PriceID(lt models.LicenseType) string {
	if g.prices == nil {
		return ""
	}
	return g.prices.PriceID(lt)
}

func (g *StripeGateway) CreateSubscriptionCheckout(ctx context.Context, req license.CheckoutRequest) (string, error) {
	if !g.Configured() {
		return "", errors.New("stripe secret key not configured")
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(g.config.SuccessURL),
		CancelURL:         stripe.String(g.config.CancelURL),
		ClientReferenceID: stripe.String(req.UserID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				MetaType:        MetaTypeLicense,
				MetaUserID:      req.UserID,
				MetaLicenseType: string(req.LicenseType),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata(MetaType, MetaTypeLicense)
	params.AddMetadata(MetaUserID, req.UserID)
	params.AddMetadata(MetaLicenseType, string(req.LicenseType))
	params.AddMetadata(MetaPriceID, req.PriceID)

	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}

	client := session.Client{B: g.backend, Key: g.config.SecretKey}
	cs, err := client.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	logger.Info("Checkout session created", map[string]interface{}{
		"session_id":   cs.ID,
		"user_id":      req.UserID,
		"license_type": string(req.LicenseType),
	})
	return cs.URL, nil
}
