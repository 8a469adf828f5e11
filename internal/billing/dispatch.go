package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"courseplatform.app/api/internal/license"
	"courseplatform.app/api/internal/logger"
	"courseplatform.app/api/models"
	"courseplatform.app/api/storage"
	"github.com/stripe/stripe-go/v82"
)

// LicenseReconciler applies payment events to licenses.
type LicenseReconciler interface {
	HandleCheckoutCompleted(ctx context.Context, ev license.CheckoutCompleted) (*models.License, error)
	HandleInvoicePaid(ctx context.Context, subscriptionID string) (*models.License, error)
	HandleSubscriptionDeleted(ctx context.Context, subscriptionID string) (*models.License, error)
}

// Dispatcher routes verified Stripe events to the license lifecycle or to
// the plan membership updater for non-license subscriptions.
type Dispatcher struct {
	Licenses LicenseReconciler
	Storage  storage.Storage
	Now      func() time.Time
}

func NewDispatcher(licenses LicenseReconciler, store storage.Storage) *Dispatcher {
	return &Dispatcher{
		Licenses: licenses,
		Storage:  store,
		Now:      time.Now,
	}
}

// Dispatch applies one event. Unknown event types are ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return fmt.Errorf("failed to decode checkout session: %w", err)
		}
		return d.checkoutCompleted(ctx, &cs)

	case stripe.EventTypeInvoicePaid:
		var inv invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("failed to decode invoice: %w", err)
		}
		subscriptionID := inv.subscriptionID()
		if subscriptionID == "" {
			logger.Debug("Invoice without subscription ignored", map[string]interface{}{
				"invoice_id": inv.ID,
			})
			return nil
		}
		_, err := d.Licenses.HandleInvoicePaid(ctx, subscriptionID)
		return err

	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("failed to decode subscription: %w", err)
		}
		return d.subscriptionDeleted(ctx, &sub)

	default:
		logger.Info("Unhandled webhook event type", map[string]interface{}{
			"event_type": string(event.Type),
			"event_id":   event.ID,
		})
		return nil
	}
}

func (d *Dispatcher) checkoutCompleted(ctx context.Context, cs *stripe.CheckoutSession) error {
	var customerID, subscriptionID string
	if cs.Customer != nil {
		customerID = cs.Customer.ID
	}
	if cs.Subscription != nil {
		subscriptionID = cs.Subscription.ID
	}

	userID := cs.Metadata[MetaUserID]
	if userID == "" {
		userID = cs.ClientReferenceID
	}

	switch {
	case cs.Metadata[MetaType] == MetaTypeLicense:
		_, err := d.Licenses.HandleCheckoutCompleted(ctx, license.CheckoutCompleted{
			SessionID:      cs.ID,
			SubscriptionID: subscriptionID,
			CustomerID:     customerID,
			UserID:         userID,
			LicenseType:    models.LicenseType(cs.Metadata[MetaLicenseType]),
			PriceID:        cs.Metadata[MetaPriceID],
		})
		return err

	case cs.Metadata[MetaType] == MetaTypePlan,
		cs.Metadata[MetaType] == "" && cs.Mode == stripe.CheckoutSessionModeSubscription:
		return d.updatePlan(ctx, userID, customerID, cs.Metadata[MetaPlan])

	default:
		logger.Info("Checkout session ignored", map[string]interface{}{
			"session_id": cs.ID,
			"mode":       string(cs.Mode),
		})
		return nil
	}
}

// updatePlan is the membership tier path for plan subscriptions.
func (d *Dispatcher) updatePlan(ctx context.Context, userID, customerID, plan string) error {
	user, err := d.findUser(ctx, userID, customerID)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("no user for plan checkout (user %q, customer %q)", userID, customerID)
	}

	plan = strings.ToLower(strings.TrimSpace(plan))
	if plan == "" {
		plan = models.TierPremium
	}

	user.MembershipTier = plan
	if customerID != "" {
		user.StripeCustomerID = customerID
	}
	user.UpdatedAt = d.Now().UTC()
	if err := d.Storage.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to update membership tier: %w", err)
	}

	logger.Info("Membership tier updated", map[string]interface{}{
		"user_id": user.ID,
		"tier":    plan,
	})
	return nil
}

func (d *Dispatcher) subscriptionDeleted(ctx context.Context, sub *stripe.Subscription) error {
	if _, err := d.Licenses.HandleSubscriptionDeleted(ctx, sub.ID); err != nil {
		return err
	}

	if sub.Customer == nil || sub.Customer.ID == "" {
		return nil
	}
	user, err := d.Storage.FindUserByStripeCustomer(ctx, sub.Customer.ID)
	if err != nil {
		return fmt.Errorf("failed to find customer: %w", err)
	}
	if user == nil || user.MembershipTier == models.TierFree {
		return nil
	}

	user.MembershipTier = models.TierFree
	user.UpdatedAt = d.Now().UTC()
	if err := d.Storage.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to downgrade membership tier: %w", err)
	}

	logger.Info("Membership tier downgraded", map[string]interface{}{
		"user_id":         user.ID,
		"subscription_id": sub.ID,
	})
	return nil
}

func (d *Dispatcher) findUser(ctx context.Context, userID, customerID string) (*models.User, error) {
	if userID != "" {
		user, err := d.Storage.GetUser(ctx, userID)
		if err != nil || user != nil {
			return user, err
		}
	}
	if customerID != "" {
		return d.Storage.FindUserByStripeCustomer(ctx, customerID)
	}
	return nil, nil
}

// invoice decodes the subscription id from both the flat field of older API
// versions and the parent.subscription_details block of newer ones.
type invoice struct {
	ID           string     `json:"id"`
	Subscription expandable `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription expandable `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (inv *invoice) subscriptionID() string {
	if inv.Subscription != "" {
		return string(inv.Subscription)
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return string(inv.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

// expandable is an object id that may arrive as a string or an expanded object.
type expandable string

func (e *expandable) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*e = expandable(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandable(obj.ID)
	return nil
}
