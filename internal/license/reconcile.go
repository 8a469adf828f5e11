package license

import (
	"context"
	"errors"

	"courseplatform.app/api/internal/apperr"
	"courseplatform.app/api/internal/logger"
	"courseplatform.app/api/models"
	"courseplatform.app/api/storage"
	"github.com/google/uuid"
)

// CheckoutCompleted carries the fields of a completed license checkout.
type CheckoutCompleted struct {
	SessionID      string
	SubscriptionID string
	CustomerID     string
	UserID         string
	LicenseType    models.LicenseType
	PriceID        string
}

// HandleCheckoutCompleted creates the license for a subscription, or renews it
// when one already exists. Replays and concurrent deliveries of the same
// checkout end with a single license row.
func (s *Service) HandleCheckoutCompleted(ctx context.Context, ev CheckoutCompleted) (*models.License, error) {
	if ev.SubscriptionID == "" {
		return nil, ErrMissingSubscription
	}
	lt, ok := models.ParseLicenseType(string(ev.LicenseType))
	if !ok {
		return nil, ErrUnsupportedType
	}

	existing, err := s.Storage.FindLicenseBySubscription(ctx, ev.SubscriptionID)
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	if existing != nil {
		return s.renew(ctx, existing)
	}

	user, err := s.user(ctx, ev.UserID)
	if err != nil {
		return nil, err
	}

	license, err := s.createLicense(ctx, user, lt, ev)
	if err != nil {
		return nil, err
	}

	if ev.CustomerID != "" && user.StripeCustomerID == "" {
		user.StripeCustomerID = ev.CustomerID
		user.UpdatedAt = s.now()
		if err := s.Storage.UpdateUser(ctx, user); err != nil {
			logger.Warn("Failed to store customer id", map[string]interface{}{
				"user_id": user.ID,
				"error":   err.Error(),
			})
		}
	}

	return license, nil
}

func (s *Service) createLicense(ctx context.Context, owner *models.User, lt models.LicenseType, ev CheckoutCompleted) (*models.License, error) {
	now := s.now()
	expires := now.AddDate(1, 0, 0)
	base := KeyBase(owner)

	attempts := s.MaxKeyAttempts
	if attempts <= 0 {
		attempts = MaxKeyAttempts
	}

	for attempt := 0; attempt <= attempts; attempt++ {
		license := &models.License{
			ID:                   uuid.Must(uuid.NewRandom()).String(),
			OwnerID:              owner.ID,
			Type:                 lt,
			Key:                  KeyCandidate(base, attempt),
			Status:               models.StatusActive,
			MaxUsers:             lt.MaxUsers(),
			ExpiresAt:            &expires,
			StripeSubscriptionID: ev.SubscriptionID,
			StripeCustomerID:     ev.CustomerID,
			StripePriceID:        ev.PriceID,
			PurchasedAt:          now,
			ActivatedAt:          &now,
			CreatedAt:            now,
			UpdatedAt:            now,
		}

		err := s.Storage.CreateLicense(ctx, license)
		switch {
		case err == nil:
			logger.Info("License created", map[string]interface{}{
				"license_id":      license.ID,
				"owner_id":        owner.ID,
				"license_type":    string(lt),
				"subscription_id": ev.SubscriptionID,
				"attempt":         attempt,
			})
			return license, nil
		case errors.Is(err, storage.ErrDuplicateKey):
			continue
		case errors.Is(err, storage.ErrDuplicateSubscription):
			// A concurrent delivery of the same checkout got there first.
			winner, err := s.Storage.FindLicenseBySubscription(ctx, ev.SubscriptionID)
			if err != nil {
				return nil, apperr.Upstream(err)
			}
			if winner == nil {
				return nil, apperr.Upstream(errors.New("license vanished after duplicate subscription"))
			}
			return winner, nil
		case errors.Is(err, storage.ErrNotFound):
			return nil, ErrUserNotFound
		default:
			return nil, apperr.Upstream(err)
		}
	}

	logger.Error("License key space exhausted", map[string]interface{}{
		"owner_id": owner.ID,
		"attempts": attempts + 1,
	})
	return nil, ErrKeySpaceExhausted
}

// renew reactivates the license and sets its expiration one year from now,
// whatever the previous status or expiration was.
func (s *Service) renew(ctx context.Context, license *models.License) (*models.License, error) {
	now := s.now()
	expires := now.AddDate(1, 0, 0)

	previous := license.Status
	license.Status = models.StatusActive
	license.ExpiresAt = &expires
	license.UpdatedAt = now
	if license.ActivatedAt == nil {
		license.ActivatedAt = &now
	}

	if err := s.Storage.UpdateLicense(ctx, license); err != nil {
		return nil, apperr.Upstream(err)
	}

	logger.Info("License renewed", map[string]interface{}{
		"license_id":      license.ID,
		"subscription_id": license.StripeSubscriptionID,
		"previous_status": string(previous),
		"expires_at":      expires,
	})
	return license, nil
}

// HandleInvoicePaid renews the license bound to the subscription. An invoice
// that arrives before its checkout event finds no license and is a no-op;
// the checkout event then creates the license with a full year.
func (s *Service) HandleInvoicePaid(ctx context.Context, subscriptionID string) (*models.License, error) {
	if subscriptionID == "" {
		return nil, ErrMissingSubscription
	}

	license, err := s.Storage.FindLicenseBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	if license == nil {
		logger.Info("Invoice paid for unknown subscription", map[string]interface{}{
			"subscription_id": subscriptionID,
		})
		return nil, nil
	}
	return s.renew(ctx, license)
}

// HandleSubscriptionDeleted revokes the license bound to the subscription.
func (s *Service) HandleSubscriptionDeleted(ctx context.Context, subscriptionID string) (*models.License, error) {
	if subscriptionID == "" {
		return nil, ErrMissingSubscription
	}

	license, err := s.Storage.FindLicenseBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	if license == nil {
		return nil, nil
	}
	if license.Status == models.StatusRevoked {
		return license, nil
	}

	license.Status = models.StatusRevoked
	license.UpdatedAt = s.now()
	if err := s.Storage.UpdateLicense(ctx, license); err != nil {
		return nil, apperr.Upstream(err)
	}

	logger.Info("License revoked", map[string]interface{}{
		"license_id":      license.ID,
		"subscription_id": subscriptionID,
	})
	return license, nil
}
