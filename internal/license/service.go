// Package license implements the license lifecycle: purchase, key activation,
// membership, status checks and reconciliation of payment events.
package license

import (
	"context"
	"errors"
	"time"

	"courseplatform.app/api/internal/apperr"
	"courseplatform.app/api/internal/logger"
	"courseplatform.app/api/internal/metrics"
	"courseplatform.app/api/models"
	"courseplatform.app/api/storage"
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// CheckoutRequest is what the gateway needs to open a subscription checkout.
type CheckoutRequest struct {
	UserID      string
	Email       string
	CustomerID  string
	LicenseType models.LicenseType
	PriceID     string
}

// Gateway opens hosted checkout sessions with the payment processor.
type Gateway interface {
	Configured() bool
	PriceID(licenseType models.LicenseType) string
	CreateSubscriptionCheckout(ctx context.Context, req CheckoutRequest) (string, error)
}

type PurchaseResult struct {
	URL             string `json:"url,omitempty"`
	RequiresContact bool   `json:"requiresContact,omitempty"`
	Message         string `json:"error,omitempty"`
}

type Status struct {
	HasLicense bool            `json:"hasLicense"`
	License    *models.License `json:"license"`
	Role       Role            `json:"role,omitempty"`
}

type Member struct {
	models.UserSummary
	AddedAt time.Time `json:"addedAt"`
}

type Roster struct {
	Owner        models.UserSummary `json:"owner"`
	Users        []Member           `json:"users"`
	MaxUsers     *int               `json:"maxUsers"`
	CurrentUsers int                `json:"currentUsers"`
}

type Service struct {
	Storage        storage.Storage
	Gateway        Gateway
	Now            func() time.Time
	MaxKeyAttempts int
}

func NewService(store storage.Storage, gateway Gateway) *Service {
	return &Service{
		Storage:        store,
		Gateway:        gateway,
		Now:            time.Now,
		MaxKeyAttempts: MaxKeyAttempts,
	}
}

func (s *Service) now() time.Time {
	return s.Now().UTC()
}

func (s *Service) user(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.Storage.GetUser(ctx, userID)
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *Service) license(ctx context.Context, licenseID string) (*models.License, error) {
	license, err := s.Storage.GetLicense(ctx, licenseID)
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	if license == nil {
		return nil, ErrLicenseNotFound
	}
	return license, nil
}

// Purchase starts a subscription checkout for the license type. Organization
// licenses and types without a configured price are sold by contacting an admin.
func (s *Service) Purchase(ctx context.Context, userID, licenseType string) (*PurchaseResult, error) {
	lt, ok := models.ParseLicenseType(licenseType)
	if !ok {
		return nil, ErrUnsupportedType
	}

	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}

	var priceID string
	if s.Gateway != nil {
		priceID = s.Gateway.PriceID(lt)
	}
	if lt == models.LicenseOrganization || priceID == "" {
		metrics.CheckoutSessions.WithLabelValues(string(lt), "contact").Inc()
		return &PurchaseResult{
			RequiresContact: true,
			Message:         "Please contact an administrator to purchase this license",
		}, nil
	}

	if !s.Gateway.Configured() {
		metrics.CheckoutSessions.WithLabelValues(string(lt), "misconfigured").Inc()
		return nil, ErrMisconfigured
	}

	url, err := s.Gateway.CreateSubscriptionCheckout(ctx, CheckoutRequest{
		UserID:      user.ID,
		Email:       user.Email,
		CustomerID:  user.StripeCustomerID,
		LicenseType: lt,
		PriceID:     priceID,
	})
	if err != nil {
		metrics.CheckoutSessions.WithLabelValues(string(lt), "error").Inc()
		logger.Error("Failed to create checkout session", map[string]interface{}{
			"user_id":      user.ID,
			"license_type": string(lt),
			"error":        err.Error(),
		})
		return nil, apperr.Upstream(err)
	}

	metrics.CheckoutSessions.WithLabelValues(string(lt), "created").Inc()
	return &PurchaseResult{URL: url}, nil
}

// Activate joins the user to the license identified by key. The seat check
// and the insert are atomic in the store.
func (s *Service) Activate(ctx context.Context, userID, key string) (license *models.License, err error) {
	defer func() {
		metrics.LicenseActivations.WithLabelValues(outcome(err)).Inc()
	}()

	if _, err := s.user(ctx, userID); err != nil {
		return nil, err
	}

	key = models.NormalizeLicenseKey(key)
	if key == "" {
		return nil, ErrInvalidKey
	}
	license, err = s.Storage.FindLicenseByKey(ctx, key)
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	if license == nil {
		return nil, ErrInvalidKey
	}

	now := s.now()
	if license.Status != models.StatusActive {
		return nil, ErrNotActive
	}
	if license.IsExpired(now) {
		return nil, ErrExpired
	}
	if license.OwnerID == userID {
		return nil, ErrAlreadyOwner
	}

	existing, err := s.Storage.FindMembershipByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	if existing != nil {
		if existing.LicenseID == license.ID {
			return nil, ErrAlreadyMember
		}
		return nil, ErrMemberElsewhere
	}

	member := &models.LicenseMember{
		LicenseID: license.ID,
		UserID:    userID,
		AddedBy:   license.OwnerID,
		AddedAt:   now,
	}
	switch err := s.Storage.AddLicenseMember(ctx, member, license.MaxUsers); {
	case err == nil:
	case errors.Is(err, storage.ErrSeatsFull):
		return nil, ErrSeatsFull
	case errors.Is(err, storage.ErrAlreadyMember):
		// Lost a race with another activation by the same user.
		return nil, ErrAlreadyMember
	case errors.Is(err, storage.ErrNotFound):
		return nil, ErrInvalidKey
	default:
		return nil, apperr.Upstream(err)
	}

	logger.Info("License activated", map[string]interface{}{
		"license_id": license.ID,
		"user_id":    userID,
	})
	return license, nil
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	var e *apperr.Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "error"
}

// Leave removes the caller's own membership. Owners cannot leave.
func (s *Service) Leave(ctx context.Context, userID, licenseID string) error {
	license, err := s.license(ctx, licenseID)
	if err != nil {
		return err
	}
	if license.OwnerID == userID {
		return ErrOwnerCannotLeave
	}
	if err := s.removeMember(ctx, licenseID, userID); err != nil {
		return err
	}

	logger.Info("User left license", map[string]interface{}{
		"license_id": licenseID,
		"user_id":    userID,
	})
	return nil
}

// RemoveMember lets the owner free a seat held by another user.
func (s *Service) RemoveMember(ctx context.Context, ownerID, licenseID, memberID string) error {
	license, err := s.license(ctx, licenseID)
	if err != nil {
		return err
	}
	if license.OwnerID != ownerID {
		return ErrNotOwner
	}
	if memberID == ownerID {
		return ErrOwnerCannotLeave
	}
	if err := s.removeMember(ctx, licenseID, memberID); err != nil {
		return err
	}

	logger.Info("Member removed from license", map[string]interface{}{
		"license_id": licenseID,
		"user_id":    memberID,
	})
	return nil
}

func (s *Service) removeMember(ctx context.Context, licenseID, userID string) error {
	err := s.Storage.RemoveLicenseMember(ctx, licenseID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotMember
	}
	if err != nil {
		return apperr.Upstream(err)
	}
	return nil
}

// CheckStatus reports whether the user currently has premium access and
// through which license. Validity is judged against the clock, not only the
// stored status, and ownership wins over membership.
func (s *Service) CheckStatus(ctx context.Context, userID string) (*Status, error) {
	if _, err := s.user(ctx, userID); err != nil {
		return nil, err
	}
	return s.status(ctx, userID)
}

// HasAccess is the license capability consumed by the course access gate.
func (s *Service) HasAccess(ctx context.Context, userID string) (bool, error) {
	status, err := s.status(ctx, userID)
	if err != nil {
		return false, err
	}
	return status.HasLicense, nil
}

func (s *Service) status(ctx context.Context, userID string) (*Status, error) {
	now := s.now()

	owned, err := s.Storage.FindLicensesByOwner(ctx, userID)
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	for _, l := range owned {
		if l.IsValid(now) {
			return &Status{HasLicense: true, License: l, Role: RoleOwner}, nil
		}
	}

	var joined *models.License
	membership, err := s.Storage.FindMembershipByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	if membership != nil {
		joined, err = s.Storage.GetLicense(ctx, membership.LicenseID)
		if err != nil {
			return nil, apperr.Upstream(err)
		}
	}
	if joined != nil && joined.IsValid(now) {
		members, err := s.Storage.ListLicenseMembers(ctx, joined.ID)
		if err != nil {
			return nil, apperr.Upstream(err)
		}
		if joined.HasCapacity(len(members)) {
			return &Status{HasLicense: true, License: joined, Role: RoleMember}, nil
		}
	}

	// Nothing valid: still show the most relevant license so the client can
	// explain why access lapsed.
	switch {
	case len(owned) > 0:
		return &Status{License: owned[0], Role: RoleOwner}, nil
	case joined != nil:
		return &Status{License: joined, Role: RoleMember}, nil
	}
	return &Status{}, nil
}

// ListUsers returns the owner and members of a license. Owner only.
func (s *Service) ListUsers(ctx context.Context, requesterID, licenseID string) (*Roster, error) {
	license, err := s.license(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	if license.OwnerID != requesterID {
		return nil, ErrNotOwner
	}

	owner, err := s.user(ctx, license.OwnerID)
	if err != nil {
		return nil, err
	}

	members, err := s.Storage.ListLicenseMembers(ctx, license.ID)
	if err != nil {
		return nil, apperr.Upstream(err)
	}

	roster := &Roster{
		Owner:        owner.Summary(),
		Users:        make([]Member, 0, len(members)),
		MaxUsers:     license.MaxUsers,
		CurrentUsers: len(members) + 1,
	}
	for _, m := range members {
		u, err := s.Storage.GetUser(ctx, m.UserID)
		if err != nil {
			return nil, apperr.Upstream(err)
		}
		if u == nil {
			logger.Warn("License member has no user record", map[string]interface{}{
				"license_id": license.ID,
				"user_id":    m.UserID,
			})
			continue
		}
		roster.Users = append(roster.Users, Member{UserSummary: u.Summary(), AddedAt: m.AddedAt})
	}
	return roster, nil
}

// SetStatus is the administrative override of a license status.
func (s *Service) SetStatus(ctx context.Context, licenseID, status string) (*models.License, error) {
	st, ok := models.ParseLicenseStatus(status)
	if !ok {
		return nil, ErrInvalidStatus
	}
	license, err := s.license(ctx, licenseID)
	if err != nil {
		return nil, err
	}

	previous := license.Status
	license.Status = st
	license.UpdatedAt = s.now()
	if err := s.Storage.UpdateLicense(ctx, license); err != nil {
		return nil, apperr.Upstream(err)
	}

	logger.Info("License status changed", map[string]interface{}{
		"license_id": license.ID,
		"from":       string(previous),
		"to":         string(st),
	})
	return license, nil
}
