package models

import (
	"strings"
	"time"
)

type LicenseType string

const (
	LicenseSingle       LicenseType = "single"
	LicenseFamily       LicenseType = "family"
	LicenseOrganization LicenseType = "organization"
)

type LicenseStatus string

const (
	StatusActive  LicenseStatus = "active"
	StatusExpired LicenseStatus = "expired"
	StatusRevoked LicenseStatus = "revoked"
)

// LicenseTypes is the fixed purchase catalog, in display order.
var LicenseTypes = []LicenseType{LicenseSingle, LicenseFamily, LicenseOrganization}

func ParseLicenseType(s string) (LicenseType, bool) {
	t := LicenseType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case LicenseSingle, LicenseFamily, LicenseOrganization:
		return t, true
	}
	return "", false
}

// MaxUsers returns the seat limit for the type. nil means unlimited.
func (t LicenseType) MaxUsers() *int {
	var n int
	switch t {
	case LicenseSingle:
		n = 1
	case LicenseFamily:
		n = 10
	default:
		return nil
	}
	return &n
}

func ParseLicenseStatus(s string) (LicenseStatus, bool) {
	st := LicenseStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusActive, StatusExpired, StatusRevoked:
		return st, true
	}
	return "", false
}

type License struct {
	ID                   string        `json:"id"`
	OwnerID              string        `json:"ownerId"`
	Type                 LicenseType   `json:"licenseType"`
	Key                  string        `json:"licenseKey"`
	Status               LicenseStatus `json:"status"`
	MaxUsers             *int          `json:"maxUsers"`
	ExpiresAt            *time.Time    `json:"expiresAt"`
	StripeSubscriptionID string        `json:"-"`
	StripeCustomerID     string        `json:"-"`
	StripePriceID        string        `json:"-"`
	PurchasedAt          time.Time     `json:"purchasedAt"`
	ActivatedAt          *time.Time    `json:"activatedAt,omitempty"`
	CreatedAt            time.Time     `json:"createdAt"`
	UpdatedAt            time.Time     `json:"updatedAt"`
}

// IsExpired reports whether the expiration timestamp is strictly before now.
// Perpetual licenses never expire.
func (l *License) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// IsValid is true when the license is active and not past its expiration,
// regardless of whether a webhook has flipped the stored status yet.
func (l *License) IsValid(now time.Time) bool {
	return l.Status == StatusActive && !l.IsExpired(now)
}

// HasCapacity reports whether seats (members plus the owner) fit within MaxUsers.
func (l *License) HasCapacity(members int) bool {
	if l.MaxUsers == nil {
		return true
	}
	return members+1 <= *l.MaxUsers
}

// SeatAvailable reports whether one more member can join.
func (l *License) SeatAvailable(members int) bool {
	if l.MaxUsers == nil {
		return true
	}
	return members+1 < *l.MaxUsers
}

func NormalizeLicenseKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// LicenseMember is a non-owner seat on a license.
type LicenseMember struct {
	LicenseID string    `json:"licenseId"`
	UserID    string    `json:"userId"`
	AddedBy   string    `json:"addedBy"`
	AddedAt   time.Time `json:"addedAt"`
}
