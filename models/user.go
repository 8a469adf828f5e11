package models

import (
	"strings"
	"time"
)

const (
	TierFree    = "free"
	TierPremium = "premium"
)

type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	PINHash          string    `json:"-"`
	SecretAnswerHash string    `json:"-"`
	FirstName        string    `json:"firstName"`
	LastName         string    `json:"lastName"`
	Phone            string    `json:"phone,omitempty"`
	BirthMonth       int       `json:"birthMonth,omitempty"`
	BirthYear        int       `json:"birthYear,omitempty"`
	MembershipTier   string    `json:"membershipTier"`
	StripeCustomerID string    `json:"stripeCustomerId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// UserSummary is the public view of a user shown to license owners.
type UserSummary struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
