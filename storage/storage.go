package storage

import (
	"context"
	"errors"
	"time"

	"courseplatform.app/api/models"
)

var (
	ErrDuplicateEmail        = errors.New("email already registered")
	ErrDuplicateKey          = errors.New("license key already exists")
	ErrDuplicateSubscription = errors.New("license already exists for subscription")
	ErrSeatsFull             = errors.New("license has no free seats")
	ErrAlreadyMember         = errors.New("user already belongs to a license")
	ErrNotFound              = errors.New("record not found")
)

// Storage is the credential store. Lookups return (nil, nil) when the record
// does not exist; mutations of a missing record return ErrNotFound.
type Storage interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByStripeCustomer(ctx context.Context, customerID string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error

	CreateLicense(ctx context.Context, license *models.License) error
	GetLicense(ctx context.Context, id string) (*models.License, error)
	FindLicenseByKey(ctx context.Context, key string) (*models.License, error)
	FindLicenseBySubscription(ctx context.Context, subscriptionID string) (*models.License, error)
	FindLicensesByOwner(ctx context.Context, ownerID string) ([]*models.License, error)
	UpdateLicense(ctx context.Context, license *models.License) error

	// AddLicenseMember inserts the membership only if a seat is still free,
	// checked in the same transaction as the insert. maxUsers counts the owner.
	AddLicenseMember(ctx context.Context, member *models.LicenseMember, maxUsers *int) error
	RemoveLicenseMember(ctx context.Context, licenseID, userID string) error
	FindMembershipByUser(ctx context.Context, userID string) (*models.LicenseMember, error)
	ListLicenseMembers(ctx context.Context, licenseID string) ([]*models.LicenseMember, error)

	// Enroll is idempotent; created is false when the pair already existed.
	Enroll(ctx context.Context, enrollment *models.Enrollment) (created bool, err error)
	IsEnrolled(ctx context.Context, userID, courseID string) (bool, error)
	ListEnrollments(ctx context.Context, userID string) ([]*models.Enrollment, error)

	SetSectionComplete(ctx context.Context, userID, courseID string, section int, done bool, at time.Time) error
	GetProgress(ctx context.Context, userID, courseID string) (*models.Progress, error)

	// SaveQuizScore keeps the stored attempt unless score is strictly greater.
	SaveQuizScore(ctx context.Context, score *models.QuizScore) (improved bool, err error)
	ListQuizScores(ctx context.Context, userID, courseID string) ([]*models.QuizScore, error)

	GetWebhookEvent(ctx context.Context, id string) (*models.WebhookEvent, error)
	SaveWebhookEvent(ctx context.Context, event *models.WebhookEvent) error

	Close() error
}
