package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"courseplatform.app/api/models"
	"courseplatform.app/api/storage"
	"github.com/stripe/stripe-go/v82/webhook"
)

// TestStorage creates an empty memory storage
func TestStorage() *storage.MemoryStorage {
	return storage.NewMemoryStorage()
}

// CreateTestUser creates a test user with given parameters
func CreateTestUser(id, email string) models.User {
	now := time.Now().UTC()
	return models.User{
		ID:             id,
		Email:          email,
		PINHash:        "x",
		FirstName:      "Test",
		LastName:       "User",
		Phone:          "+45 1234 5678",
		BirthMonth:     6,
		BirthYear:      1990,
		MembershipTier: models.TierFree,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// CreateTestLicense creates an active license expiring in a year
func CreateTestLicense(id, key, ownerID string, licenseType models.LicenseType) models.License {
	now := time.Now().UTC()
	expires := now.AddDate(1, 0, 0)
	return models.License{
		ID:                   id,
		OwnerID:              ownerID,
		Type:                 licenseType,
		Key:                  key,
		Status:               models.StatusActive,
		MaxUsers:             licenseType.MaxUsers(),
		ExpiresAt:            &expires,
		StripeSubscriptionID: "sub_" + id,
		StripeCustomerID:     "cus_" + ownerID,
		PurchasedAt:          now,
		ActivatedAt:          &now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// SeedUsers stores n users named prefix-0 ... prefix-(n-1)
func SeedUsers(t testing.TB, s storage.Storage, prefix string, n int) []models.User {
	t.Helper()

	users := make([]models.User, 0, n)
	for i := 0; i < n; i++ {
		user := CreateTestUser(fmt.Sprintf("%s-%d", prefix, i), fmt.Sprintf("%s-%d@example.com", prefix, i))
		if err := s.CreateUser(context.Background(), &user); err != nil {
			t.Fatalf("Failed to create user %s: %v", user.ID, err)
		}
		users = append(users, user)
	}
	return users
}

// SetupTestData creates owners with one license of each type plus an expired one
func SetupTestData(s storage.Storage) error {
	ctx := context.Background()

	users := []models.User{
		CreateTestUser("owner1", "owner1@example.com"),
		CreateTestUser("owner2", "owner2@example.com"),
		CreateTestUser("owner3", "owner3@example.com"),
		CreateTestUser("owner4", "owner4@example.com"),
	}
	for _, user := range users {
		if err := s.CreateUser(ctx, &user); err != nil {
			return fmt.Errorf("failed to save user %s: %w", user.ID, err)
		}
	}

	expired := CreateTestLicense("license4", "EXPIRED00011990", "owner4", models.LicenseSingle)
	past := time.Now().UTC().AddDate(0, 0, -1)
	expired.ExpiresAt = &past

	licenses := []models.License{
		CreateTestLicense("license1", "SINGLE00011990", "owner1", models.LicenseSingle),
		CreateTestLicense("license2", "FAMILY00021990", "owner2", models.LicenseFamily),
		CreateTestLicense("license3", "ORGANI00031990", "owner3", models.LicenseOrganization),
		expired,
	}
	for _, license := range licenses {
		if err := s.CreateLicense(ctx, &license); err != nil {
			return fmt.Errorf("failed to save license %s: %w", license.ID, err)
		}
	}

	return nil
}

// CreateStripeEvent builds a webhook event payload around a data object
func CreateStripeEvent(id, eventType string, object map[string]interface{}) []byte {
	event := map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"api_version": "2025-04-30.basil",
		"created":     time.Now().Unix(),
		"data": map[string]interface{}{
			"object": object,
		},
	}

	payload, _ := json.Marshal(event)
	return payload
}

// CreateCheckoutSession builds a completed license checkout session object
func CreateCheckoutSession(sessionID, subscriptionID, customerID, userID string, licenseType models.LicenseType) map[string]interface{} {
	return map[string]interface{}{
		"id":                  sessionID,
		"object":              "checkout.session",
		"mode":                "subscription",
		"payment_status":      "paid",
		"client_reference_id": userID,
		"customer":            customerID,
		"subscription":        subscriptionID,
		"metadata": map[string]interface{}{
			"type":        "license",
			"userId":      userID,
			"licenseType": string(licenseType),
		},
	}
}

// NewStripeWebhookRequest signs payload with secret the way the gateway does
func NewStripeWebhookRequest(t testing.TB, secret string, payload []byte) *http.Request {
	t.Helper()

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(string(signed.Payload)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

// StorageTestSuite provides a standard test suite for storage implementations
type StorageTestSuite struct {
	Storage storage.Storage
	Cleanup func()
}

// RunStorageTestSuite runs standard tests on any storage implementation
func RunStorageTestSuite(t *testing.T, suite StorageTestSuite) {
	if suite.Cleanup != nil {
		defer suite.Cleanup()
	}

	ctx := context.Background()
	s := suite.Storage

	t.Run("UserOperations", func(t *testing.T) {
		user := CreateTestUser("user1", "user1@example.com")
		if err := s.CreateUser(ctx, &user); err != nil {
			t.Fatalf("Failed to create user: %v", err)
		}

		dup := CreateTestUser("user1-dup", "user1@example.com")
		if err := s.CreateUser(ctx, &dup); !errors.Is(err, storage.ErrDuplicateEmail) {
			t.Errorf("Expected ErrDuplicateEmail, got %v", err)
		}

		found, err := s.FindUserByEmail(ctx, "user1@example.com")
		if err != nil {
			t.Fatalf("Failed to find user by email: %v", err)
		}
		if found == nil || found.ID != "user1" {
			t.Fatalf("Expected user1, got %+v", found)
		}
		if found.BirthYear != 1990 || found.Phone != "+45 1234 5678" {
			t.Errorf("Profile fields not stored: %+v", found)
		}

		found.StripeCustomerID = "cus_user1"
		found.MembershipTier = models.TierPremium
		if err := s.UpdateUser(ctx, found); err != nil {
			t.Fatalf("Failed to update user: %v", err)
		}

		byCustomer, err := s.FindUserByStripeCustomer(ctx, "cus_user1")
		if err != nil {
			t.Fatalf("Failed to find user by customer: %v", err)
		}
		if byCustomer == nil || byCustomer.MembershipTier != models.TierPremium {
			t.Errorf("Expected premium user1, got %+v", byCustomer)
		}

		missing := CreateTestUser("ghost", "ghost@example.com")
		if err := s.UpdateUser(ctx, &missing); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound updating missing user, got %v", err)
		}
	})

	t.Run("LicenseOperations", func(t *testing.T) {
		owner := CreateTestUser("license-owner", "license-owner@example.com")
		if err := s.CreateUser(ctx, &owner); err != nil {
			t.Fatalf("Failed to create owner: %v", err)
		}

		license := CreateTestLicense("license1", "TU56781990", owner.ID, models.LicenseFamily)
		if err := s.CreateLicense(ctx, &license); err != nil {
			t.Fatalf("Failed to create license: %v", err)
		}

		sameKey := CreateTestLicense("license1b", "TU56781990", owner.ID, models.LicenseSingle)
		if err := s.CreateLicense(ctx, &sameKey); !errors.Is(err, storage.ErrDuplicateKey) {
			t.Errorf("Expected ErrDuplicateKey, got %v", err)
		}

		sameSub := CreateTestLicense("license1c", "TU5678199001", owner.ID, models.LicenseSingle)
		sameSub.StripeSubscriptionID = license.StripeSubscriptionID
		if err := s.CreateLicense(ctx, &sameSub); !errors.Is(err, storage.ErrDuplicateSubscription) {
			t.Errorf("Expected ErrDuplicateSubscription, got %v", err)
		}

		orphan := CreateTestLicense("license1d", "ORPHAN", "nobody", models.LicenseSingle)
		if err := s.CreateLicense(ctx, &orphan); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for unknown owner, got %v", err)
		}

		byKey, err := s.FindLicenseByKey(ctx, "TU56781990")
		if err != nil {
			t.Fatalf("Failed to find license by key: %v", err)
		}
		if byKey == nil || byKey.ID != "license1" {
			t.Fatalf("Expected license1, got %+v", byKey)
		}
		if byKey.MaxUsers == nil || *byKey.MaxUsers != 10 {
			t.Errorf("Expected max users 10, got %v", byKey.MaxUsers)
		}

		bySub, err := s.FindLicenseBySubscription(ctx, license.StripeSubscriptionID)
		if err != nil {
			t.Fatalf("Failed to find license by subscription: %v", err)
		}
		if bySub == nil || bySub.ID != "license1" {
			t.Fatalf("Expected license1 by subscription, got %+v", bySub)
		}

		bySub.Status = models.StatusRevoked
		if err := s.UpdateLicense(ctx, bySub); err != nil {
			t.Fatalf("Failed to update license: %v", err)
		}
		updated, err := s.GetLicense(ctx, "license1")
		if err != nil {
			t.Fatalf("Failed to get license: %v", err)
		}
		if updated.Status != models.StatusRevoked {
			t.Errorf("Expected revoked, got %s", updated.Status)
		}

		owned, err := s.FindLicensesByOwner(ctx, owner.ID)
		if err != nil {
			t.Fatalf("Failed to find licenses by owner: %v", err)
		}
		if len(owned) != 1 {
			t.Errorf("Expected 1 license, got %d", len(owned))
		}

		unlimited := CreateTestLicense("license1e", "UNLIMITED", owner.ID, models.LicenseOrganization)
		if err := s.CreateLicense(ctx, &unlimited); err != nil {
			t.Fatalf("Failed to create organization license: %v", err)
		}
		org, _ := s.GetLicense(ctx, "license1e")
		if org == nil || org.MaxUsers != nil {
			t.Errorf("Expected unlimited organization license, got %+v", org)
		}
	})

	t.Run("Membership", func(t *testing.T) {
		users := SeedUsers(t, s, "member", 4)
		license := CreateTestLicense("license-seats", "SEATS", users[0].ID, models.LicenseSingle)
		three := 3
		license.MaxUsers = &three
		if err := s.CreateLicense(ctx, &license); err != nil {
			t.Fatalf("Failed to create license: %v", err)
		}

		add := func(userID string) error {
			return s.AddLicenseMember(ctx, &models.LicenseMember{
				LicenseID: license.ID,
				UserID:    userID,
				AddedBy:   license.OwnerID,
				AddedAt:   time.Now().UTC(),
			}, license.MaxUsers)
		}

		if err := add(users[1].ID); err != nil {
			t.Fatalf("Failed to add first member: %v", err)
		}
		if err := add(users[1].ID); !errors.Is(err, storage.ErrAlreadyMember) {
			t.Errorf("Expected ErrAlreadyMember, got %v", err)
		}
		if err := add(users[2].ID); err != nil {
			t.Fatalf("Failed to add second member: %v", err)
		}
		if err := add(users[3].ID); !errors.Is(err, storage.ErrSeatsFull) {
			t.Errorf("Expected ErrSeatsFull, got %v", err)
		}

		members, err := s.ListLicenseMembers(ctx, license.ID)
		if err != nil {
			t.Fatalf("Failed to list members: %v", err)
		}
		if len(members) != 2 {
			t.Errorf("Expected 2 members, got %d", len(members))
		}

		membership, err := s.FindMembershipByUser(ctx, users[1].ID)
		if err != nil {
			t.Fatalf("Failed to find membership: %v", err)
		}
		if membership == nil || membership.LicenseID != license.ID || membership.AddedBy != users[0].ID {
			t.Errorf("Unexpected membership %+v", membership)
		}

		if err := s.RemoveLicenseMember(ctx, "other-license", users[1].ID); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound removing from the wrong license, got %v", err)
		}
		if err := s.RemoveLicenseMember(ctx, license.ID, users[1].ID); err != nil {
			t.Fatalf("Failed to remove member: %v", err)
		}
		if err := s.RemoveLicenseMember(ctx, license.ID, users[1].ID); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound on second removal, got %v", err)
		}
		if err := add(users[3].ID); err != nil {
			t.Errorf("Expected freed seat to be reusable, got %v", err)
		}

		if err := s.AddLicenseMember(ctx, &models.LicenseMember{
			LicenseID: "missing",
			UserID:    users[1].ID,
			AddedBy:   users[0].ID,
			AddedAt:   time.Now().UTC(),
		}, nil); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for missing license, got %v", err)
		}
	})

	t.Run("LastSeatRace", func(t *testing.T) {
		users := SeedUsers(t, s, "racer", 9)
		license := CreateTestLicense("license-race", "RACE", users[0].ID, models.LicenseSingle)
		two := 2
		license.MaxUsers = &two
		if err := s.CreateLicense(ctx, &license); err != nil {
			t.Fatalf("Failed to create license: %v", err)
		}

		var wg sync.WaitGroup
		results := make(chan error, len(users)-1)
		for _, u := range users[1:] {
			wg.Add(1)
			go func(userID string) {
				defer wg.Done()
				results <- s.AddLicenseMember(ctx, &models.LicenseMember{
					LicenseID: license.ID,
					UserID:    userID,
					AddedBy:   license.OwnerID,
					AddedAt:   time.Now().UTC(),
				}, license.MaxUsers)
			}(u.ID)
		}
		wg.Wait()
		close(results)

		succeeded := 0
		for err := range results {
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, storage.ErrSeatsFull):
			default:
				t.Errorf("Unexpected error: %v", err)
			}
		}
		if succeeded != 1 {
			t.Errorf("Expected exactly one member to get the last seat, got %d", succeeded)
		}

		members, _ := s.ListLicenseMembers(ctx, license.ID)
		if len(members) != 1 {
			t.Errorf("Expected 1 member row, got %d", len(members))
		}
	})

	t.Run("CourseProgress", func(t *testing.T) {
		user := SeedUsers(t, s, "learner", 1)[0]
		at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

		created, err := s.Enroll(ctx, &models.Enrollment{UserID: user.ID, CourseID: "go-basics", EnrolledAt: at})
		if err != nil || !created {
			t.Fatalf("Expected new enrollment, got created=%v err=%v", created, err)
		}
		created, err = s.Enroll(ctx, &models.Enrollment{UserID: user.ID, CourseID: "go-basics", EnrolledAt: at})
		if err != nil || created {
			t.Errorf("Expected idempotent enrollment, got created=%v err=%v", created, err)
		}

		enrolled, err := s.IsEnrolled(ctx, user.ID, "go-basics")
		if err != nil || !enrolled {
			t.Errorf("Expected enrolled, got %v %v", enrolled, err)
		}
		enrollments, _ := s.ListEnrollments(ctx, user.ID)
		if len(enrollments) != 1 {
			t.Errorf("Expected 1 enrollment, got %d", len(enrollments))
		}

		empty, err := s.GetProgress(ctx, user.ID, "go-basics")
		if err != nil {
			t.Fatalf("Failed to get progress: %v", err)
		}
		if len(empty.CompletedSections) != 0 || empty.LastAccessedAt != nil {
			t.Errorf("Expected empty progress, got %+v", empty)
		}

		for _, section := range []int{3, 1, 2} {
			if err := s.SetSectionComplete(ctx, user.ID, "go-basics", section, true, at); err != nil {
				t.Fatalf("Failed to complete section: %v", err)
			}
		}
		if err := s.SetSectionComplete(ctx, user.ID, "go-basics", 2, false, at.Add(time.Hour)); err != nil {
			t.Fatalf("Failed to uncomplete section: %v", err)
		}

		progress, err := s.GetProgress(ctx, user.ID, "go-basics")
		if err != nil {
			t.Fatalf("Failed to get progress: %v", err)
		}
		if fmt.Sprint(progress.CompletedSections) != "[1 3]" {
			t.Errorf("Expected sections [1 3], got %v", progress.CompletedSections)
		}
		if progress.LastAccessedAt == nil || !progress.LastAccessedAt.Equal(at.Add(time.Hour)) {
			t.Errorf("Expected last access %v, got %v", at.Add(time.Hour), progress.LastAccessedAt)
		}
	})

	t.Run("QuizScores", func(t *testing.T) {
		user := SeedUsers(t, s, "quizzer", 1)[0]
		save := func(score int) bool {
			improved, err := s.SaveQuizScore(ctx, &models.QuizScore{
				UserID:   user.ID,
				CourseID: "go-basics",
				QuizType: "final",
				Score:    score,
				Correct:  score / 10,
				Total:    10,
				TakenAt:  time.Now().UTC(),
			})
			if err != nil {
				t.Fatalf("Failed to save quiz score: %v", err)
			}
			return improved
		}

		if !save(60) {
			t.Errorf("Expected first score to be stored")
		}
		if save(60) {
			t.Errorf("Expected equal score to be kept out")
		}
		if save(40) {
			t.Errorf("Expected lower score to be kept out")
		}
		if !save(90) {
			t.Errorf("Expected higher score to replace the best")
		}

		scores, err := s.ListQuizScores(ctx, user.ID, "go-basics")
		if err != nil {
			t.Fatalf("Failed to list quiz scores: %v", err)
		}
		if len(scores) != 1 || scores[0].Score != 90 {
			t.Errorf("Expected best score 90, got %+v", scores)
		}
	})

	t.Run("WebhookLedger", func(t *testing.T) {
		now := time.Now().UTC()
		event := &models.WebhookEvent{
			ID:        "evt_ledger",
			Type:      "invoice.paid",
			Status:    models.WebhookFailed,
			Attempts:  1,
			LastError: "boom",
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.SaveWebhookEvent(ctx, event); err != nil {
			t.Fatalf("Failed to save webhook event: %v", err)
		}

		event.Status = models.WebhookProcessed
		event.Attempts = 2
		event.LastError = ""
		if err := s.SaveWebhookEvent(ctx, event); err != nil {
			t.Fatalf("Failed to update webhook event: %v", err)
		}

		stored, err := s.GetWebhookEvent(ctx, "evt_ledger")
		if err != nil {
			t.Fatalf("Failed to get webhook event: %v", err)
		}
		if stored == nil || stored.Status != models.WebhookProcessed || stored.Attempts != 2 || !stored.Settled() {
			t.Errorf("Unexpected ledger entry %+v", stored)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		user, err := s.GetUser(ctx, "notfound")
		if err != nil || user != nil {
			t.Errorf("Expected nil, nil for missing user, got %v, %v", user, err)
		}
		license, err := s.FindLicenseByKey(ctx, "NOTFOUND")
		if err != nil || license != nil {
			t.Errorf("Expected nil, nil for missing license, got %v, %v", license, err)
		}
		membership, err := s.FindMembershipByUser(ctx, "notfound")
		if err != nil || membership != nil {
			t.Errorf("Expected nil, nil for missing membership, got %v, %v", membership, err)
		}
		event, err := s.GetWebhookEvent(ctx, "evt_missing")
		if err != nil || event != nil {
			t.Errorf("Expected nil, nil for missing event, got %v, %v", event, err)
		}
		missing := CreateTestLicense("nope", "NOPE", "nobody", models.LicenseSingle)
		if err := s.UpdateLicense(ctx, &missing); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound updating missing license, got %v", err)
		}
	})
}
