package license

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"courseplatform.app/api/internal/apperr"
	"courseplatform.app/api/internal/testutil"
	"courseplatform.app/api/models"
	"courseplatform.app/api/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	configured bool
	prices     map[models.LicenseType]string
	requests   []CheckoutRequest
	err        error
}

func (g *fakeGateway) Configured() bool { return g.configured }

func (g *fakeGateway) PriceID(lt models.LicenseType) string { return g.prices[lt] }

func (g *fakeGateway) CreateSubscriptionCheckout(ctx context.Context, req CheckoutRequest) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	g.requests = append(g.requests, req)
	return "https://checkout.stripe.test/" + req.UserID, nil
}

var fixedNow = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, store storage.Storage) (*Service, *fakeGateway) {
	t.Helper()
	gw := &fakeGateway{
		configured: true,
		prices: map[models.LicenseType]string{
			models.LicenseSingle: "price_single",
			models.LicenseFamily: "price_family",
		},
	}
	svc := NewService(store, gw)
	svc.Now = func() time.Time { return fixedNow }
	return svc, gw
}

func seedUser(t *testing.T, store storage.Storage, id string) *models.User {
	t.Helper()
	u := testutil.CreateTestUser(id, id+"@example.com")
	require.NoError(t, store.CreateUser(context.Background(), &u))
	return &u
}

func completeCheckout(t *testing.T, svc *Service, ownerID, subscriptionID string, lt models.LicenseType) *models.License {
	t.Helper()
	l, err := svc.HandleCheckoutCompleted(context.Background(), CheckoutCompleted{
		SessionID:      "cs_" + subscriptionID,
		SubscriptionID: subscriptionID,
		CustomerID:     "cus_" + ownerID,
		UserID:         ownerID,
		LicenseType:    lt,
		PriceID:        "price_" + string(lt),
	})
	require.NoError(t, err)
	require.NotNil(t, l)
	return l
}

func TestPurchase(t *testing.T) {
	ctx := context.Background()

	t.Run("opens checkout with metadata", func(t *testing.T) {
		store := testutil.TestStorage()
		svc, gw := newTestService(t, store)
		seedUser(t, store, "buyer")

		result, err := svc.Purchase(ctx, "buyer", "Family")
		require.NoError(t, err)
		assert.Equal(t, "https://checkout.stripe.test/buyer", result.URL)
		assert.False(t, result.RequiresContact)
		require.Len(t, gw.requests, 1)
		assert.Equal(t, models.LicenseFamily, gw.requests[0].LicenseType)
		assert.Equal(t, "price_family", gw.requests[0].PriceID)
		assert.Equal(t, "buyer@example.com", gw.requests[0].Email)
	})

	t.Run("organization requires contact", func(t *testing.T) {
		store := testutil.TestStorage()
		svc, gw := newTestService(t, store)
		seedUser(t, store, "buyer")

		result, err := svc.Purchase(ctx, "buyer", "organization")
		require.NoError(t, err)
		assert.True(t, result.RequiresContact)
		assert.Empty(t, result.URL)
		assert.Empty(t, gw.requests)
	})

	t.Run("missing price requires contact", func(t *testing.T) {
		store := testutil.TestStorage()
		svc, gw := newTestService(t, store)
		delete(gw.prices, models.LicenseSingle)
		seedUser(t, store, "buyer")

		result, err := svc.Purchase(ctx, "buyer", "single")
		require.NoError(t, err)
		assert.True(t, result.RequiresContact)
	})

	tests := []struct {
		name     string
		userID   string
		typ      string
		setup    func(gw *fakeGateway)
		wantErr  error
		wantKind apperr.Kind
	}{
		{"unsupported type", "buyer", "enterprise", nil, ErrUnsupportedType, apperr.InvalidInput},
		{"unknown user", "ghost", "single", nil, ErrUserNotFound, apperr.NotFound},
		{"gateway not configured", "buyer", "single", func(gw *fakeGateway) { gw.configured = false }, ErrMisconfigured, apperr.Misconfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.TestStorage()
			svc, gw := newTestService(t, store)
			seedUser(t, store, "buyer")
			if tt.setup != nil {
				tt.setup(gw)
			}

			_, err := svc.Purchase(ctx, tt.userID, tt.typ)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantKind, apperr.KindOf(err))
		})
	}

	t.Run("gateway failure is upstream", func(t *testing.T) {
		store := testutil.TestStorage()
		svc, gw := newTestService(t, store)
		gw.err = errors.New("stripe down")
		seedUser(t, store, "buyer")

		_, err := svc.Purchase(ctx, "buyer", "single")
		assert.Equal(t, apperr.UpstreamFailure, apperr.KindOf(err))
	})
}

func TestHandleCheckoutCompleted(t *testing.T) {
	ctx := context.Background()

	t.Run("creates license with derived key", func(t *testing.T) {
		store := testutil.TestStorage()
		svc, _ := newTestService(t, store)
		seedUser(t, store, "owner")

		l := completeCheckout(t, svc, "owner", "sub_1", models.LicenseFamily)

		assert.Equal(t, "TU56781990", l.Key)
		assert.Regexp(t, regexp.MustCompile(`^[A-Z]{2}[0-9]{4}[0-9]{4}([0-9]{2})?$`), l.Key)
		assert.Equal(t, models.StatusActive, l.Status)
		require.NotNil(t, l.MaxUsers)
		assert.Equal(t, 10, *l.MaxUsers)
		require.NotNil(t, l.ExpiresAt)
		assert.True(t, l.ExpiresAt.Equal(fixedNow.AddDate(1, 0, 0)))

		owner, _ := store.GetUser(ctx, "owner")
		assert.Equal(t, "cus_owner", owner.StripeCustomerID)

		members, _ := store.ListLicenseMembers(ctx, l.ID)
		assert.Empty(t, members, "the owner holds a seat implicitly")
	})

	t.Run("replay yields one license", func(t *testing.T) {
		store := testutil.TestStorage()
		svc, _ := newTestService(t, store)
		seedUser(t, store, "owner")

		first := completeCheckout(t, svc, "owner", "sub_1", models.LicenseSingle)
		second := completeCheckout(t, svc, "owner", "sub_1", models.LicenseSingle)

		assert.Equal(t, first.ID, second.ID)
		owned, _ := store.FindLicensesByOwner(ctx, "owner")
		assert.Len(t, owned, 1)
	})

	t.Run("concurrent deliveries yield one license", func(t *testing.T) {
		store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "race.db"))
		require.NoError(t, err)
		defer store.Close()
		svc, _ := newTestService(t, store)
		seedUser(t, store, "owner")

		var wg sync.WaitGroup
		ids := make(chan string, 5)
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				l, err := svc.HandleCheckoutCompleted(ctx, CheckoutCompleted{
					SubscriptionID: "sub_race",
					UserID:         "owner",
					LicenseType:    models.LicenseSingle,
				})
				if assert.NoError(t, err) {
					ids <- l.ID
				}
			}()
		}
		wg.Wait()
		close(ids)

		seen := map[string]bool{}
		for id := range ids {
			seen[id] = true
		}
		assert.Len(t, seen, 1)
		owned, _ := store.FindLicensesByOwner(ctx, "owner")
		assert.Len(t, owned, 1)
	})

	t.Run("key collisions get a numeric suffix", func(t *testing.T) {
		store := testutil.TestStorage()
		svc, _ := newTestService(t, store)
		seedUser(t, store, "owner")

		first := completeCheckout(t, svc, "owner", "sub_1", models.LicenseSingle)
		second := completeCheckout(t, svc, "owner", "sub_2", models.LicenseSingle)
		third := completeCheckout(t, svc, "owner", "sub_3", models.LicenseSingle)

		assert.Equal(t, "TU56781990", first.Key)
		assert.Equal(t, "TU5678199001", second.Key)
		assert.Equal(t, "TU5678199002", third.Key)
	})

	t.Run("key space exhausted", func(t *testing.T) {
		store := testutil.TestStorage()
		svc, _ := newTestService(t, store)
		svc.MaxKeyAttempts = 2
		seedUser(t, store, "owner")

		for i := 0; i < 3; i++ {
			completeCheckout(t, svc, "owner", fmt.Sprintf("sub_%d", i), models.LicenseSingle)
		}
		_, err := svc.HandleCheckoutCompleted(ctx, CheckoutCompleted{
			SubscriptionID: "sub_overflow",
			UserID:         "owner",
			LicenseType:    models.LicenseSingle,
		})
		assert.ErrorIs(t, err, ErrKeySpaceExhausted)
	})

	t.Run("rejects incomplete events", func(t *testing.T) {
		store := testutil.TestStorage()
		svc, _ := newTestService(t, store)
		seedUser(t, store, "owner")

		_, err := svc.HandleCheckoutCompleted(ctx, CheckoutCompleted{UserID: "owner", LicenseType: models.LicenseSingle})
		assert.ErrorIs(t, err, ErrMissingSubscription)

		_, err = svc.HandleCheckoutCompleted(ctx, CheckoutCompleted{SubscriptionID: "sub_1", UserID: "owner", LicenseType: "gold"})
		assert.ErrorIs(t, err, ErrUnsupportedType)

		_, err = svc.HandleCheckoutCompleted(ctx, CheckoutCompleted{SubscriptionID: "sub_1", UserID: "ghost", LicenseType: models.LicenseSingle})
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestInvoicePaidAndSubscriptionDeleted(t *testing.T) {
	ctx := context.Background()
	store := testutil.TestStorage()
	svc, _ := newTestService(t, store)
	seedUser(t, store, "owner")

	created := completeCheckout(t, svc, "owner", "sub_1", models.LicenseSingle)

	later := fixedNow.Add(200 * 24 * time.Hour)
	svc.Now = func() time.Time { return later }

	revoked, err := svc.HandleSubscriptionDeleted(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRevoked, revoked.Status)

	renewed, err := svc.HandleInvoicePaid(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, renewed.ID)
	assert.Equal(t, models.StatusActive, renewed.Status)
	assert.True(t, renewed.ExpiresAt.Equal(later.AddDate(1, 0, 0)), "expiry is one year from processing, not from the old expiry")

	stored, _ := store.GetLicense(ctx, created.ID)
	assert.Equal(t, models.StatusActive, stored.Status)

	unknown, err := svc.HandleInvoicePaid(ctx, "sub_unknown")
	assert.NoError(t, err)
	assert.Nil(t, unknown)

	gone, err := svc.HandleSubscriptionDeleted(ctx, "sub_unknown")
	assert.NoError(t, err)
	assert.Nil(t, gone)

	_, err = svc.HandleInvoicePaid(ctx, "")
	assert.ErrorIs(t, err, ErrMissingSubscription)
}

func TestActivate(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Service, *models.License, storage.Storage) {
		store := testutil.TestStorage()
		svc, _ := newTestService(t, store)
		seedUser(t, store, "owner")
		seedUser(t, store, "joiner")
		seedUser(t, store, "other-owner")
		l := completeCheckout(t, svc, "owner", "sub_1", models.LicenseFamily)
		return svc, l, store
	}

	t.Run("normalizes key and joins", func(t *testing.T) {
		svc, l, store := setup(t)

		got, err := svc.Activate(ctx, "joiner", "  tu56781990 ")
		require.NoError(t, err)
		assert.Equal(t, l.ID, got.ID)

		membership, _ := store.FindMembershipByUser(ctx, "joiner")
		require.NotNil(t, membership)
		assert.Equal(t, "owner", membership.AddedBy)
	})

	t.Run("second activation conflicts", func(t *testing.T) {
		svc, l, store := setup(t)

		_, err := svc.Activate(ctx, "joiner", l.Key)
		require.NoError(t, err)
		_, err = svc.Activate(ctx, "joiner", l.Key)
		assert.ErrorIs(t, err, ErrAlreadyMember)
		assert.Equal(t, apperr.Conflict, apperr.KindOf(err))

		members, _ := store.ListLicenseMembers(ctx, l.ID)
		assert.Len(t, members, 1)
	})

	t.Run("member of another license", func(t *testing.T) {
		svc, l, _ := setup(t)
		other := completeCheckout(t, svc, "other-owner", "sub_2", models.LicenseFamily)

		_, err := svc.Activate(ctx, "joiner", other.Key)
		require.NoError(t, err)
		_, err = svc.Activate(ctx, "joiner", l.Key)
		assert.ErrorIs(t, err, ErrMemberElsewhere)
	})

	tests := []struct {
		name    string
		userID  string
		key     string
		mutate  func(l *models.License)
		wantErr error
	}{
		{"unknown user", "ghost", "TU56781990", nil, ErrUserNotFound},
		{"unknown key", "joiner", "NOPE", nil, ErrInvalidKey},
		{"empty key", "joiner", "   ", nil, ErrInvalidKey},
		{"owner", "owner", "TU56781990", nil, ErrAlreadyOwner},
		{"revoked", "joiner", "TU56781990", func(l *models.License) { l.Status = models.StatusRevoked }, ErrNotActive},
		{"expired status", "joiner", "TU56781990", func(l *models.License) { l.Status = models.StatusExpired }, ErrNotActive},
		{"past expiry", "joiner", "TU56781990", func(l *models.License) {
			past := fixedNow.Add(-time.Second)
			l.ExpiresAt = &past
		}, ErrExpired},
		{"single license has no spare seat", "joiner", "TU56781990", func(l *models.License) { l.MaxUsers = models.LicenseSingle.MaxUsers() }, ErrSeatsFull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, l, store := setup(t)
			if tt.mutate != nil {
				tt.mutate(l)
				require.NoError(t, store.UpdateLicense(ctx, l))
			}

			_, err := svc.Activate(ctx, tt.userID, tt.key)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFamilyLicenseScenario(t *testing.T) {
	backends := map[string]func(t *testing.T) storage.Storage{
		"memory": func(t *testing.T) storage.Storage { return testutil.TestStorage() },
		"sqlite": func(t *testing.T) storage.Storage {
			s, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "family.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			svc, _ := newTestService(t, store)
			seedUser(t, store, "owner")
			l := completeCheckout(t, svc, "owner", "sub_family", models.LicenseFamily)

			users := testutil.SeedUsers(t, store, "family", 10)
			for _, u := range users[:9] {
				_, err := svc.Activate(ctx, u.ID, l.Key)
				require.NoError(t, err, "activation for %s", u.ID)
			}

			_, err := svc.Activate(ctx, users[9].ID, l.Key)
			assert.ErrorIs(t, err, ErrSeatsFull)

			roster, err := svc.ListUsers(ctx, "owner", l.ID)
			require.NoError(t, err)
			assert.Equal(t, 10, roster.CurrentUsers)
			assert.Len(t, roster.Users, 9)
			assert.Equal(t, "owner", roster.Owner.ID)
		})
	}
}

func TestActivate_ConcurrentLastSeat(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "seats.db"))
	require.NoError(t, err)
	defer store.Close()

	svc, _ := newTestService(t, store)
	seedUser(t, store, "owner")
	l := completeCheckout(t, svc, "owner", "sub_family", models.LicenseFamily)

	users := testutil.SeedUsers(t, store, "early", 8)
	for _, u := range users {
		_, err := svc.Activate(ctx, u.ID, l.Key)
		require.NoError(t, err)
	}

	contenders := testutil.SeedUsers(t, store, "late", 6)
	var wg sync.WaitGroup
	errs := make(chan error, len(contenders))
	for _, u := range contenders {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, err := svc.Activate(ctx, userID, l.Key)
			errs <- err
		}(u.ID)
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrSeatsFull)
	}
	assert.Equal(t, 1, succeeded)

	members, _ := store.ListLicenseMembers(ctx, l.ID)
	assert.Len(t, members, 9)
}

func TestLeaveAndRemoveMember(t *testing.T) {
	ctx := context.Background()
	store := testutil.TestStorage()
	svc, _ := newTestService(t, store)
	seedUser(t, store, "owner")
	seedUser(t, store, "m1")
	seedUser(t, store, "m2")
	seedUser(t, store, "stranger")
	l := completeCheckout(t, svc, "owner", "sub_1", models.LicenseFamily)

	for _, id := range []string{"m1", "m2"} {
		_, err := svc.Activate(ctx, id, l.Key)
		require.NoError(t, err)
	}

	err := svc.Leave(ctx, "owner", l.ID)
	assert.ErrorIs(t, err, ErrOwnerCannotLeave)
	assert.Equal(t, apperr.Forbidden, apperr.KindOf(err))

	assert.ErrorIs(t, svc.Leave(ctx, "m1", "missing"), ErrLicenseNotFound)
	assert.ErrorIs(t, svc.Leave(ctx, "stranger", l.ID), ErrNotMember)

	require.NoError(t, svc.Leave(ctx, "m1", l.ID))
	membership, _ := store.FindMembershipByUser(ctx, "m1")
	assert.Nil(t, membership)
	other, _ := store.FindMembershipByUser(ctx, "m2")
	assert.NotNil(t, other, "leave removes only the caller's row")

	assert.ErrorIs(t, svc.RemoveMember(ctx, "m2", l.ID, "m2"), ErrNotOwner)
	assert.ErrorIs(t, svc.RemoveMember(ctx, "owner", l.ID, "owner"), ErrOwnerCannotLeave)
	require.NoError(t, svc.RemoveMember(ctx, "owner", l.ID, "m2"))
	assert.ErrorIs(t, svc.RemoveMember(ctx, "owner", l.ID, "m2"), ErrNotMember)
}

func TestCheckStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("no license", func(t *testing.T) {
		store := testutil.TestStorage()
		svc, _ := newTestService(t, store)
		seedUser(t, store, "u")

		status, err := svc.CheckStatus(ctx, "u")
		require.NoError(t, err)
		assert.False(t, status.HasLicense)
		assert.Nil(t, status.License)
	})

	t.Run("unknown user", func(t *testing.T) {
		svc, _ := newTestService(t, testutil.TestStorage())
		_, err := svc.CheckStatus(ctx, "ghost")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("expired but active status", func(t *testing.T) {
		store := testutil.TestStorage()
		svc, _ := newTestService(t, store)
		seedUser(t, store, "owner")
		l := completeCheckout(t, svc, "owner", "sub_1", models.LicenseSingle)

		yesterday := fixedNow.AddDate(0, 0, -1)
		l.ExpiresAt = &yesterday
		require.NoError(t, store.UpdateLicense(ctx, l))

		status, err := svc.CheckStatus(ctx, "owner")
		require.NoError(t, err)
		assert.False(t, status.HasLicense)
		require.NotNil(t, status.License)
		assert.Equal(t, models.StatusActive, status.License.Status)

		has, err := svc.HasAccess(ctx, "owner")
		require.NoError(t, err)
		assert.False(t, has)

		_, err = svc.HandleInvoicePaid(ctx, "sub_1")
		require.NoError(t, err)
		has, _ = svc.HasAccess(ctx, "owner")
		assert.True(t, has, "renewal restores access immediately")
	})

	t.Run("ownership wins over membership", func(t *testing.T) {
		store := testutil.TestStorage()
		svc, _ := newTestService(t, store)
		seedUser(t, store, "a")
		seedUser(t, store, "b")
		family := completeCheckout(t, svc, "a", "sub_a", models.LicenseFamily)
		_, err := svc.Activate(ctx, "b", family.Key)
		require.NoError(t, err)
		own := completeCheckout(t, svc, "b", "sub_b", models.LicenseSingle)

		status, err := svc.CheckStatus(ctx, "b")
		require.NoError(t, err)
		assert.True(t, status.HasLicense)
		assert.Equal(t, RoleOwner, status.Role)
		assert.Equal(t, own.ID, status.License.ID)
	})

	t.Run("membership of revoked license", func(t *testing.T) {
		store := testutil.TestStorage()
		svc, _ := newTestService(t, store)
		seedUser(t, store, "a")
		seedUser(t, store, "b")
		family := completeCheckout(t, svc, "a", "sub_a", models.LicenseFamily)
		_, err := svc.Activate(ctx, "b", family.Key)
		require.NoError(t, err)

		status, _ := svc.CheckStatus(ctx, "b")
		assert.True(t, status.HasLicense)
		assert.Equal(t, RoleMember, status.Role)

		_, err = svc.HandleSubscriptionDeleted(ctx, "sub_a")
		require.NoError(t, err)

		status, _ = svc.CheckStatus(ctx, "b")
		assert.False(t, status.HasLicense)
		assert.Equal(t, family.ID, status.License.ID)
	})
}

func TestListUsersAndSetStatus(t *testing.T) {
	ctx := context.Background()
	store := testutil.TestStorage()
	svc, _ := newTestService(t, store)
	seedUser(t, store, "owner")
	seedUser(t, store, "m1")
	l := completeCheckout(t, svc, "owner", "sub_1", models.LicenseFamily)
	_, err := svc.Activate(ctx, "m1", l.Key)
	require.NoError(t, err)

	_, err = svc.ListUsers(ctx, "m1", l.ID)
	assert.ErrorIs(t, err, ErrNotOwner)

	roster, err := svc.ListUsers(ctx, "owner", l.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, roster.CurrentUsers)
	require.Len(t, roster.Users, 1)
	assert.Equal(t, "m1", roster.Users[0].ID)
	assert.Equal(t, 10, *roster.MaxUsers)

	_, err = svc.SetStatus(ctx, l.ID, "paused")
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = svc.SetStatus(ctx, "missing", "revoked")
	assert.ErrorIs(t, err, ErrLicenseNotFound)

	updated, err := svc.SetStatus(ctx, l.ID, "Revoked")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRevoked, updated.Status)

	_, err = svc.Activate(ctx, "owner", l.Key)
	assert.ErrorIs(t, err, ErrNotActive, "status is checked before ownership")
}
