package billing

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"courseplatform.app/api/internal/license"
	"courseplatform.app/api/internal/testutil"
	"courseplatform.app/api/models"
	"courseplatform.app/api/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

func decodeEvent(t *testing.T, payload []byte) stripe.Event {
	t.Helper()
	var event stripe.Event
	require.NoError(t, json.Unmarshal(payload, &event))
	return event
}

func setupDispatcher(t *testing.T) (*Dispatcher, *storage.MemoryStorage, *license.Service) {
	t.Helper()
	store := testutil.TestStorage()
	licenses := license.NewService(store, nil)
	return NewDispatcher(licenses, store), store, licenses
}

func seed(t *testing.T, store storage.Storage, id string) {
	t.Helper()
	u := testutil.CreateTestUser(id, id+"@example.com")
	require.NoError(t, store.CreateUser(context.Background(), &u))
}

func TestDispatch_LicenseCheckout(t *testing.T) {
	ctx := context.Background()
	d, store, _ := setupDispatcher(t)
	seed(t, store, "owner")

	event := decodeEvent(t, testutil.CreateStripeEvent("evt_1", "checkout.session.completed",
		testutil.CreateCheckoutSession("cs_1", "sub_1", "cus_1", "owner", models.LicenseFamily)))

	require.NoError(t, d.Dispatch(ctx, event))
	require.NoError(t, d.Dispatch(ctx, event), "replay is harmless")

	owned, _ := store.FindLicensesByOwner(ctx, "owner")
	require.Len(t, owned, 1)
	assert.Equal(t, models.LicenseFamily, owned[0].Type)
	assert.Equal(t, "sub_1", owned[0].StripeSubscriptionID)
	assert.Equal(t, "cus_1", owned[0].StripeCustomerID)

	user, _ := store.GetUser(ctx, "owner")
	assert.Equal(t, "cus_1", user.StripeCustomerID)
	assert.Equal(t, models.TierFree, user.MembershipTier, "license checkouts leave the plan tier alone")
}

func TestDispatch_LicenseCheckoutUsesClientReference(t *testing.T) {
	ctx := context.Background()
	d, store, _ := setupDispatcher(t)
	seed(t, store, "owner")

	session := testutil.CreateCheckoutSession("cs_1", "sub_1", "cus_1", "owner", models.LicenseSingle)
	delete(session["metadata"].(map[string]interface{}), "userId")

	require.NoError(t, d.Dispatch(ctx, decodeEvent(t, testutil.CreateStripeEvent("evt_1", "checkout.session.completed", session))))

	owned, _ := store.FindLicensesByOwner(ctx, "owner")
	assert.Len(t, owned, 1)
}

func TestDispatch_PlanCheckout(t *testing.T) {
	ctx := context.Background()
	d, store, _ := setupDispatcher(t)
	seed(t, store, "member")

	session := map[string]interface{}{
		"id":                  "cs_plan",
		"object":              "checkout.session",
		"mode":                "subscription",
		"client_reference_id": "member",
		"customer":            "cus_plan",
		"subscription":        "sub_plan",
		"metadata":            map[string]interface{}{},
	}
	require.NoError(t, d.Dispatch(ctx, decodeEvent(t, testutil.CreateStripeEvent("evt_plan", "checkout.session.completed", session))))

	user, _ := store.GetUser(ctx, "member")
	assert.Equal(t, models.TierPremium, user.MembershipTier)
	assert.Equal(t, "cus_plan", user.StripeCustomerID)

	owned, _ := store.FindLicensesByOwner(ctx, "member")
	assert.Empty(t, owned)

	// Cancelling the plan subscription degrades the tier.
	sub := map[string]interface{}{"id": "sub_plan", "object": "subscription", "customer": "cus_plan", "status": "canceled"}
	require.NoError(t, d.Dispatch(ctx, decodeEvent(t, testutil.CreateStripeEvent("evt_del", "customer.subscription.deleted", sub))))

	user, _ = store.GetUser(ctx, "member")
	assert.Equal(t, models.TierFree, user.MembershipTier)
}

func TestDispatch_PlanCheckoutUnknownUser(t *testing.T) {
	d, _, _ := setupDispatcher(t)
	session := map[string]interface{}{
		"id":       "cs_plan",
		"object":   "checkout.session",
		"mode":     "subscription",
		"customer": "cus_nobody",
		"metadata": map[string]interface{}{"type": "plan", "plan": "premium"},
	}
	err := d.Dispatch(context.Background(), decodeEvent(t, testutil.CreateStripeEvent("evt_plan", "checkout.session.completed", session)))
	assert.Error(t, err)
}

func TestDispatch_InvoicePaid(t *testing.T) {
	ctx := context.Background()

	shapes := map[string]map[string]interface{}{
		"flat subscription": {
			"id": "in_1", "object": "invoice", "subscription": "sub_1",
		},
		"parent subscription details": {
			"id": "in_1", "object": "invoice",
			"parent": map[string]interface{}{
				"type": "subscription_details",
				"subscription_details": map[string]interface{}{
					"subscription": "sub_1",
				},
			},
		},
		"expanded subscription": {
			"id": "in_1", "object": "invoice",
			"subscription": map[string]interface{}{"id": "sub_1", "object": "subscription"},
		},
	}

	for name, invoice := range shapes {
		t.Run(name, func(t *testing.T) {
			d, store, licenses := setupDispatcher(t)
			seed(t, store, "owner")
			created, err := licenses.HandleCheckoutCompleted(ctx, license.CheckoutCompleted{
				SubscriptionID: "sub_1",
				UserID:         "owner",
				LicenseType:    models.LicenseSingle,
			})
			require.NoError(t, err)

			created.Status = models.StatusExpired
			require.NoError(t, store.UpdateLicense(ctx, created))

			processedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			licenses.Now = func() time.Time { return processedAt }

			require.NoError(t, d.Dispatch(ctx, decodeEvent(t, testutil.CreateStripeEvent("evt_inv", "invoice.paid", invoice))))

			renewed, _ := store.GetLicense(ctx, created.ID)
			assert.Equal(t, models.StatusActive, renewed.Status)
			assert.True(t, renewed.ExpiresAt.Equal(processedAt.AddDate(1, 0, 0)))
		})
	}
}

func TestDispatch_InvoiceWithoutSubscription(t *testing.T) {
	d, _, _ := setupDispatcher(t)
	event := decodeEvent(t, testutil.CreateStripeEvent("evt_inv", "invoice.paid", map[string]interface{}{
		"id": "in_oneoff", "object": "invoice",
	}))
	assert.NoError(t, d.Dispatch(context.Background(), event))
}

func TestDispatch_SubscriptionDeletedRevokesLicense(t *testing.T) {
	ctx := context.Background()
	d, store, licenses := setupDispatcher(t)
	seed(t, store, "owner")
	created, err := licenses.HandleCheckoutCompleted(ctx, license.CheckoutCompleted{
		SubscriptionID: "sub_1",
		CustomerID:     "cus_1",
		UserID:         "owner",
		LicenseType:    models.LicenseFamily,
	})
	require.NoError(t, err)

	sub := map[string]interface{}{"id": "sub_1", "object": "subscription", "customer": "cus_1"}
	require.NoError(t, d.Dispatch(ctx, decodeEvent(t, testutil.CreateStripeEvent("evt_del", "customer.subscription.deleted", sub))))

	revoked, _ := store.GetLicense(ctx, created.ID)
	assert.Equal(t, models.StatusRevoked, revoked.Status)
}

func TestDispatch_IgnoresUnknownEvents(t *testing.T) {
	d, _, _ := setupDispatcher(t)
	event := decodeEvent(t, testutil.CreateStripeEvent("evt_x", "customer.created", map[string]interface{}{
		"id": "cus_1", "object": "customer",
	}))
	assert.NoError(t, d.Dispatch(context.Background(), event))

	payment := decodeEvent(t, testutil.CreateStripeEvent("evt_pay", "checkout.session.completed", map[string]interface{}{
		"id": "cs_pay", "object": "checkout.session", "mode": "payment",
	}))
	assert.NoError(t, d.Dispatch(context.Background(), payment))
}

func TestDispatch_MalformedObject(t *testing.T) {
	d, _, _ := setupDispatcher(t)
	event := stripe.Event{
		ID:   "evt_bad",
		Type: stripe.EventTypeInvoicePaid,
		Data: &stripe.EventData{Raw: json.RawMessage(`{"subscription": 42}`)},
	}
	assert.Error(t, d.Dispatch(context.Background(), event))
}
