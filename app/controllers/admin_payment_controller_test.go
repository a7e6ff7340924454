package controllers

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/html/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/paysettle/app/models"
	"github.com/ManuelReschke/paysettle/internal/pkg/entitlements"
	"github.com/ManuelReschke/paysettle/internal/pkg/gateway"
	"github.com/ManuelReschke/paysettle/internal/pkg/gateway/gatewaytest"
	"github.com/ManuelReschke/paysettle/internal/pkg/settlement"
	"github.com/ManuelReschke/paysettle/internal/pkg/settlement/settlementtest"
)

type staticOutcomes struct {
	counts map[string]int64
	err    error
}

func (s staticOutcomes) Snapshot(context.Context) (map[string]int64, error) {
	return s.counts, s.err
}

type adminFixture struct {
	app   *fiber.App
	srv   *gatewaytest.Server
	store *settlementtest.MemoryStore
}

func newAdminFixture(t *testing.T, outcomes OutcomeReader) *adminFixture {
	t.Helper()
	srv := gatewaytest.New(t)
	store := settlementtest.NewMemoryStore()
	svc := settlement.NewService(store, srv.Client(), settlement.VerifierOptions{})
	ac := NewAdminPaymentController(svc, outcomes, 30*time.Minute)

	app := fiber.New(fiber.Config{Views: html.New("../../views", ".html")})
	api := app.Group("/api/v1/admin/payments")
	api.Get("/outcomes", ac.HandleOutcomesAPI)
	api.Get("/pending", ac.HandlePendingAPI)
	api.Post("/sweep", ac.HandleSweepAPI)
	api.Get("/:orderID", ac.HandleShowAPI)
	api.Post("/:orderID/mark-paid", ac.HandleMarkPaidAPI)
	api.Post("/:orderID/cancel", ac.HandleCancelAPI)

	app.Get("/admin/payments", ac.HandleAdminPayments)
	app.Post("/admin/payments/:orderID/mark-paid", ac.HandleAdminMarkPaid)
	app.Post("/admin/payments/:orderID/cancel", ac.HandleAdminCancel)

	return &adminFixture{app: app, srv: srv, store: store}
}

func TestAdminMarkPaidAPI(t *testing.T) {
	f := newAdminFixture(t, nil)
	f.store.Put(settlementtest.Listing(1, models.PaymentStatusPending, 2990, "", entitlements.TierPremium, 30))

	resp, err := f.app.Test(postForm("/api/v1/admin/payments/listing-1/mark-paid", url.Values{"listing_type": {"premium"}}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["changed"])
	order := body["order"].(map[string]any)
	assert.Equal(t, "paid", order["status"])
	assert.Equal(t, "premium", order["tier"])

	resp, err = f.app.Test(postForm("/api/v1/admin/payments/listing-1/mark-paid", url.Values{"listing_type": {"premium"}}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decodeBody(t, resp)["changed"])
	assert.Equal(t, 1, f.store.Applications(listingOne))
}

func TestAdminMarkPaidAPIBodies(t *testing.T) {
	f := newAdminFixture(t, nil)
	f.store.Put(settlementtest.Listing(1, models.PaymentStatusPending, 2990, "", entitlements.TierPremium, 30))

	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/admin/payments/listing-1/mark-paid", strings.NewReader(`{"listing_type":`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	order, _ := f.store.Get(listingOne)
	assert.Equal(t, models.PaymentStatusPending, order.Status)

	resp, err = f.app.Test(httptest.NewRequest(fiber.MethodPost, "/api/v1/admin/payments/listing-1/mark-paid?listing_type=top", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "top", decodeBody(t, resp)["order"].(map[string]any)["tier"])
}

func TestAdminConsoleErrors(t *testing.T) {
	f := newAdminFixture(t, nil)
	f.store.Put(settlementtest.Listing(1, models.PaymentStatusPaid, 2990, "T1", entitlements.TierPremium, 30))

	cases := []struct {
		name   string
		path   string
		form   url.Values
		status int
	}{
		{"cancel paid", "/api/v1/admin/payments/listing-1/cancel", nil, fiber.StatusConflict},
		{"unknown listing type", "/api/v1/admin/payments/listing-1/mark-paid", url.Values{"listing_type": {"gold"}}, fiber.StatusBadRequest},
		{"missing order", "/api/v1/admin/payments/listing-9/cancel", nil, fiber.StatusNotFound},
		{"bad order id", "/api/v1/admin/payments/boat-1/cancel", nil, fiber.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.form == nil {
				tc.form = url.Values{}
			}
			resp, err := f.app.Test(postForm(tc.path, tc.form))
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestAdminShowAndPending(t *testing.T) {
	f := newAdminFixture(t, nil)
	f.store.Put(settlementtest.Listing(1, models.PaymentStatusPending, 1490, "T1", entitlements.TierFeatured, 14))
	f.store.Put(settlementtest.Listing(2, models.PaymentStatusPaid, 1490, "T2", entitlements.TierFeatured, 14))

	resp, err := f.app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/admin/payments/listing-1", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "T1", decodeBody(t, resp)["token"])

	resp, err = f.app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/admin/payments/pending", nil))
	require.NoError(t, err)
	orders := decodeBody(t, resp)["orders"].([]any)
	require.Len(t, orders, 1)
	assert.Equal(t, "listing-1", orders[0].(map[string]any)["order_id"])
}

func TestAdminOutcomesAPI(t *testing.T) {
	f := newAdminFixture(t, staticOutcomes{counts: map[string]int64{"success": 4, "reconcile": 1}})

	resp, err := f.app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/admin/payments/outcomes", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	outcomes := decodeBody(t, resp)["outcomes"].(map[string]any)
	assert.Equal(t, float64(4), outcomes["success"])
	assert.Equal(t, float64(1), outcomes["reconcile"])
	assert.Equal(t, float64(0), outcomes["hash_error"])
	assert.Len(t, outcomes, len(settlement.AllOutcomes))

	broken := newAdminFixture(t, staticOutcomes{err: errors.New("redis down")})
	resp, err = broken.app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/admin/payments/outcomes", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestAdminSweepAPI(t *testing.T) {
	f := newAdminFixture(t, nil)
	f.store.Put(settlementtest.Listing(1, models.PaymentStatusPending, 9900, "T1", entitlements.TierTop, 60))
	f.store.Backdate(listingOne, 2*time.Hour)
	f.srv.SetTransaction(gatewaytest.Transaction{Token: "T1", OrderID: "listing-1", Amount: 9900, Status: gateway.StatusPaid})

	resp, err := f.app.Test(httptest.NewRequest(fiber.MethodPost, "/api/v1/admin/payments/sweep", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, float64(1), body["checked"])
	assert.Equal(t, float64(1), body["settled"])

	order, _ := f.store.Get(listingOne)
	assert.Equal(t, models.PaymentStatusPaid, order.Status)
}

func TestAdminSweepAPIHonoursLimit(t *testing.T) {
	f := newAdminFixture(t, nil)
	for i, token := range []string{"T1", "T2"} {
		id := uint(i + 1)
		f.store.Put(settlementtest.Listing(id, models.PaymentStatusPending, 9900, token, entitlements.TierTop, 60))
		f.store.Backdate(settlement.OrderRef{Kind: entitlements.KindListing, ID: id}, 2*time.Hour)
	}

	resp, err := f.app.Test(httptest.NewRequest(fiber.MethodPost, "/api/v1/admin/payments/sweep?limit=1", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), decodeBody(t, resp)["checked"])
}

func TestPendingLimitIsClamped(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(strconv.Itoa(pendingLimit(c)))
	})

	cases := map[string]string{
		"":            "100",
		"?limit=0":    "100",
		"?limit=-5":   "100",
		"?limit=20":   "20",
		"?limit=9999": "500",
	}
	for query, want := range cases {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/"+query, nil))
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, want, string(body), query)
	}
}

func TestAdminHTMLConsole(t *testing.T) {
	f := newAdminFixture(t, staticOutcomes{counts: map[string]int64{"success": 2}})
	f.store.Put(settlementtest.Listing(1, models.PaymentStatusPending, 1490, "", entitlements.TierFeatured, 14))

	resp, err := f.app.Test(httptest.NewRequest(fiber.MethodGet, "/admin/payments", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	page, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(page), "listing-1")
	assert.Contains(t, string(page), "success: 2")

	resp, err = f.app.Test(postForm("/admin/payments/listing-1/mark-paid", url.Values{}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, adminPaymentsPath, resp.Header.Get(fiber.HeaderLocation))
	order, _ := f.store.Get(listingOne)
	assert.Equal(t, models.PaymentStatusPaid, order.Status)

	resp, err = f.app.Test(postForm("/admin/payments/listing-1/cancel", url.Values{}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	order, _ = f.store.Get(listingOne)
	assert.Equal(t, models.PaymentStatusPaid, order.Status)
}
