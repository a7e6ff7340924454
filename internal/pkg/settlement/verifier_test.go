package settlement_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ManuelReschke/paysettle/app/models"
	"github.com/ManuelReschke/paysettle/internal/pkg/entitlements"
	"github.com/ManuelReschke/paysettle/internal/pkg/gateway"
	"github.com/ManuelReschke/paysettle/internal/pkg/gateway/gatewaytest"
	"github.com/ManuelReschke/paysettle/internal/pkg/settlement"
	"github.com/ManuelReschke/paysettle/internal/pkg/settlement/settlementtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var listing1 = settlement.OrderRef{Kind: entitlements.KindListing, ID: 1}

func notify(params map[string]string) settlement.Callback {
	return settlement.Callback{Channel: settlement.ChannelNotify, Params: params}
}

func TestVerifierPaidThenReplay(t *testing.T) {
	f := newFixture(t)
	f.store.Put(settlementtest.Listing(1, models.PaymentStatusPending, 9900, "", entitlements.TierTop, 60))
	f.srv.SetTransaction(gatewaytest.Transaction{Token: "T123", OrderID: "listing-1", Amount: 9900, Status: gateway.StatusPaid})
	ctx := context.Background()
	cb := notify(gatewaytest.Callback("T123", "listing-1"))

	res := f.svc.Verifier.Handle(ctx, cb)
	require.Equal(t, settlement.OutcomeSuccess, res.Outcome, res.Err)
	assert.False(t, res.Replay)
	assert.Equal(t, "listing-1", res.CorrelationID)

	order, _ := f.store.Get(listing1)
	assert.Equal(t, models.PaymentStatusPaid, order.Status)
	assert.Equal(t, "T123", order.Token)
	assert.Equal(t, 1, f.store.Applications(listing1))
	firstExpiry, ok := f.store.Expiry(listing1)
	require.True(t, ok)

	res = f.svc.Verifier.Handle(ctx, cb)
	assert.Equal(t, settlement.OutcomeSuccess, res.Outcome)
	assert.True(t, res.Replay)

	order, _ = f.store.Get(listing1)
	assert.Equal(t, models.PaymentStatusPaid, order.Status)
	assert.Equal(t, 1, f.store.Applications(listing1))
	expiry, _ := f.store.Expiry(listing1)
	assert.Equal(t, firstExpiry, expiry)

	assert.Equal(t, 2, f.rec.count(settlement.OutcomeSuccess))
	assert.Equal(t, 2, f.srv.Calls("/status"))
	assert.Equal(t, 2, f.srv.Calls("/release"))
	assert.Equal(t, 2, f.rec.locks)

	// one log entry per distinct delivery
	callbacks := f.store.Callbacks()
	require.Len(t, callbacks, 1)
	assert.True(t, callbacks[0].Processed)
	assert.True(t, callbacks[0].SignatureValid)
	assert.Equal(t, settlement.OutcomeSuccess, callbacks[0].Outcome)
}

func TestVerifierRejectsTamperedCallback(t *testing.T) {
	f := newFixture(t)
	f.store.Put(settlementtest.Listing(1, models.PaymentStatusPending, 9900, "", entitlements.TierTop, 60))
	f.srv.SetTransaction(gatewaytest.Transaction{Token: "T123", OrderID: "listing-1", Amount: 9900, Status: gateway.StatusPaid})

	params := gatewaytest.Callback("T123", "listing-1")
	params[gateway.ParamToken] = "T124"

	res := f.svc.Verifier.Handle(context.Background(), notify(params))
	assert.Equal(t, settlement.OutcomeHashError, res.Outcome)
	assert.ErrorIs(t, res.Err, gateway.ErrSignatureMismatch)

	order, _ := f.store.Get(listing1)
	assert.Equal(t, models.PaymentStatusPending, order.Status)
	assert.Empty(t, order.Token)
	assert.Equal(t, 0, f.srv.Calls("/status"))
	assert.Equal(t, 0, f.store.Applications(listing1))
	assert.Equal(t, 1, f.rec.audited("hash_mismatch"))
	assert.Empty(t, f.store.Callbacks())
}

func TestVerifierForgedCallbacksLeaveNoTrace(t *testing.T) {
	f := newFixture(t)
	f.store.Put(settlementtest.Listing(1, models.PaymentStatusPending, 9900, "", entitlements.TierTop, 60))

	for i := 0; i < 50; i++ {
		res := f.svc.Verifier.Handle(context.Background(), notify(map[string]string{
			gateway.ParamToken:     fmt.Sprintf("FORGED-%d", i),
			gateway.ParamOrderID:   "listing-1",
			gateway.ParamTimestamp: "1700000000",
			gateway.ParamHash:      "deadbeef",
		}))
		require.Equal(t, settlement.OutcomeHashError, res.Outcome)
	}

	assert.Empty(t, f.store.Callbacks())
	assert.Equal(t, []models.PaymentStatus{models.PaymentStatusPending}, f.store.History(listing1))
	assert.Equal(t, 50, f.rec.audited("hash_mismatch"))
	assert.Equal(t, 0, f.srv.Calls("/status"))
}

func TestVerifierFailedEntitlementRollsBack(t *testing.T) {
	f := newFixture(t)
	f.store.Put(settlementtest.Listing(1, models.PaymentStatusPending, 9900, "", entitlements.TierTop, 60))
	f.srv.SetTransaction(gatewaytest.Transaction{Token: "T123", OrderID: "listing-1", Amount: 9900, Status: gateway.StatusPaid})
	f.store.FailApplyEntitlement(errors.New("deadlock found"))

	res := f.svc.Verifier.Handle(context.Background(), notify(gatewaytest.Callback("T123", "listing-1")))
	assert.Equal(t, settlement.OutcomeError, res.Outcome)
	assert.True(t, res.Retryable)

	order, _ := f.store.Get(listing1)
	assert.Equal(t, models.PaymentStatusPending, order.Status)
	assert.Empty(t, order.Token)
	assert.Equal(t, 0, f.store.Applications(listing1))

	// The redelivery settles once the store recovers.
	f.store.FailApplyEntitlement(nil)
	res = f.svc.Verifier.Handle(context.Background(), notify(gatewaytest.Callback("T123", "listing-1")))
	assert.Equal(t, settlement.OutcomeSuccess, res.Outcome)
	assert.False(t, res.Replay)
	assert.Equal(t, 1, f.store.Applications(listing1))
}

func TestVerifierRejectsAlteredDigest(t *testing.T) {
	f := newFixture(t)
	f.store.Put(settlementtest.Listing(1, models.PaymentStatusPending, 9900, "", entitlements.TierTop, 60))
	f.srv.SetTransaction(gatewaytest.Transaction{Token: "T123", OrderID: "listing-1", Amount: 9900, Status: gateway.StatusPaid})

	params := gatewaytest.Callback("T123", "listing-1")
	digest := []byte(params[gateway.ParamHash])
	if digest[len(digest)-1] == '0' {
		digest[len(digest)-1] = '1'
	} else {
		digest[len(digest)-1] = '0'
	}
	params[gateway.ParamHash] = string(digest)

	res := f.svc.Verifier.Handle(context.Background(), notify(params))
	assert.Equal(t, settlement.OutcomeHashError, res.Outcome)
	order, _ := f.store.Get(listing1)
	assert.Equal(t, models.PaymentStatusPending, order.Status)
	assert.Equal(t, 0, f.srv.Calls("/status"))
}

func TestVerifierStatusIsAuthoritative(t *testing.T) {
	f := newFixture(t)
	f.store.Put(settlementtest.Listing(1, models.PaymentStatusPending, 9900, "", entitlements.TierTop, 60))
	f.srv.SetTransaction(gatewaytest.Transaction{Token: "T123", OrderID: "listing-1", Amount: 9900, Status: gateway.StatusAuthorized})

	params := gatewaytest.Callback("T123", "listing-1")
	res := f.svc.Verifier.Handle(context.Background(), notify(params))
	assert.Equal(t, settlement.OutcomeNotPaid, res.Outcome)
	assert.Equal(t, gateway.StatusAuthorized, res.GatewayStatus)

	order, _ := f.store.Get(listing1)
	assert.Equal(t, models.PaymentStatusPending, order.Status)
	assert.Equal(t, 0, f.store.Applications(listing1))
	assert.Equal(t, 0, f.srv.Calls("/release"))
}

func TestVerifierCorrelationFallback(t *testing.T) {
	t.Run("order id from status response", func(t *testing.T) {
		f := newFixture(t)
		f.store.Put(settlementtest.Listing(1, models.PaymentStatusPending, 9900, "", entitlements.TierTop, 60))
		f.srv.SetTransaction(gatewaytest.Transaction{Token: "T123", OrderID: "listing-1", Amount: 9900, Status: gateway.StatusPaid})

		res := f.svc.Verifier.Handle(context.Background(), notify(gatewaytest.Callback("T123", "")))
		require.Equal(t, settlement.OutcomeSuccess, res.Outcome, res.Err)

		order, _ := f.store.Get(listing1)
		assert.Equal(t, models.PaymentStatusPaid, order.Status)
		assert.Equal(t, "T123", order.Token)
	})

	t.Run("token only", func(t *testing.T) {
		f := newFixture(t)
		f.store.Put(settlementtest.Listing(7, models.PaymentStatusPending, 2990, "T7", entitlements.TierPremium, 30))
		f.srv.SetTransaction(gatewaytest.Transaction{Token: "T7", Amount: 2990, Status: gateway.StatusPaid})

		res := f.svc.Verifier.Handle(context.Background(), notify(gatewaytest.Callback("T7", "")))
		require.Equal(t, settlement.OutcomeSuccess, res.Outcome, res.Err)
		assert.Equal(t, "listing-7", res.CorrelationID)
	})
}

func TestVerifierUnmatchedOrderIsFlagged(t *testing.T) {
	f := newFixture(t)
	f.srv.SetTransaction(gatewaytest.Transaction{Token: "T404", OrderID: "listing-404", Amount: 9900, Status: gateway.StatusPaid})

	res := f.svc.Verifier.Handle(context.Background(), notify(gatewaytest.Callback("T404", "listing-404")))
	assert.Equal(t, settlement.OutcomeReconcile, res.Outcome)
	assert.NotEqual(t, settlement.OutcomeSuccess, res.Outcome)
	assert.Equal(t, gateway.StatusPaid, res.GatewayStatus)
	assert.Equal(t, 1, f.rec.count(settlement.OutcomeReconcile))
	assert.Equal(t, 0, f.rec.count(settlement.OutcomeSuccess))
	assert.Equal(t, 1, f.rec.audited("reconcile"))
}

func TestVerifierMismatchesAreReconciled(t *testing.T) {
	t.Run("amount", func(t *testing.T) {
		f := newFixture(t)
		f.store.Put(settlementtest.Listing(1, models.PaymentStatusPending, 9900, "", entitlements.TierTop, 60))
		f.srv.SetTransaction(gatewaytest.Transaction{Token: "T1", OrderID: "listing-1", Amount: 100, Status: gateway.StatusPaid})

		res := f.svc.Verifier.Handle(context.Background(), notify(gatewaytest.Callback("T1", "listing-1")))
		assert.Equal(t, settlement.OutcomeReconcile, res.Outcome)
		order, _ := f.store.Get(listing1)
		assert.Equal(t, models.PaymentStatusPending, order.Status)
	})

	t.Run("token", func(t *testing.T) {
		f := newFixture(t)
		f.store.Put(settlementtest.Listing(1, models.PaymentStatusPending, 9900, "T1", entitlements.TierTop, 60))
		f.srv.SetTransaction(gatewaytest.Transaction{Token: "T2", OrderID: "listing-1", Amount: 9900, Status: gateway.StatusPaid})

		res := f.svc.Verifier.Handle(context.Background(), notify(gatewaytest.Callback("T2", "listing-1")))
		assert.Equal(t, settlement.OutcomeReconcile, res.Outcome)
		order, _ := f.store.Get(listing1)
		assert.Equal(t, "T1", order.Token)
	})

	t.Run("order id", func(t *testing.T) {
		f := newFixture(t)
		f.store.Put(settlementtest.Listing(1, models.PaymentStatusPending, 9900, "", entitlements.TierTop, 60))
		f.srv.SetTransaction(gatewaytest.Transaction{Token: "T1", OrderID: "listing-2", Amount: 9900, Status: gateway.StatusPaid})

		res := f.svc.Verifier.Handle(context.Background(), notify(gatewaytest.Callback("T1", "listing-1")))
		assert.Equal(t, settlement.OutcomeReconcile, res.Outcome)
	})

	t.Run("cancelled order", func(t *testing.T) {
		f := newFixture(t)
		f.store.Put(settlementtest.Listing(1, models.PaymentStatusCancelled, 9900, "T1", entitlements.TierTop, 60))
		f.srv.SetTransaction(gatewaytest.Transaction{Token: "T1", OrderID: "listing-1", Amount: 9900, Status: gateway.StatusPaid})

		res := f.svc.Verifier.Handle(context.Background(), notify(gatewaytest.Callback("T1", "listing-1")))
		assert.Equal(t, settlement.OutcomeReconcile, res.Outcome)
		order, _ := f.store.Get(listing1)
		assert.Equal(t, models.PaymentStatusCancelled, order.Status)
		assert.Equal(t, 0, f.store.Applications(listing1))
	})
}

func TestVerifierConcurrentDeliveries(t *testing.T) {
	f := newFixture(t)
	f.store.Put(settlementtest.Listing(1, models.PaymentStatusPending, 9900, "", entitlements.TierTop, 60))
	f.srv.SetTransaction(gatewaytest.Transaction{Token: "T123", OrderID: "listing-1", Amount: 9900, Status: gateway.StatusPaid})
	params := gatewaytest.Callback("T123", "listing-1")

	const n = 8
	results := make([]settlement.Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.svc.Verifier.Handle(context.Background(), notify(params))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, res := range results {
		assert.Equal(t, settlement.OutcomeSuccess, res.Outcome)
		if !res.Replay {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, f.store.Applications(listing1))
}

func TestVerifierConcurrentStatusUpdatesHaveOneWinner(t *testing.T) {
	store := settlementtest.NewMemoryStore()
	store.Put(settlementtest.Listing(1, models.PaymentStatusPending, 9900, "", entitlements.TierTop, 60))

	const n = 16
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.UpdateStatus(context.Background(), listing1,
				[]models.PaymentStatus{models.PaymentStatusPending}, models.PaymentStatusPaid, "T123")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, settlement.ErrStatusConflict)
		}
	}
	assert.Equal(t, 1, ok)
}

func TestVerifierSoftFailures(t *testing.T) {
	t.Run("missing params", func(t *testing.T) {
		f := newFixture(t)
		res := f.svc.Verifier.Handle(context.Background(), notify(map[string]string{gateway.ParamToken: "T1"}))
		assert.Equal(t, settlement.OutcomeMissingParams, res.Outcome)
		assert.Empty(t, f.store.Callbacks())
		assert.Equal(t, 1, f.rec.count(settlement.OutcomeMissingParams))
	})

	t.Run("secret missing", func(t *testing.T) {
		srv := gatewaytest.New(t)
		cfg := srv.Config()
		cfg.Secret = ""
		store := settlementtest.NewMemoryStore()
		v := settlement.NewVerifier(store, gateway.NewClient(cfg), settlement.VerifierOptions{})

		res := v.Handle(context.Background(), notify(gatewaytest.Callback("T1", "listing-1")))
		assert.Equal(t, settlement.OutcomeConfigError, res.Outcome)
		assert.Equal(t, 0, srv.Calls("/status"))
	})

	t.Run("status unreachable", func(t *testing.T) {
		f := newFixture(t)
		f.store.Put(settlementtest.Listing(1, models.PaymentStatusPending, 9900, "", entitlements.TierTop, 60))
		f.srv.FailStatus = true

		res := f.svc.Verifier.Handle(context.Background(), notify(gatewaytest.Callback("T1", "listing-1")))
		assert.Equal(t, settlement.OutcomeError, res.Outcome)
		assert.True(t, res.Retryable)
		order, _ := f.store.Get(listing1)
		assert.Equal(t, models.PaymentStatusPending, order.Status)
	})
}

func TestVerifierReleaseFailureDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	f.store.Put(settlementtest.Listing(1, models.PaymentStatusPending, 9900, "", entitlements.TierTop, 60))
	f.srv.SetTransaction(gatewaytest.Transaction{Token: "T123", OrderID: "listing-1", Amount: 9900, Status: gateway.StatusPaid})
	f.srv.FailRelease = true

	res := f.svc.Verifier.Handle(context.Background(), notify(gatewaytest.Callback("T123", "listing-1")))
	assert.Equal(t, settlement.OutcomeSuccess, res.Outcome)
	assert.Equal(t, []string{"T123"}, f.rec.releases)
	assert.Equal(t, 1, f.store.Applications(listing1))
}

func TestVerifierLockFailureIsBestEffort(t *testing.T) {
	f := newFixture(t)
	f.rec.lockErr = errLockBusy
	f.store.Put(settlementtest.Listing(1, models.PaymentStatusPending, 9900, "", entitlements.TierTop, 60))
	f.srv.SetTransaction(gatewaytest.Transaction{Token: "T123", OrderID: "listing-1", Amount: 9900, Status: gateway.StatusPaid})

	res := f.svc.Verifier.Handle(context.Background(), notify(gatewaytest.Callback("T123", "listing-1")))
	assert.Equal(t, settlement.OutcomeSuccess, res.Outcome)
}

func TestDeliveryIDIsStable(t *testing.T) {
	a := map[string]string{"token": "T1", "timestamp": "1", "hash": "x"}
	b := map[string]string{"hash": "x", "timestamp": "1", "token": "T1"}
	assert.Equal(t, settlement.DeliveryID(a), settlement.DeliveryID(b))
	b["debug"] = "1"
	assert.NotEqual(t, settlement.DeliveryID(a), settlement.DeliveryID(b))
}
