package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ManuelReschke/paysettle/internal/pkg/gateway"
	"github.com/ManuelReschke/paysettle/internal/pkg/gateway/gatewaytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientCheckoutStatusRelease(t *testing.T) {
	srv := gatewaytest.New(t)
	client := srv.Client()
	ctx := context.Background()

	out, err := client.Checkout(ctx, gateway.CheckoutRequest{
		OrderID:   "listing-1",
		Amount:    9900,
		ReturnURL: "https://example.test/payment/return",
		Method:    "card",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Token)
	assert.Contains(t, out.RedirectURL, out.Token)

	st, err := client.Status(ctx, out.Token)
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusPending, st.Status)
	assert.Equal(t, int64(9900), st.Amount)
	assert.Equal(t, "listing-1", st.OrderID)
	assert.False(t, st.IsPaid())

	srv.SetTransaction(gatewaytest.Transaction{Token: out.Token, OrderID: "listing-1", Amount: 9900, Status: gateway.StatusPaid})
	st, err = client.Status(ctx, out.Token)
	require.NoError(t, err)
	assert.True(t, st.IsPaid())

	require.NoError(t, client.Release(ctx, out.Token))
	assert.Equal(t, 1, srv.Calls("/release"))
}

func TestClientWrongSecretIsRejected(t *testing.T) {
	srv := gatewaytest.New(t)
	cfg := srv.Config()
	cfg.Secret = "wrong"

	_, err := gateway.NewClient(cfg).Status(context.Background(), "T1")
	require.Error(t, err)
	assert.True(t, gateway.IsUnavailable(err))
	assert.Contains(t, err.Error(), "status=401")
}

func TestClientMissingConfig(t *testing.T) {
	client := gateway.NewClient(gateway.Config{})
	require.ErrorIs(t, client.Ready(), gateway.ErrMissingConfig)

	_, err := client.Checkout(context.Background(), gateway.CheckoutRequest{OrderID: "listing-1", Amount: 1})
	assert.ErrorIs(t, err, gateway.ErrMissingConfig)
}

func TestClientTransportFailures(t *testing.T) {
	srv := gatewaytest.New(t)
	srv.FailRelease = true
	srv.FailStatus = true
	client := srv.Client()

	_, err := client.Status(context.Background(), "T1")
	assert.ErrorIs(t, err, gateway.ErrGatewayUnavailable)
	assert.ErrorIs(t, client.Release(context.Background(), "T1"), gateway.ErrGatewayUnavailable)

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer slow.Close()
	c := gateway.NewClient(gateway.Config{BaseURL: slow.URL, AccessKey: "k", Secret: "s", Timeout: 50 * time.Millisecond})
	_, err = c.Status(context.Background(), "T1")
	assert.ErrorIs(t, err, gateway.ErrGatewayUnavailable)
}

func TestClientVerifyCallback(t *testing.T) {
	srv := gatewaytest.New(t)
	client := srv.Client()

	params := gatewaytest.Callback("T123", "listing-1")
	require.NoError(t, client.VerifyCallback(params))

	params[gateway.ParamDebug] = "1"
	require.NoError(t, client.VerifyCallback(params))

	params[gateway.ParamOrderID] = "listing-2"
	assert.ErrorIs(t, client.VerifyCallback(params), gateway.ErrSignatureMismatch)

	noSecret := gateway.NewClient(gateway.Config{BaseURL: srv.URL, AccessKey: "k"})
	assert.ErrorIs(t, noSecret.VerifyCallback(gatewaytest.Callback("T1", "")), gateway.ErrMissingConfig)
}
