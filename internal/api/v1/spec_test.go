package apiv1

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const specPath = "../../../public/docs/v1/openapi.yml"

type stubServer struct {
	lastOrderID string
}

func (s *stubServer) GetPing(c *fiber.Ctx) error { return c.JSON(Pong{Ping: "pong"}) }
func (s *stubServer) GetPaymentOutcomes(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}
func (s *stubServer) GetPendingPayments(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}
func (s *stubServer) PostPaymentSweep(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) }
func (s *stubServer) GetPayment(c *fiber.Ctx, orderID string) error {
	s.lastOrderID = orderID
	return c.SendStatus(fiber.StatusNoContent)
}
func (s *stubServer) PostPaymentMarkPaid(c *fiber.Ctx, orderID string) error {
	s.lastOrderID = orderID
	return c.SendStatus(fiber.StatusNoContent)
}
func (s *stubServer) PostPaymentCancel(c *fiber.Ctx, orderID string) error {
	s.lastOrderID = orderID
	return c.SendStatus(fiber.StatusNoContent)
}

func TestSpecIsValid(t *testing.T) {
	doc, err := LoadSpec(context.Background(), specPath)
	require.NoError(t, err)
	assert.Equal(t, "/api/v1", doc.Servers[0].URL)
}

func TestEveryRouteIsDocumented(t *testing.T) {
	doc, err := LoadSpec(context.Background(), specPath)
	require.NoError(t, err)

	app := fiber.New()
	RegisterHandlers(app, &stubServer{})

	seen := 0
	for _, r := range app.GetRoutes(true) {
		if r.Method == fiber.MethodHead {
			continue
		}
		path := r.Path
		for _, param := range r.Params {
			path = strings.Replace(path, ":"+param, "{"+param+"}", 1)
		}
		item := doc.Paths.Value(path)
		require.NotNil(t, item, "route %s %s missing from openapi.yml", r.Method, r.Path)
		assert.NotNil(t, item.GetOperation(r.Method), "operation %s %s missing from openapi.yml", r.Method, path)
		seen++
	}
	assert.Equal(t, doc.Paths.Len(), len(uniquePaths(app)), "openapi.yml documents routes that are not registered")
	assert.Positive(t, seen)
}

func uniquePaths(app *fiber.App) map[string]struct{} {
	out := map[string]struct{}{}
	for _, r := range app.GetRoutes(true) {
		out[r.Path] = struct{}{}
	}
	return out
}

func TestRegisterHandlersPassesOrderID(t *testing.T) {
	stub := &stubServer{}
	app := fiber.New()
	RegisterHandlers(app, stub)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/admin/payments/listing-7/mark-paid", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "listing-7", stub.lastOrderID)
}
