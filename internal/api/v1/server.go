package apiv1

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Pong is the ping response body.
type Pong struct {
	Ping string `json:"ping"`
}

// ServerInterface lists the operations documented in public/docs/v1/openapi.yml.
type ServerInterface interface {
	GetPing(c *fiber.Ctx) error
	GetPaymentOutcomes(c *fiber.Ctx) error
	GetPendingPayments(c *fiber.Ctx) error
	PostPaymentSweep(c *fiber.Ctx) error
	GetPayment(c *fiber.Ctx, orderID string) error
	PostPaymentMarkPaid(c *fiber.Ctx, orderID string) error
	PostPaymentCancel(c *fiber.Ctx, orderID string) error
}

type serverWrapper struct {
	handler ServerInterface
}

func (w *serverWrapper) withOrderID(fn func(*fiber.Ctx, string) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		orderID := strings.TrimSpace(c.Params("orderID"))
		if orderID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "orderID missing"})
		}
		return fn(c, orderID)
	}
}

// RegisterHandlers mounts every operation on router.
func RegisterHandlers(router fiber.Router, si ServerInterface) {
	w := &serverWrapper{handler: si}

	router.Get("/ping", si.GetPing)

	payments := router.Group("/admin/payments")
	payments.Get("/outcomes", si.GetPaymentOutcomes)
	payments.Get("/pending", si.GetPendingPayments)
	payments.Post("/sweep", si.PostPaymentSweep)
	payments.Get("/:orderID", w.withOrderID(si.GetPayment))
	payments.Post("/:orderID/mark-paid", w.withOrderID(si.PostPaymentMarkPaid))
	payments.Post("/:orderID/cancel", w.withOrderID(si.PostPaymentCancel))
}
