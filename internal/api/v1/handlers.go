package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to existing controllers to keep behavior consistent
	"github.com/ManuelReschke/paysettle/app/controllers"
)

// APIServer implements the ServerInterface
type APIServer struct {
	admin *controllers.AdminPaymentController
}

// NewAPIServer creates a new API server instance
func NewAPIServer(admin *controllers.AdminPaymentController) *APIServer {
	return &APIServer{admin: admin}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(Pong{Ping: "pong"})
}

func (s *APIServer) GetPaymentOutcomes(c *fiber.Ctx) error {
	return s.admin.HandleOutcomesAPI(c)
}

func (s *APIServer) GetPendingPayments(c *fiber.Ctx) error {
	return s.admin.HandlePendingAPI(c)
}

// PostPaymentSweep runs the stale-pending sweep once, synchronously.
func (s *APIServer) PostPaymentSweep(c *fiber.Ctx) error {
	return s.admin.HandleSweepAPI(c)
}

// GetPayment, PostPaymentMarkPaid and PostPaymentCancel read the order id from
// the route params; the wrapper already validated it is present.
func (s *APIServer) GetPayment(c *fiber.Ctx, orderID string) error {
	return s.admin.HandleShowAPI(c)
}

func (s *APIServer) PostPaymentMarkPaid(c *fiber.Ctx, orderID string) error {
	return s.admin.HandleMarkPaidAPI(c)
}

func (s *APIServer) PostPaymentCancel(c *fiber.Ctx, orderID string) error {
	return s.admin.HandleCancelAPI(c)
}
