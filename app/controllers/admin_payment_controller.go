package controllers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/sujit-baniya/flash"

	"github.com/ManuelReschke/paysettle/internal/pkg/middleware"
	"github.com/ManuelReschke/paysettle/internal/pkg/settlement"
)

const (
	// CSRFContextKey is where the csrf middleware stores the form token.
	CSRFContextKey = "csrf"

	adminPaymentsPath   = "/admin/payments"
	defaultPendingLimit = 100
	maxPendingLimit     = 500
)

// OutcomeReader exposes the outcome counters.
type OutcomeReader interface {
	Snapshot(ctx context.Context) (map[string]int64, error)
}

// AdminPaymentController is the HTTP face of the reconciliation console.
type AdminPaymentController struct {
	svc      *settlement.Service
	outcomes OutcomeReader
	sweepAge time.Duration
}

func NewAdminPaymentController(svc *settlement.Service, outcomes OutcomeReader, sweepAge time.Duration) *AdminPaymentController {
	return &AdminPaymentController{svc: svc, outcomes: outcomes, sweepAge: sweepAge}
}

// OrderView is the JSON and template shape of an order.
type OrderView struct {
	OrderID              string     `json:"order_id"`
	UserID               uint       `json:"user_id"`
	Status               string     `json:"status"`
	Method               string     `json:"method"`
	Amount               int64      `json:"amount"`
	Token                string     `json:"token,omitempty"`
	Tier                 string     `json:"tier"`
	Days                 int        `json:"days"`
	EntitlementAppliedAt *time.Time `json:"entitlement_applied_at,omitempty"`
	UpdatedAt            *time.Time `json:"updated_at,omitempty"`
}

func NewOrderView(o *settlement.Order) OrderView {
	return OrderView{
		OrderID:              o.Ref.CorrelationID(),
		UserID:               o.UserID,
		Status:               string(o.Status),
		Method:               string(o.Method),
		Amount:               o.Amount,
		Token:                o.Token,
		Tier:                 string(o.Entitlement.Tier),
		Days:                 o.Entitlement.Days,
		EntitlementAppliedAt: o.EntitlementAppliedAt,
		UpdatedAt:            o.UpdatedAt,
	}
}

type markPaidForm struct {
	ListingType string `json:"listing_type" form:"listing_type"`
}

// ============================================================================
// JSON API
// ============================================================================

func (ac *AdminPaymentController) HandleMarkPaidAPI(c *fiber.Ctx) error {
	var form markPaidForm
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&form); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Could not parse request"})
		}
	}
	listingType := firstNonBlank(form.ListingType, c.Query("listing_type"))

	res, err := ac.svc.Console.MarkPaid(c.UserContext(), c.Params("orderID"), listingType, middleware.Actor(c))
	if err != nil {
		return consoleError(c, err)
	}
	return c.JSON(fiber.Map{"changed": res.Changed, "order": NewOrderView(res.Order)})
}

func (ac *AdminPaymentController) HandleCancelAPI(c *fiber.Ctx) error {
	res, err := ac.svc.Console.Cancel(c.UserContext(), c.Params("orderID"), middleware.Actor(c))
	if err != nil {
		return consoleError(c, err)
	}
	return c.JSON(fiber.Map{"changed": res.Changed, "order": NewOrderView(res.Order)})
}

func (ac *AdminPaymentController) HandleShowAPI(c *fiber.Ctx) error {
	order, err := ac.svc.Console.Show(c.UserContext(), c.Params("orderID"))
	if err != nil {
		return consoleError(c, err)
	}
	return c.JSON(NewOrderView(order))
}

func (ac *AdminPaymentController) HandlePendingAPI(c *fiber.Ctx) error {
	orders, err := ac.svc.Console.Pending(c.UserContext(), pendingLimit(c))
	if err != nil {
		return consoleError(c, err)
	}
	views := make([]OrderView, 0, len(orders))
	for i := range orders {
		views = append(views, NewOrderView(&orders[i]))
	}
	return c.JSON(fiber.Map{"orders": views})
}

func (ac *AdminPaymentController) HandleOutcomesAPI(c *fiber.Ctx) error {
	if ac.outcomes == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "counters_unavailable"})
	}
	counts, err := ac.outcomes.Snapshot(c.UserContext())
	if err != nil {
		log.Errorf("[AdminPayments] reading outcome counters failed: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "counters_unavailable"})
	}
	out := make(map[string]int64, len(settlement.AllOutcomes))
	for _, o := range settlement.AllOutcomes {
		out[string(o)] = counts[string(o)]
	}
	return c.JSON(fiber.Map{"outcomes": out})
}

func (ac *AdminPaymentController) HandleSweepAPI(c *fiber.Ctx) error {
	report, err := ac.svc.Sweeper.Run(c.UserContext(), ac.sweepAge, pendingLimit(c))
	if err != nil {
		return consoleError(c, err)
	}
	return c.JSON(report)
}

// ============================================================================
// HTML CONSOLE
// ============================================================================

func (ac *AdminPaymentController) HandleAdminPayments(c *fiber.Ctx) error {
	orders, err := ac.svc.Console.Pending(c.UserContext(), pendingLimit(c))
	if err != nil {
		log.Errorf("[AdminPayments] listing pending orders failed: %v", err)
	}
	views := make([]OrderView, 0, len(orders))
	for i := range orders {
		views = append(views, NewOrderView(&orders[i]))
	}

	var counts map[string]int64
	if ac.outcomes != nil {
		counts, _ = ac.outcomes.Snapshot(c.UserContext())
	}

	return c.Render("admin_payments", fiber.Map{
		"Orders":   views,
		"Outcomes": counts,
		"Flash":    flash.Get(c),
		"Actor":    middleware.Actor(c),
		"CSRF":     c.Locals(CSRFContextKey),
	})
}

func (ac *AdminPaymentController) HandleAdminMarkPaid(c *fiber.Ctx) error {
	orderID := c.Params("orderID")
	res, err := ac.svc.Console.MarkPaid(c.UserContext(), orderID, strings.TrimSpace(c.FormValue("listing_type")), middleware.Actor(c))
	if err != nil {
		return flash.WithError(c, fiber.Map{"type": "error", "message": consoleMessage(orderID, err)}).Redirect(adminPaymentsPath)
	}
	msg := fmt.Sprintf("%s marked as paid", orderID)
	if !res.Changed {
		msg = fmt.Sprintf("%s was already paid", orderID)
	}
	return flash.WithSuccess(c, fiber.Map{"type": "success", "message": msg}).Redirect(adminPaymentsPath)
}

func (ac *AdminPaymentController) HandleAdminCancel(c *fiber.Ctx) error {
	orderID := c.Params("orderID")
	res, err := ac.svc.Console.Cancel(c.UserContext(), orderID, middleware.Actor(c))
	if err != nil {
		return flash.WithError(c, fiber.Map{"type": "error", "message": consoleMessage(orderID, err)}).Redirect(adminPaymentsPath)
	}
	msg := fmt.Sprintf("%s cancelled", orderID)
	if !res.Changed {
		msg = fmt.Sprintf("%s was already cancelled", orderID)
	}
	return flash.WithSuccess(c, fiber.Map{"type": "success", "message": msg}).Redirect(adminPaymentsPath)
}

func consoleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, settlement.ErrInvalidRequest):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, settlement.ErrOrderNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order_not_found"})
	case errors.Is(err, settlement.ErrAlreadyPaid):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already_paid", "message": err.Error()})
	case errors.Is(err, settlement.ErrInvalidTransition), errors.Is(err, settlement.ErrStatusConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "invalid_transition", "message": err.Error()})
	case errors.Is(err, settlement.ErrConfiguration):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "config_error"})
	default:
		log.Errorf("[AdminPayments] console action failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "error"})
	}
}

func consoleMessage(orderID string, err error) string {
	switch {
	case errors.Is(err, settlement.ErrOrderNotFound):
		return fmt.Sprintf("%s not found", orderID)
	case errors.Is(err, settlement.ErrAlreadyPaid):
		return fmt.Sprintf("%s is already paid", orderID)
	case errors.Is(err, settlement.ErrInvalidRequest), errors.Is(err, settlement.ErrInvalidTransition):
		return err.Error()
	default:
		log.Errorf("[AdminPayments] console action on %s failed: %v", orderID, err)
		return fmt.Sprintf("Action on %s failed", orderID)
	}
}

func pendingLimit(c *fiber.Ctx) int {
	limit := c.QueryInt("limit", defaultPendingLimit)
	if limit <= 0 {
		return defaultPendingLimit
	}
	if limit > maxPendingLimit {
		return maxPendingLimit
	}
	return limit
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
