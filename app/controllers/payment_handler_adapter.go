package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/paysettle/internal/pkg/settlement"
)

// Global controller instances used by the router
var (
	paymentController      *PaymentController
	adminPaymentController *AdminPaymentController
)

// InitializePaymentControllers wires the global payment controllers
func InitializePaymentControllers(svc *settlement.Service, returnURL string, outcomes OutcomeReader, sweepAge time.Duration) {
	paymentController = NewPaymentController(svc, returnURL)
	adminPaymentController = NewAdminPaymentController(svc, outcomes, sweepAge)
}

// GetPaymentController returns the global payment controller instance
func GetPaymentController() *PaymentController {
	if paymentController == nil {
		panic("payment controllers not initialized")
	}
	return paymentController
}

// GetAdminPaymentController returns the global admin payment controller instance
func GetAdminPaymentController() *AdminPaymentController {
	if adminPaymentController == nil {
		panic("payment controllers not initialized")
	}
	return adminPaymentController
}

// Adapter functions for the router

func HandlePaymentCheckout(c *fiber.Ctx) error {
	return GetPaymentController().HandleCheckout(c)
}

func HandlePaymentManual(c *fiber.Ctx) error {
	return GetPaymentController().HandleManualCheckout(c)
}

func HandlePaymentReturn(c *fiber.Ctx) error {
	return GetPaymentController().HandleReturn(c)
}

func HandlePaymentNotify(c *fiber.Ctx) error {
	return GetPaymentController().HandleNotify(c)
}

func HandlePaymentResult(c *fiber.Ctx) error {
	return GetPaymentController().HandleResult(c)
}

func HandleAdminPayments(c *fiber.Ctx) error {
	return GetAdminPaymentController().HandleAdminPayments(c)
}

func HandleAdminPaymentMarkPaid(c *fiber.Ctx) error {
	return GetAdminPaymentController().HandleAdminMarkPaid(c)
}

func HandleAdminPaymentCancel(c *fiber.Ctx) error {
	return GetAdminPaymentController().HandleAdminCancel(c)
}
