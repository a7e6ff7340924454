package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"

	"github.com/ManuelReschke/paysettle/app/controllers"
	"github.com/ManuelReschke/paysettle/internal/pkg/env"
	"github.com/ManuelReschke/paysettle/internal/pkg/middleware"
)

func (h HttpRouter) registerAdminRoutes(app *fiber.App) {
	csrfConf := csrf.Config{
		KeyLookup:      "form:_csrf",
		ContextKey:     controllers.CSRFContextKey,
		CookieName:     "csrf_",
		CookieSameSite: "Lax",
		Expiration:     1 * time.Hour,
		CookieSecure:   !env.IsDev(),
	}

	adminGroup := app.Group("/admin", middleware.AdminBasicAuth(h.opts.AdminTokenHash), csrf.New(csrfConf))
	adminGroup.Get("/payments", controllers.HandleAdminPayments)
	adminGroup.Post("/payments/:orderID/mark-paid", controllers.HandleAdminPaymentMarkPaid)
	adminGroup.Post("/payments/:orderID/cancel", controllers.HandleAdminPaymentCancel)
}
