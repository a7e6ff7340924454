package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/paysettle/app/controllers"
)

const (
	defaultCheckoutLimit  = 10
	defaultCheckoutWindow = time.Minute
	defaultCallbackLimit  = 120
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	payment := app.Group("/payment")

	// Checkout calls the gateway, so it is limited per client.
	checkoutLimiter := limiter.New(limiter.Config{
		Max:        orDefault(h.opts.CheckoutLimit, defaultCheckoutLimit),
		Expiration: orDefaultDuration(h.opts.CheckoutWindow, defaultCheckoutWindow),
		Storage:      h.opts.LimiterStorage,
		KeyGenerator: limiterKey("checkout"),
		LimitReached: rateLimited,
	})
	payment.Post("/checkout", checkoutLimiter, controllers.HandlePaymentCheckout)
	payment.Post("/manual", checkoutLimiter, controllers.HandlePaymentManual)

	// Gateway callbacks (no CSRF, signature-verified in the verifier).
	// The limit is generous: the gateway redelivers from a few addresses.
	callbackLimiter := limiter.New(limiter.Config{
		Max:          orDefault(h.opts.CallbackLimit, defaultCallbackLimit),
		Expiration:   time.Minute,
		Storage:      h.opts.LimiterStorage,
		KeyGenerator: limiterKey("callback"),
		LimitReached: rateLimited,
	})
	payment.Get("/return", callbackLimiter, controllers.HandlePaymentReturn)
	payment.Post("/notify", callbackLimiter, controllers.HandlePaymentNotify)

	payment.Get("/result", controllers.HandlePaymentResult)
}

// limiterKey namespaces the client IP so limiters sharing one storage do not share counters.
func limiterKey(scope string) func(*fiber.Ctx) string {
	return func(c *fiber.Ctx) string {
		return scope + ":" + c.IP()
	}
}

func rateLimited(c *fiber.Ctx) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
