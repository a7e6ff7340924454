package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Options carries what the routers need besides the global controllers.
type Options struct {
	// AdminTokenHash is the bcrypt hash of the shared admin token.
	AdminTokenHash string
	// LimiterStorage backs the rate limiters; nil keeps counters in memory.
	LimiterStorage fiber.Storage
	// CheckoutLimit is the number of checkout attempts per client and window.
	CheckoutLimit  int
	CheckoutWindow time.Duration
	// CallbackLimit is the number of gateway callbacks per client and minute.
	CallbackLimit int
}

func InstallRouter(app *fiber.App, opts Options) {
	setup(app, NewHttpRouter(opts), NewApiRouter(opts))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
