package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/paysettle/app/controllers"
	apiv1 "github.com/ManuelReschke/paysettle/internal/api/v1"
	"github.com/ManuelReschke/paysettle/internal/pkg/middleware"
)

type ApiRouter struct {
	opts Options
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:          60,
		Expiration:   time.Minute,
		Storage:      h.opts.LimiterStorage,
		KeyGenerator: limiterKey("api"),
		LimitReached: rateLimited,
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes; everything below /admin requires the admin token
	v1 := api.Group("/v1")
	v1.Use("/admin", middleware.AdminTokenAuth(h.opts.AdminTokenHash))
	apiServer := apiv1.NewAPIServer(controllers.GetAdminPaymentController())
	apiv1.RegisterHandlers(v1, apiServer)
}

func NewApiRouter(opts Options) *ApiRouter {
	return &ApiRouter{opts: opts}
}
