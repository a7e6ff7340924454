package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/template/html/v2"

	"github.com/ManuelReschke/paysettle/app/controllers"
	apiv1 "github.com/ManuelReschke/paysettle/internal/api/v1"
	"github.com/ManuelReschke/paysettle/internal/pkg/bootstrap"
	"github.com/ManuelReschke/paysettle/internal/pkg/cache"
	"github.com/ManuelReschke/paysettle/internal/pkg/database"
	"github.com/ManuelReschke/paysettle/internal/pkg/env"
	"github.com/ManuelReschke/paysettle/internal/pkg/middleware"
	"github.com/ManuelReschke/paysettle/internal/pkg/ratelimit"
	"github.com/ManuelReschke/paysettle/internal/pkg/router"
)

func main() {
	app, settle := NewApplication()

	settle.Jobs.Start()
	defer cache.Close()
	defer settle.Jobs.Stop()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down...")
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	if err != nil {
		log.Printf("Server stopped: %v", err)
	}
}

func NewApplication() (*fiber.App, *bootstrap.Settlement) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/paysettle to project root
		"../../../", // Fallback
	}

	// Find the correct base path
	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "views"); !os.IsNotExist(err) {
			basePath = path
			break
		}
	}

	if basePath == "" {
		panic("Could not find project root directory")
	}

	specPath := basePath + "public/docs/v1/openapi.yml"
	if _, err := apiv1.LoadSpec(context.Background(), specPath); err != nil {
		log.Fatalf("OpenAPI document: %v", err)
	}

	settle := bootstrap.NewSettlement(database.GetDB(), cache.GetClient())
	adminTokenHash := env.GetEnv("ADMIN_TOKEN_HASH", "")

	publicDomain := env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000")
	controllers.InitializePaymentControllers(
		settle.Service,
		publicDomain+controllers.PaymentReturnPath,
		settle.Outcomes,
		bootstrap.SweepMinAge(),
	)

	// init fiber app
	app := fiber.New(fiber.Config{
		Views:     html.New(basePath+"views", ".html"),
		BodyLimit: 1 << 20, // callbacks and forms only
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Authorizer: func(_, pass string) bool {
			return adminTokenHash != "" && middleware.CheckToken(adminTokenHash, pass)
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: specPath,
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app, router.Options{
		AdminTokenHash: adminTokenHash,
		LimiterStorage: ratelimit.NewStorage(),
		CheckoutLimit:  env.GetEnvInt("CHECKOUT_RATE_LIMIT", 10),
		CheckoutWindow: time.Minute,
		CallbackLimit:  env.GetEnvInt("CALLBACK_RATE_LIMIT", 120),
	})

	return app, settle
}
