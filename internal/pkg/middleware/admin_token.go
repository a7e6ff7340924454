package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"golang.org/x/crypto/bcrypt"
)

// KeyAdminActor holds the name recorded on console actions.
const KeyAdminActor = "ADMIN_ACTOR"

const defaultActor = "admin"

// AdminTokenAuth authenticates API requests carrying the shared admin token.
// tokenHash is a bcrypt hash; an empty hash rejects every request.
func AdminTokenAuth(tokenHash string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if tokenHash == "" {
			log.Warn("[AdminAuth] ADMIN_TOKEN_HASH not set, admin API disabled")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "config_error", "message": "Admin access not configured"})
		}

		token := extractAdminToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing admin token"})
		}
		if !CheckToken(tokenHash, token) {
			log.Warnf("[AdminAuth] Rejected admin token from %s", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid admin token"})
		}

		actor := strings.TrimSpace(c.Get("X-Admin-Actor"))
		if actor == "" {
			actor = defaultActor
		}
		c.Locals(KeyAdminActor, actor)
		return c.Next()
	}
}

// AdminBasicAuth protects the HTML console. Any username is accepted and recorded as
// the actor; the password is the shared admin token.
func AdminBasicAuth(tokenHash string) fiber.Handler {
	return basicauth.New(basicauth.Config{
		Realm: "paysettle admin",
		Authorizer: func(_, pass string) bool {
			return tokenHash != "" && CheckToken(tokenHash, pass)
		},
		ContextUsername: KeyAdminActor,
	})
}

// CheckToken compares a plaintext token against its bcrypt hash.
func CheckToken(tokenHash, token string) bool {
	return bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)) == nil
}

// Actor returns the authenticated admin name, or "admin".
func Actor(c *fiber.Ctx) string {
	if v, ok := c.Locals(KeyAdminActor).(string); ok && v != "" {
		return v
	}
	return defaultActor
}

func extractAdminToken(c *fiber.Ctx) string {
	token := strings.TrimSpace(c.Get("X-Admin-Token"))
	if token != "" {
		return token
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
