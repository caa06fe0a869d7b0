// middleware/auth.go
package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	FighterIDLocal  = "fighter_id"
	FighterKeyLocal = "fighter_key"
)

// FighterContextMiddleware reads the optional fighter identity headers and
// attaches them to the request. Credentials are checked by the match service,
// not here; a missing pair simply means an anonymous caller.
func FighterContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		fighterID := strings.TrimSpace(c.Get("X-Fighter-ID"))
		fighterKey := strings.TrimSpace(c.Get("X-Fighter-Key"))

		if fighterID != "" && fighterKey == "" {
			log.Printf("❌ [FIGHTER_CTX] X-Fighter-ID without X-Fighter-Key on %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "bad_credentials",
				"hint":  "X-Fighter-Key is required with X-Fighter-ID",
			})
		}

		c.Locals(FighterIDLocal, fighterID)
		c.Locals(FighterKeyLocal, fighterKey)
		return c.Next()
	}
}

// FighterFromCtx returns the identity set by FighterContextMiddleware.
func FighterFromCtx(c *fiber.Ctx) (id, key string) {
	id, _ = c.Locals(FighterIDLocal).(string)
	key, _ = c.Locals(FighterKeyLocal).(string)
	return id, key
}
