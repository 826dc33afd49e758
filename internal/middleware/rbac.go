package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-inbox/internal/models"
	"github.com/noah-isme/gema-inbox/internal/utils"
)

// RequireUserType ensures the authenticated user belongs to one of the allowed portals.
func RequireUserType(userTypes ...models.UserType) fiber.Handler {
	allowed := make(map[models.UserType]struct{}, len(userTypes))
	for _, userType := range userTypes {
		allowed[userType] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		identity, ok := IdentityFromContext(c)
		if !ok {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}
		if _, permitted := allowed[identity.UserType]; !permitted {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}
