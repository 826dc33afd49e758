package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-inbox/internal/models"
	"github.com/noah-isme/gema-inbox/internal/session"
	"github.com/noah-isme/gema-inbox/internal/utils"
)

// IdentityHandler is a handler that needs the caller's identity.
type IdentityHandler func(c *fiber.Ctx, identity session.Identity) error

// AuthOptions configures WithAuth. An empty UserTypes admits every portal role.
type AuthOptions struct {
	UserTypes []models.UserType
}

// WithAuth resolves the caller's identity before invoking handler.
func WithAuth(handler IdentityHandler, opts AuthOptions) fiber.Handler {
	allowed := make(map[models.UserType]struct{}, len(opts.UserTypes))
	for _, userType := range opts.UserTypes {
		allowed[userType] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		identity, ok := IdentityFromContext(c)
		if !ok {
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}
		if len(allowed) > 0 {
			if _, permitted := allowed[identity.UserType]; !permitted {
				return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", nil)
			}
		}
		return handler(c, identity)
	}
}
