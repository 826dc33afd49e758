package middleware

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-inbox/internal/models"
	"github.com/noah-isme/gema-inbox/internal/session"
	"github.com/noah-isme/gema-inbox/internal/utils"
)

const identityLocal = "identity"

// JWTProtected validates the portal bearer token and binds the caller's identity. Browsers cannot
// set headers on EventSource or websocket requests, so access_token in the query is accepted too.
func JWTProtected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, err := bearerToken(c)
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token claims")
		}

		identity := session.Identity{
			UserID:   extractUserIDFromClaims(claims),
			UserType: extractUserTypeFromClaims(claims),
			UserName: extractStringClaim(claims, "name", "username", "userName"),
			Token:    tokenString,
		}
		if !identity.Valid() {
			return utils.SendError(c, fiber.StatusForbidden, "token does not carry a portal identity")
		}

		c.Locals(identityLocal, identity)
		c.Locals("user_id", identity.UserID.String())
		c.Locals("user_role", strings.ToLower(string(identity.UserType)))

		return c.Next()
	}
}

// IdentityFromContext returns the identity bound by JWTProtected.
func IdentityFromContext(c *fiber.Ctx) (session.Identity, bool) {
	identity, ok := c.Locals(identityLocal).(session.Identity)
	return identity, ok && identity.Valid()
}

// ContextWithIdentity binds identity to the request. Tests use it in place of a signed token.
func ContextWithIdentity(c *fiber.Ctx, identity session.Identity) {
	c.Locals(identityLocal, identity)
	c.Locals("user_id", identity.UserID.String())
	c.Locals("user_role", strings.ToLower(string(identity.UserType)))
}

func bearerToken(c *fiber.Ctx) (string, error) {
	authorization := strings.TrimSpace(c.Get("Authorization"))
	if authorization == "" {
		if token := strings.TrimSpace(c.Query("access_token")); token != "" {
			return token, nil
		}
		return "", fmt.Errorf("authorization header missing")
	}

	const bearer = "bearer "
	if !strings.HasPrefix(strings.ToLower(authorization), bearer) {
		return "", fmt.Errorf("invalid authorization header")
	}
	token := strings.TrimSpace(authorization[len(bearer):])
	if token == "" {
		return "", fmt.Errorf("invalid token")
	}
	return token, nil
}

func extractUserIDFromClaims(claims jwt.MapClaims) models.ID {
	for _, key := range []string{"user_id", "userId", "sub", "id"} {
		if value, ok := claims[key]; ok {
			if id := normalizeUserID(value); !id.IsZero() {
				return id
			}
		}
	}
	return ""
}

func normalizeUserID(value interface{}) models.ID {
	switch v := value.(type) {
	case float64:
		if v <= 0 {
			return ""
		}
		return models.IDFromUint(uint64(v))
	case string:
		return models.NormalizeID(v)
	case int:
		if v <= 0 {
			return ""
		}
		return models.ID(strconv.Itoa(v))
	default:
		return ""
	}
}

func extractUserTypeFromClaims(claims jwt.MapClaims) models.UserType {
	for _, key := range []string{"user_type", "userType", "role", "roles"} {
		if value, ok := claims[key]; ok {
			if userType := normalizeRole(value); userType.Valid() {
				return userType
			}
		}
	}
	return ""
}

func normalizeRole(value interface{}) models.UserType {
	switch v := value.(type) {
	case string:
		return models.ParseUserType(v)
	case []interface{}:
		for _, item := range v {
			if str, ok := item.(string); ok {
				if userType := models.ParseUserType(str); userType.Valid() {
					return userType
				}
			}
		}
	}
	return ""
}

func extractStringClaim(claims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		if value, ok := claims[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
