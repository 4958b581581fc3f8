package middleware

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"tally/internal/users"
)

// UserIDKey is the fiber Locals key holding the authenticated user id.
const UserIDKey = "user_id"

// tokenKey holds the raw bearer token, for logout.
const tokenKey = "bearer_token"

// RequireUser authenticates dashboard API requests.
// Expects: Authorization: Bearer <token>
func RequireUser(db *gorm.DB, logger *slog.Logger, secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := bearerToken(c.Get("Authorization"))
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		user, err := users.ResolveToken(db, secret, token)
		if err != nil {
			if !errors.Is(err, users.ErrInvalidToken) {
				logger.Error("Failed to resolve bearer token", slog.Any("error", err))
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		c.Locals(UserIDKey, user.ID)
		c.Locals(tokenKey, token)
		return c.Next()
	}
}

// CurrentUserID returns the id set by RequireUser, or "".
func CurrentUserID(c *fiber.Ctx) string {
	id, _ := c.Locals(UserIDKey).(string)
	return id
}

// CurrentToken returns the bearer token accepted by RequireUser, or "".
func CurrentToken(c *fiber.Ctx) string {
	token, _ := c.Locals(tokenKey).(string)
	return token
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
