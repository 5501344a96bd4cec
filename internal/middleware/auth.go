package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/presence"
)

// UserClaims is the identity carried by an access token. The REST
// middleware and the socket auth frame both resolve tokens through
// ParseUserToken so a token means the same thing on either surface.
type UserClaims struct {
	UserID    string
	CompanyID string
	Role      string
	Name      string
}

// ParseUserToken validates an HMAC-signed JWT and extracts the identity
// claims. Tokens without a subject or company are rejected outright.
func ParseUserToken(tokenString, jwtSecret string) (*UserClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	uc := &UserClaims{}
	uc.UserID, _ = claims["sub"].(string)
	uc.CompanyID, _ = claims["company_id"].(string)
	uc.Role, _ = claims["role"].(string)
	uc.Name, _ = claims["name"].(string)
	if uc.UserID == "" {
		return nil, fmt.Errorf("invalid token: missing subject")
	}
	if uc.CompanyID == "" {
		return nil, fmt.Errorf("invalid token: missing company")
	}
	return uc, nil
}

// Auth guards the API routes. Every authenticated request also counts
// as user activity, so the presence tracker is touched best-effort.
func Auth(jwtSecret string, tracker presence.Tracker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(401).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			return c.Status(401).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		claims, err := ParseUserToken(tokenString, jwtSecret)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": err.Error()})
		}

		c.Locals("user_id", claims.UserID)
		c.Locals("company_id", claims.CompanyID)
		c.Locals("role", claims.Role)
		c.Locals("user_name", claims.Name)

		if tracker != nil {
			_ = tracker.Touch(c.UserContext(), claims.UserID)
		}
		return c.Next()
	}
}
