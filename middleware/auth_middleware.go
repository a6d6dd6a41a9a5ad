package middleware

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	jwtware "github.com/gofiber/jwt/v3"
	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidToken = errors.New("invalid token")

// Protected verifies the bearer token issued by the auth service and stores it
// under c.Locals("user").
func Protected(secret string) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey:   []byte(secret),
		ErrorHandler: jwtError,
	})
}

func jwtError(c *fiber.Ctx, err error) error {
	if err.Error() == "Missing or malformed JWT" {
		return c.Status(fiber.StatusBadRequest).
			JSON(fiber.Map{"status": "error", "message": "Missing or malformed JWT", "data": nil})
	}
	return c.Status(fiber.StatusUnauthorized).
		JSON(fiber.Map{"status": "error", "message": "Invalid or expired JWT", "data": nil})
}

// CallerID returns the verified user id of a request that passed Protected.
func CallerID(c *fiber.Ctx) (string, bool) {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok {
		return "", false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", false
	}
	return userIDClaim(claims)
}

// ParseToken verifies an HMAC-signed token outside the HTTP middleware chain,
// as the channel auth frame requires, and returns its user id.
func ParseToken(secret, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	id, ok := userIDClaim(claims)
	if !ok {
		return "", fmt.Errorf("%w: missing user_id claim", ErrInvalidToken)
	}
	return id, nil
}

func userIDClaim(claims jwt.MapClaims) (string, bool) {
	id, ok := claims["user_id"].(string)
	id = strings.TrimSpace(id)
	return id, ok && id != ""
}
