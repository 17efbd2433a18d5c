package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// OwnerIDLocal is the fiber.Ctx local holding the authenticated owner id.
const OwnerIDLocal = "owner_id"

var errMissingSubject = errors.New("token has no subject")

// JWTAuth validates HS256 bearer tokens and stores the subject claim as the
// wallet owner for downstream handlers.
func JWTAuth(secret []byte) fiber.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])

		var claims jwt.RegisteredClaims
		if _, err := parser.ParseWithClaims(tokenStr, &claims, keyFunc); err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		if claims.Subject == "" {
			return fiber.NewError(http.StatusUnauthorized, errMissingSubject.Error())
		}

		c.Locals(OwnerIDLocal, claims.Subject)
		return c.Next()
	}
}

// OwnerID returns the owner set by JWTAuth, or "" on unauthenticated routes.
func OwnerID(c *fiber.Ctx) string {
	owner, _ := c.Locals(OwnerIDLocal).(string)
	return owner
}
