package middleware

import (
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/walletledger/internal/logging"
)

func rateLimitedApp(cache *redis.Client, limit int) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(OwnerIDLocal, c.Get("X-Owner"))
		return c.Next()
	})
	app.Post("/wallet/send", TransferRateLimit(cache, limit, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})
	return app
}

func sendAs(t *testing.T, app *fiber.App, owner string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/wallet/send", nil)
	req.Header.Set("X-Owner", owner)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestTransferRateLimitPerOwner(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()
	app := rateLimitedApp(cache, 2)

	for i := 0; i < 2; i++ {
		if status := sendAs(t, app, "alice"); status != fiber.StatusCreated {
			t.Fatalf("request %d: expected %d got %d", i, fiber.StatusCreated, status)
		}
	}
	if status := sendAs(t, app, "alice"); status != fiber.StatusTooManyRequests {
		t.Fatalf("expected %d got %d", fiber.StatusTooManyRequests, status)
	}
	if status := sendAs(t, app, "bob"); status != fiber.StatusCreated {
		t.Fatalf("other owners keep their own window, got %d", status)
	}
}

func TestTransferRateLimitFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer cache.Close()
	app := rateLimitedApp(cache, 1)
	mr.Close()

	for i := 0; i < 3; i++ {
		if status := sendAs(t, app, "alice"); status != fiber.StatusCreated {
			t.Fatalf("expected pass-through when redis is down, got %d", status)
		}
	}
	if status := sendAs(t, rateLimitedApp(nil, 1), "alice"); status != fiber.StatusCreated {
		t.Fatalf("expected pass-through without redis, got %d", status)
	}
}
