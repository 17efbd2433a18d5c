package routes

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"google.golang.org/api/iterator"
)

const healthTimeout = 2 * time.Second

// RegisterHealthRoutes adds a liveness/readiness endpoint covering the ledger
// backend and Redis.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
		defer cancel()

		checks := fiber.Map{"store": d.Cfg.StoreBackend}
		healthy := true
		report := func(name string, err error) {
			if err != nil {
				checks[name] = err.Error()
				healthy = false
				return
			}
			checks[name] = "ok"
		}

		if d.DB != nil {
			report("postgres", d.DB.Ping(ctx))
		}
		if d.Firestore != nil {
			iter := d.Firestore.Collection("wallets").Limit(1).Documents(ctx)
			_, err := iter.Next()
			iter.Stop()
			if errors.Is(err, iterator.Done) {
				err = nil
			}
			report("firestore", err)
		}
		if d.Cache != nil {
			report("redis", d.Cache.Ping(ctx).Err())
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    checks,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
