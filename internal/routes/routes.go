package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/walletledger/internal/config"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/logging"
	"github.com/congo-pay/walletledger/internal/middleware"
	"github.com/congo-pay/walletledger/internal/processor"
	"github.com/congo-pay/walletledger/internal/receipt"
	"github.com/congo-pay/walletledger/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes. Store is
// required; the backend handles are only used for health checks.
type Deps struct {
	Cfg       config.Config
	Store     ledger.Store
	DB        *pgxpool.Pool
	Firestore *firestore.Client
	Cache     *redis.Client
	Processor processor.Processor
	Receipts  receipt.Generator
	Logger    *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Store == nil {
		return fmt.Errorf("ledger store is required")
	}
	if d.Cache == nil && !d.Cfg.IsDev() {
		return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID(d.Logger))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	walletSvc := wallet.NewService(d.Store, d.Processor, d.Receipts, wallet.PolicyFromConfig(d.Cfg.Wallet), d.Logger)
	walletHandler := wallet.NewHandler(walletSvc)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	protected := api.Group("", middleware.JWTAuth([]byte(d.Cfg.JWTSecret)))
	if d.Cache != nil {
		protected.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterWalletRoutes(protected, walletHandler, middleware.TransferRateLimit(d.Cache, d.Cfg.TransferRateLimit, d.Logger))

	return nil
}
