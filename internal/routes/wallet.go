package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletledger/internal/wallet"
)

// RegisterWalletRoutes wires wallet endpoints for the authenticated owner.
// Money-moving routes go through rateLimiter.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, rateLimiter fiber.Handler) {
	group := r.Group("/wallet")
	group.Get("/balance", h.Balance)
	group.Get("/transactions", h.Transactions)
	group.Get("/insights", h.Insights)
	group.Post("/fund", rateLimiter, h.Fund)
	group.Post("/send", rateLimiter, h.Send)
}
