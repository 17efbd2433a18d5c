package wallet

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/middleware"
)

// Handler exposes wallet HTTP endpoints for the authenticated owner.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type fundRequest struct {
	Amount        decimal.Decimal   `json:"amount"`
	PaymentMethod string            `json:"payment_method"`
	Metadata      map[string]string `json:"metadata"`
	ClientTxID    string            `json:"client_tx_id"`
}

type sendRequest struct {
	ToOwnerID   string          `json:"to_owner_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	ClientTxID  string          `json:"client_tx_id"`
}

type transactionResponse struct {
	ID               string    `json:"id"`
	Direction        string    `json:"direction"`
	Kind             string    `json:"kind"`
	Amount           string    `json:"amount"`
	Description      string    `json:"description"`
	Status           string    `json:"status"`
	CounterpartyID   string    `json:"counterparty_id,omitempty"`
	PaymentReference string    `json:"payment_reference,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

type categoryResponse struct {
	Category string `json:"category"`
	Total    string `json:"total"`
	Count    int    `json:"count"`
}

// Balance returns the owner's current balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	owner := middleware.OwnerID(c)
	w, err := h.service.Wallet(c.UserContext(), owner)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"owner_id": w.OwnerID,
		"balance":  FormatAmount(w.Balance),
		"currency": w.Currency,
		"as_of":    time.Now().UTC(),
	})
}

// Fund tops up the owner's wallet through the payment processor.
func (h *Handler) Fund(c *fiber.Ctx) error {
	var req fundRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := ToMinorUnits(req.Amount)
	if err != nil {
		return toHTTPError(err)
	}

	res, err := h.service.AddFunds(c.UserContext(), AddFundsInput{
		OwnerID:          middleware.OwnerID(c),
		Amount:           amount,
		PaymentMethodRef: req.PaymentMethod,
		Metadata:         req.Metadata,
		ClientTxID:       req.ClientTxID,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			return c.Status(http.StatusOK).JSON(fundResponse(res))
		}
		return toHTTPError(err)
	}
	return c.Status(http.StatusCreated).JSON(fundResponse(res))
}

// Send transfers funds from the owner to another wallet.
func (h *Handler) Send(c *fiber.Ctx) error {
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := ToMinorUnits(req.Amount)
	if err != nil {
		return toHTTPError(err)
	}

	res, err := h.service.SendMoney(c.UserContext(), SendMoneyInput{
		FromOwnerID: middleware.OwnerID(c),
		ToOwnerID:   req.ToOwnerID,
		Amount:      amount,
		Description: req.Description,
		ClientTxID:  req.ClientTxID,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			return c.Status(http.StatusOK).JSON(sendResponse(res))
		}
		return toHTTPError(err)
	}
	return c.Status(http.StatusCreated).JSON(sendResponse(res))
}

// Transactions lists the owner's ledger entries newest first.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	txs, err := h.service.GetTransactions(c.UserContext(), middleware.OwnerID(c), limit)
	if err != nil {
		return toHTTPError(err)
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, transactionResponse{
			ID:               tx.ID,
			Direction:        string(tx.Direction),
			Kind:             string(tx.Kind),
			Amount:           FormatAmount(tx.Amount),
			Description:      tx.Description,
			Status:           string(tx.Status),
			CounterpartyID:   tx.CounterpartyID,
			PaymentReference: tx.PaymentReference,
			Timestamp:        tx.Timestamp,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": out})
}

// Insights summarizes recent activity for the requested period.
func (h *Handler) Insights(c *fiber.Ctx) error {
	period := Period(c.Query("period", string(PeriodMonth)))
	in, err := h.service.GetInsights(c.UserContext(), middleware.OwnerID(c), period)
	if err != nil {
		return toHTTPError(err)
	}
	categories := make([]categoryResponse, 0, len(in.TopCategories))
	for _, cat := range in.TopCategories {
		categories = append(categories, categoryResponse{
			Category: cat.Category,
			Total:    FormatAmount(cat.Total),
			Count:    cat.Count,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"period":            in.Period,
		"from":              in.From,
		"to":                in.To,
		"total_received":    FormatAmount(in.TotalReceived),
		"total_sent":        FormatAmount(in.TotalSent),
		"net_change":        FormatAmount(in.NetChange),
		"transaction_count": in.TransactionCount,
		"top_categories":    categories,
	})
}

func fundResponse(res AddFundsResult) fiber.Map {
	return fiber.Map{
		"success":           res.Success,
		"client_tx_id":      res.ClientTxID,
		"transaction_id":    res.TransactionID,
		"payment_reference": res.PaymentReference,
		"receipt_code":      res.ReceiptCode,
		"balance":           FormatAmount(res.Balance),
	}
}

func sendResponse(res SendMoneyResult) fiber.Map {
	return fiber.Map{
		"success":                 res.Success,
		"state":                   res.State,
		"client_tx_id":            res.ClientTxID,
		"sent_transaction_id":     res.SentTransactionID,
		"received_transaction_id": res.ReceivedTransactionID,
		"balance":                 FormatAmount(res.FromBalance),
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrSameOwner):
		return fiber.NewError(http.StatusBadRequest, UserMessage(err))
	case errors.Is(err, ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, UserMessage(err))
	case errors.Is(err, ErrProcessor):
		return fiber.NewError(http.StatusPaymentRequired, UserMessage(err))
	case errors.Is(err, ErrStore):
		return fiber.NewError(http.StatusServiceUnavailable, UserMessage(err))
	default:
		return fiber.NewError(http.StatusInternalServerError, UserMessage(err))
	}
}
