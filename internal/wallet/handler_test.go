package wallet

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/middleware"
	"github.com/congo-pay/walletledger/internal/processor"
)

func setupHandlerApp(t *testing.T, store ledger.Store) (*fiber.App, *recordingProcessor) {
	t.Helper()
	svc, proc, _ := newTestService(store)
	h := NewHandler(svc)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(middleware.OwnerIDLocal, c.Get("X-Owner"))
		return c.Next()
	})
	app.Get("/wallet/balance", h.Balance)
	app.Post("/wallet/fund", h.Fund)
	app.Post("/wallet/send", h.Send)
	app.Get("/wallet/transactions", h.Transactions)
	app.Get("/wallet/insights", h.Insights)
	return app, proc
}

func doJSON(t *testing.T, app *fiber.App, method, path, owner, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set("X-Owner", owner)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	decoded := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	} else {
		decoded["message"] = string(raw)
	}
	return resp.StatusCode, decoded
}

func TestHandlerBalance(t *testing.T) {
	store := ledger.NewInMemory()
	ledger.SeedBalance(store, "alice", 12_345)
	app, _ := setupHandlerApp(t, store)

	status, body := doJSON(t, app, fiber.MethodGet, "/wallet/balance", "alice", "")
	if status != fiber.StatusOK {
		t.Fatalf("expected %d got %d", fiber.StatusOK, status)
	}
	if body["balance"] != "123.45" || body["currency"] != "USD" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestHandlerFund(t *testing.T) {
	app, _ := setupHandlerApp(t, ledger.NewInMemory())

	status, body := doJSON(t, app, fiber.MethodPost, "/wallet/fund", "alice",
		`{"amount":"100.00","payment_method":"pm_card_visa","client_tx_id":"f1"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("expected %d got %d: %v", fiber.StatusCreated, status, body)
	}
	if body["balance"] != "100.00" || body["success"] != true {
		t.Fatalf("unexpected body: %v", body)
	}

	status, body = doJSON(t, app, fiber.MethodPost, "/wallet/fund", "alice",
		`{"amount":"100.00","payment_method":"pm_card_visa","client_tx_id":"f1"}`)
	if status != fiber.StatusOK || body["balance"] != "100.00" {
		t.Fatalf("replay should return 200 with the original balance, got %d %v", status, body)
	}
}

func TestHandlerFundErrors(t *testing.T) {
	app, proc := setupHandlerApp(t, ledger.NewInMemory())

	status, _ := doJSON(t, app, fiber.MethodPost, "/wallet/fund", "alice", `{"amount":"1.005","payment_method":"pm"}`)
	if status != fiber.StatusBadRequest {
		t.Fatalf("sub-cent amount: expected %d got %d", fiber.StatusBadRequest, status)
	}

	proc.err = processor.ErrDeclined
	status, body := doJSON(t, app, fiber.MethodPost, "/wallet/fund", "alice", `{"amount":5,"payment_method":"pm"}`)
	if status != fiber.StatusPaymentRequired {
		t.Fatalf("declined charge: expected %d got %d", fiber.StatusPaymentRequired, status)
	}
	if body["message"] != "payment was declined" {
		t.Fatalf("unexpected message: %v", body)
	}
}

func TestHandlerSend(t *testing.T) {
	store := ledger.NewInMemory()
	ledger.SeedBalance(store, "alice", 50_000)
	app, _ := setupHandlerApp(t, store)

	status, body := doJSON(t, app, fiber.MethodPost, "/wallet/send", "alice",
		`{"to_owner_id":"bob","amount":"150","description":"rent"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("expected %d got %d: %v", fiber.StatusCreated, status, body)
	}
	if body["balance"] != "350.00" || body["state"] != string(TransferComplete) {
		t.Fatalf("unexpected body: %v", body)
	}

	status, body = doJSON(t, app, fiber.MethodPost, "/wallet/send", "alice",
		`{"to_owner_id":"bob","amount":"1000"}`)
	if status != fiber.StatusUnprocessableEntity || body["message"] != "insufficient funds" {
		t.Fatalf("expected 422 insufficient funds, got %d %v", status, body)
	}

	status, _ = doJSON(t, app, fiber.MethodPost, "/wallet/send", "alice", `{"to_owner_id":"alice","amount":"1"}`)
	if status != fiber.StatusBadRequest {
		t.Fatalf("self transfer: expected %d got %d", fiber.StatusBadRequest, status)
	}
}

func TestHandlerTransactionsAndInsights(t *testing.T) {
	store := ledger.NewInMemory()
	ledger.SeedBalance(store, "alice", 50_000)
	app, _ := setupHandlerApp(t, store)

	doJSON(t, app, fiber.MethodPost, "/wallet/send", "alice", `{"to_owner_id":"bob","amount":"10","description":"lunch"}`)
	doJSON(t, app, fiber.MethodPost, "/wallet/send", "alice", `{"to_owner_id":"bob","amount":"20","description":"rent"}`)

	status, body := doJSON(t, app, fiber.MethodGet, "/wallet/transactions?limit=1", "alice", "")
	if status != fiber.StatusOK {
		t.Fatalf("expected %d got %d", fiber.StatusOK, status)
	}
	txs, _ := body["transactions"].([]any)
	if len(txs) != 1 {
		t.Fatalf("expected one transaction, got %v", body)
	}

	status, body = doJSON(t, app, fiber.MethodGet, "/wallet/insights?period=week", "alice", "")
	if status != fiber.StatusOK {
		t.Fatalf("expected %d got %d", fiber.StatusOK, status)
	}
	if body["total_sent"] != "30.00" || body["transaction_count"] != float64(2) {
		t.Fatalf("unexpected insights: %v", body)
	}

	status, _ = doJSON(t, app, fiber.MethodGet, "/wallet/insights?period=decade", "alice", "")
	if status != fiber.StatusBadRequest {
		t.Fatalf("unknown period: expected %d got %d", fiber.StatusBadRequest, status)
	}
}
