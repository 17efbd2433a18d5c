package server

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/walletledger/internal/config"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/logging"
	"github.com/congo-pay/walletledger/internal/processor"
	"github.com/congo-pay/walletledger/internal/receipt"
	"github.com/congo-pay/walletledger/internal/routes"
)

const testSecret = "integration-secret"

func newTestServer(t *testing.T) (*fiber.App, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { cache.Close() })

	logger := logging.Discard()
	srv, err := New(routes.Deps{
		Cfg: config.Config{
			AppName:           "WalletLedger",
			AppEnv:            "test",
			StoreBackend:      config.StoreMemory,
			JWTSecret:         testSecret,
			IdempotencyTTL:    time.Minute,
			ExternalTimeout:   time.Second,
			TransferRateLimit: 100,
		},
		Store:     ledger.NewInMemory(),
		Cache:     cache,
		Processor: processor.Static{},
		Receipts:  receipt.NewRedisStream(cache, receipt.DefaultStream, 0),
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv.App(), mr
}

func bearer(t *testing.T, owner string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   owner,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + token
}

func call(t *testing.T, app *fiber.App, method, path, owner, key, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if owner != "" {
		req.Header.Set(fiber.HeaderAuthorization, bearer(t, owner))
	}
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, decoded
}

func TestWalletFlowEndToEnd(t *testing.T) {
	app, mr := newTestServer(t)

	status, body := call(t, app, fiber.MethodPost, "/api/v1/wallet/fund", "alice", "fund-1",
		`{"amount":"500","payment_method":"pm_card_visa","client_tx_id":"fund-1"}`)
	if status != fiber.StatusCreated || body["balance"] != "500.00" {
		t.Fatalf("fund: %d %v", status, body)
	}

	status, body = call(t, app, fiber.MethodPost, "/api/v1/wallet/send", "alice", "send-1",
		`{"to_owner_id":"bob","amount":"150","description":"rent","client_tx_id":"send-1"}`)
	if status != fiber.StatusCreated || body["balance"] != "350.00" {
		t.Fatalf("send: %d %v", status, body)
	}

	// A retried request replays the stored response.
	status, body = call(t, app, fiber.MethodPost, "/api/v1/wallet/send", "alice", "send-1",
		`{"to_owner_id":"bob","amount":"150","description":"rent","client_tx_id":"send-1"}`)
	if status != fiber.StatusCreated || body["balance"] != "350.00" {
		t.Fatalf("replayed send: %d %v", status, body)
	}

	status, body = call(t, app, fiber.MethodGet, "/api/v1/wallet/balance", "bob", "", "")
	if status != fiber.StatusOK || body["balance"] != "150.00" {
		t.Fatalf("bob balance: %d %v", status, body)
	}

	status, body = call(t, app, fiber.MethodPost, "/api/v1/wallet/send", "bob", "send-2",
		`{"to_owner_id":"alice","amount":"1000"}`)
	if status != fiber.StatusUnprocessableEntity || body["error"] != "insufficient funds" {
		t.Fatalf("overdraft: %d %v", status, body)
	}

	entries, err := mr.Stream(receipt.DefaultStream)
	if err != nil {
		t.Fatalf("read receipt stream: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 receipts (top-up, sent, received), got %d", len(entries))
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	app, _ := newTestServer(t)

	status, body := call(t, app, fiber.MethodGet, "/api/v1/wallet/balance", "", "", "")
	if status != fiber.StatusUnauthorized || body["error"] != "missing bearer token" {
		t.Fatalf("expected 401, got %d %v", status, body)
	}

	status, _ = call(t, app, fiber.MethodGet, "/api/v1/ping", "", "", "")
	if status != fiber.StatusOK {
		t.Fatalf("ping should be public, got %d", status)
	}
}

func TestHealthz(t *testing.T) {
	app, mr := newTestServer(t)

	status, body := call(t, app, fiber.MethodGet, "/healthz", "", "", "")
	if status != fiber.StatusOK {
		t.Fatalf("expected healthy, got %d %v", status, body)
	}

	mr.Close()
	status, _ = call(t, app, fiber.MethodGet, "/healthz", "", "", "")
	if status != fiber.StatusServiceUnavailable {
		t.Fatalf("expected 503 with redis down, got %d", status)
	}
}
