// Package walletapi is a typed HTTP client for the wallet endpoints. It
// satisfies viewmodel.BalanceSource so a remote UI can drive a BalanceModel.
package walletapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/wallet"
)

// DefaultTimeout bounds every request made by the client.
const DefaultTimeout = 30 * time.Second

// ErrTimeout is returned when a request does not complete within the client timeout.
var ErrTimeout = errors.New("wallet api: request timed out")

// APIError is a non-2xx response. It matches the wallet error kinds through
// errors.Is so callers can use wallet.UserMessage on it.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wallet api: %d %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case wallet.ErrValidation:
		return e.StatusCode == http.StatusBadRequest
	case wallet.ErrInsufficientFunds:
		return e.StatusCode == http.StatusUnprocessableEntity
	case wallet.ErrProcessor:
		return e.StatusCode == http.StatusPaymentRequired
	case wallet.ErrStore:
		return e.StatusCode == http.StatusServiceUnavailable
	}
	return false
}

// Client calls the wallet API on behalf of one bearer token.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a client. A zero timeout uses DefaultTimeout.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Balance is the response of GET /wallet/balance.
type Balance struct {
	OwnerID  string          `json:"owner_id"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
	AsOf     time.Time       `json:"as_of"`
}

// FundRequest is the body of POST /wallet/fund.
type FundRequest struct {
	Amount        decimal.Decimal   `json:"amount"`
	PaymentMethod string            `json:"payment_method"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	ClientTxID    string            `json:"client_tx_id,omitempty"`
}

// FundResponse is the result of a top-up.
type FundResponse struct {
	Success          bool            `json:"success"`
	ClientTxID       string          `json:"client_tx_id"`
	TransactionID    string          `json:"transaction_id"`
	PaymentReference string          `json:"payment_reference"`
	ReceiptCode      string          `json:"receipt_code"`
	Balance          decimal.Decimal `json:"balance"`
}

// SendRequest is the body of POST /wallet/send.
type SendRequest struct {
	ToOwnerID   string          `json:"to_owner_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	ClientTxID  string          `json:"client_tx_id,omitempty"`
}

// SendResponse is the result of a transfer.
type SendResponse struct {
	Success               bool            `json:"success"`
	State                 string          `json:"state"`
	ClientTxID            string          `json:"client_tx_id"`
	SentTransactionID     string          `json:"sent_transaction_id"`
	ReceivedTransactionID string          `json:"received_transaction_id"`
	Balance               decimal.Decimal `json:"balance"`
}

// Transaction is one ledger entry as returned by the API.
type Transaction struct {
	ID               string          `json:"id"`
	Direction        string          `json:"direction"`
	Kind             string          `json:"kind"`
	Amount           decimal.Decimal `json:"amount"`
	Description      string          `json:"description"`
	Status           string          `json:"status"`
	CounterpartyID   string          `json:"counterparty_id"`
	PaymentReference string          `json:"payment_reference"`
	Timestamp        time.Time       `json:"timestamp"`
}

// Category is one entry of Insights.TopCategories.
type Category struct {
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"`
	Count    int             `json:"count"`
}

// Insights is the response of GET /wallet/insights.
type Insights struct {
	Period           string          `json:"period"`
	From             time.Time       `json:"from"`
	To               time.Time       `json:"to"`
	TotalReceived    decimal.Decimal `json:"total_received"`
	TotalSent        decimal.Decimal `json:"total_sent"`
	NetChange        decimal.Decimal `json:"net_change"`
	TransactionCount int             `json:"transaction_count"`
	TopCategories    []Category      `json:"top_categories"`
}

// GetBalance returns the caller's balance in minor units. The owner is taken
// from the bearer token; ownerID only has to match it when set.
func (c *Client) GetBalance(ctx context.Context, ownerID string) (int64, error) {
	b, err := c.Balance(ctx)
	if err != nil {
		return 0, err
	}
	if ownerID != "" && b.OwnerID != "" && b.OwnerID != ownerID {
		return 0, fmt.Errorf("wallet api: token belongs to %s, not %s", b.OwnerID, ownerID)
	}
	return wallet.ToMinorUnits(b.Balance)
}

// Balance fetches the full balance response.
func (c *Client) Balance(ctx context.Context) (Balance, error) {
	var out Balance
	err := c.do(ctx, http.MethodGet, "/wallet/balance", "", nil, &out)
	return out, err
}

// AddFunds tops up the wallet. The client tx id doubles as the Idempotency-Key.
func (c *Client) AddFunds(ctx context.Context, req FundRequest) (FundResponse, error) {
	var out FundResponse
	err := c.do(ctx, http.MethodPost, "/wallet/fund", req.ClientTxID, req, &out)
	return out, err
}

// SendMoney transfers funds to another owner.
func (c *Client) SendMoney(ctx context.Context, req SendRequest) (SendResponse, error) {
	var out SendResponse
	err := c.do(ctx, http.MethodPost, "/wallet/send", req.ClientTxID, req, &out)
	return out, err
}

// Transactions lists entries newest first. A non-positive limit uses the server default.
func (c *Client) Transactions(ctx context.Context, limit int) ([]Transaction, error) {
	path := "/wallet/transactions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Transactions []Transaction `json:"transactions"`
	}
	err := c.do(ctx, http.MethodGet, path, "", nil, &out)
	return out.Transactions, err
}

// Insights fetches the activity summary for period (week, month or year).
func (c *Client) Insights(ctx context.Context, period string) (Insights, error) {
	var out Insights
	err := c.do(ctx, http.MethodGet, "/wallet/insights?period="+url.QueryEscape(period), "", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %w", ErrTimeout, context.DeadlineExceeded)
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %w", ErrTimeout, context.DeadlineExceeded)
		}
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
