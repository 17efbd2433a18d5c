package receipt

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream receipts are appended to.
const DefaultStream = "wallet:receipts"

// RedisStream appends receipts to a capped Redis stream for downstream renderers.
type RedisStream struct {
	cache  *redis.Client
	stream string
	maxLen int64
}

// NewRedisStream builds a stream-backed generator. An empty stream name uses DefaultStream.
func NewRedisStream(cache *redis.Client, stream string, maxLen int64) *RedisStream {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = 100_000
	}
	return &RedisStream{cache: cache, stream: stream, maxLen: maxLen}
}

// Generate assigns a code and appends the receipt to the stream.
func (g *RedisStream) Generate(ctx context.Context, r Receipt) (string, error) {
	r = withCode(r)
	err := g.cache.XAdd(ctx, &redis.XAddArgs{
		Stream: g.stream,
		MaxLen: g.maxLen,
		Approx: true,
		Values: map[string]any{
			"code":           r.Code,
			"owner_id":       r.OwnerID,
			"transaction_id": r.TransactionID,
			"amount":         strconv.FormatInt(r.Amount, 10),
			"currency":       r.Currency,
			"type":           string(r.Type),
			"description":    r.Description,
			"payment_method": r.PaymentMethod,
			"status":         r.Status,
			"timestamp":      r.Timestamp.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return "", fmt.Errorf("append receipt %s: %w", r.Code, err)
	}
	return r.Code, nil
}
