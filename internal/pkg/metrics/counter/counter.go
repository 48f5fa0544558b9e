package counter

import (
	"context"

	"github.com/yum-mi/tokenledger/internal/pkg/cache"
)

const (
	webhookProcessedKey = "webhook:counters:processed"
	webhookCreditedKey  = "webhook:counters:credited"
	webhookRejectedKey  = "webhook:counters:rejected"
	webhookDuplicateKey = "webhook:counters:duplicate"
)

// AddProcessed increments the processed-notification counter for a status.
func AddProcessed(status string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookProcessedKey, status, 1).Err()
}

// AddCredited increments the credited counter and the token total.
func AddCredited(tokens int) error {
	ctx := context.Background()
	pipe := cache.GetClient().Pipeline()
	pipe.HIncrBy(ctx, webhookCreditedKey, "count", 1)
	pipe.HIncrBy(ctx, webhookCreditedKey, "tokens", int64(tokens))
	_, err := pipe.Exec(ctx)
	return err
}

// AddRejected increments the rejected counter for an error kind
// (invalid_signature, invalid_payload).
func AddRejected(kind string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookRejectedKey, kind, 1).Err()
}

// AddDuplicate increments the idempotent-duplicate counter.
func AddDuplicate() error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookDuplicateKey, "count", 1).Err()
}

// Snapshot reads all webhook counters for the health endpoint.
func Snapshot() (map[string]map[string]string, error) {
	ctx := context.Background()
	out := make(map[string]map[string]string, 4)
	for name, key := range map[string]string{
		"processed": webhookProcessedKey,
		"credited":  webhookCreditedKey,
		"rejected":  webhookRejectedKey,
		"duplicate": webhookDuplicateKey,
	} {
		vals, err := cache.GetClient().HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		out[name] = vals
	}
	return out, nil
}
