package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const callbackTTL = 24 * time.Hour

// CallbackDedup claims payment callbacks with SET NX so concurrent returns of the
// same payment submit once.
// Key format: paycb:<order_no>:<trade_no>
type CallbackDedup struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCallbackDedup(client *redis.Client) *CallbackDedup {
	return &CallbackDedup{client: client, ttl: callbackTTL}
}

// Claim sets the key only if it is absent; the claim expires after callbackTTL.
func (d *CallbackDedup) Claim(ctx context.Context, orderNo, tradeNo string) (bool, error) {
	won, err := d.client.SetNX(ctx, d.key(orderNo, tradeNo), "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("callback dedup claim: %w", err)
	}
	return won, nil
}

func (d *CallbackDedup) Release(ctx context.Context, orderNo, tradeNo string) error {
	if err := d.client.Del(ctx, d.key(orderNo, tradeNo)).Err(); err != nil {
		return fmt.Errorf("callback dedup release: %w", err)
	}
	return nil
}

func (d *CallbackDedup) key(orderNo, tradeNo string) string {
	return fmt.Sprintf("paycb:%s:%s", orderNo, tradeNo)
}
