package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const balanceKeyPrefix = "wallet:balance:"

// BalanceCache holds the balances check-balance answers from. Deductions never read it;
// they refresh it with the balances of the row they locked.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl}
}

func balanceKey(organizationID string) string {
	return balanceKeyPrefix + organizationID
}

func (c *BalanceCache) Get(ctx context.Context, organizationID string) (Balances, bool, error) {
	val, err := c.client.Get(ctx, balanceKey(organizationID)).Result()
	if errors.Is(err, redis.Nil) {
		return Balances{}, false, nil
	}
	if err != nil {
		return Balances{}, false, err
	}

	var b Balances
	if err := json.Unmarshal([]byte(val), &b); err != nil {
		return Balances{}, false, err
	}
	return b, true, nil
}

func (c *BalanceCache) Set(ctx context.Context, organizationID string, b Balances) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, balanceKey(organizationID), data, c.ttl).Err()
}
