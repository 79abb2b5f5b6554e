package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const balanceNamespace = "wallet:balance"

// BalanceCache keeps recently read wallet balances in Redis. The TTL bounds
// how stale a read can be if an invalidation is lost.
type BalanceCache struct {
	client redis.UniversalClient // works with both single and cluster
	ttl    time.Duration
}

func NewBalanceCache(client redis.UniversalClient, ttl time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl}
}

// NewClient builds a Redis client. More than one address with useCluster
// set gives a cluster client.
func NewClient(addrs []string, password string, useCluster bool) redis.UniversalClient {
	if useCluster && len(addrs) > 1 {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    addrs,
			Password: password,
		})
	}
	return redis.NewClient(&redis.Options{
		Addr:     addrs[0],
		Password: password,
		DB:       0,
	})
}

func balanceKey(userID uuid.UUID) string {
	return balanceNamespace + ":" + userID.String()
}

// Get returns the cached balance. ok is false on a miss.
func (c *BalanceCache) Get(ctx context.Context, userID uuid.UUID) (balance int64, ok bool, err error) {
	v, err := c.client.Get(ctx, balanceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	balance, err = strconv.ParseInt(v, 10, 64)
	if err != nil {
		// Corrupt entry: drop it and treat as a miss.
		_ = c.client.Del(ctx, balanceKey(userID)).Err()
		return 0, false, nil
	}
	return balance, true, nil
}

func (c *BalanceCache) Set(ctx context.Context, userID uuid.UUID, balance int64) error {
	return c.client.Set(ctx, balanceKey(userID), strconv.FormatInt(balance, 10), c.ttl).Err()
}

// Invalidate drops the cached balance after a committed ledger change.
func (c *BalanceCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	return c.client.Del(ctx, balanceKey(userID)).Err()
}

func (c *BalanceCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *BalanceCache) Close() error {
	return c.client.Close()
}
