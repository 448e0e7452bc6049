package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"fulfillment-service/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

const claimPending = "pending"

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
}

// NewClient creates a new Redis client and verifies the connection
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewWithRedis(rdb), nil
}

// NewWithRedis wraps an existing go-redis client
func NewWithRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
	}
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotency:%s", key)
}

// ClaimIdempotencyKey marks key as in flight. It returns false when the key was
// already claimed by an earlier request.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, idempotencyKey(key), claimPending, ttl).Result()
}

// SetIdempotencyResult records the order created under key
func (c *Client) SetIdempotencyResult(ctx context.Context, key string, orderID int64, ttl time.Duration) error {
	return c.rdb.Set(ctx, idempotencyKey(key), orderID, ttl).Err()
}

// GetIdempotencyResult returns the order created under key. found is false while
// the first request is still in flight or when the key is unknown.
func (c *Client) GetIdempotencyResult(ctx context.Context, key string) (orderID int64, found bool, err error) {
	val, err := c.rdb.Get(ctx, idempotencyKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if val == claimPending {
		return 0, false, nil
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt idempotency value %q: %w", val, err)
	}
	return id, true, nil
}

// ReleaseIdempotencyKey forgets a claim so the client may retry after a failure
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, idempotencyKey(key)).Err()
}

func lockKey(name string) string {
	return fmt.Sprintf("lock:%s", name)
}

// AcquireLock acquires a distributed lock. The returned token identifies this
// holder and must be passed to ReleaseLock.
func (c *Client) AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, lockKey(name), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ReleaseLock releases a distributed lock if token still owns it. A lock that
// expired and was taken by another holder is left alone.
func (c *Client) ReleaseLock(ctx context.Context, name, token string) error {
	if err := c.releaseScript.Run(ctx, c.rdb, []string{lockKey(name)}, token).Err(); err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}

func aggregateKey(customerID int64) string {
	return fmt.Sprintf("aggregate:%d", customerID)
}

// GetAggregate returns the cached counters for a customer, or nil on a miss
func (c *Client) GetAggregate(ctx context.Context, customerID int64) (*models.CustomerAggregate, error) {
	raw, err := c.rdb.Get(ctx, aggregateKey(customerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var agg models.CustomerAggregate
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, fmt.Errorf("failed to decode cached aggregate: %w", err)
	}
	return &agg, nil
}

// SetAggregate caches a customer's counters
func (c *Client) SetAggregate(ctx context.Context, agg models.CustomerAggregate, ttl time.Duration) error {
	raw, err := json.Marshal(agg)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, aggregateKey(agg.CustomerID), raw, ttl).Err()
}

// InvalidateAggregate drops the cached counters for a customer
func (c *Client) InvalidateAggregate(ctx context.Context, customerID int64) error {
	return c.rdb.Del(ctx, aggregateKey(customerID)).Err()
}
