package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for run coordination and the vote journal.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks if Redis is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func lockKey(account string) string {
	return fmt.Sprintf("juror:run_lock:%s", account)
}

// AcquireLock claims the run slot for an account. It returns false when
// another run already holds it.
func (c *Client) AcquireLock(
	ctx context.Context,
	account, runID string,
	ttl time.Duration,
) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, lockKey(account), runID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// Lock scripts only touch the key while runID still owns it.
var (
	refreshLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RefreshLock extends the TTL of a lock held by runID. It returns false when
// the lock expired or belongs to another run.
func (c *Client) RefreshLock(
	ctx context.Context,
	account, runID string,
	ttl time.Duration,
) (bool, error) {
	n, err := refreshLockScript.Run(ctx, c.rdb, []string{lockKey(account)}, runID, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("refresh lock failed: %w", err)
	}
	return n == 1, nil
}

// ReleaseLock releases the run slot if runID still owns it.
func (c *Client) ReleaseLock(ctx context.Context, account, runID string) error {
	if err := releaseLockScript.Run(ctx, c.rdb, []string{lockKey(account)}, runID).Err(); err != nil {
		return fmt.Errorf("release lock failed: %w", err)
	}
	return nil
}
