// Package rediskv wraps its own *redis.Client for the small amount of
// plain key/value state the core keeps outside the signal queue: per-
// symbol cooldowns and the VIXY panic snapshot (spec.md §4.4, §4.7).
// Grounded on cache/redis.go's RedisClient: a thin wrapper whose methods
// nil-check the underlying client and marshal/unmarshal JSON at the
// boundary.
package rediskv

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	rdb *redis.Client
}

// New dials addr and pings it once; returns nil (not an error) on
// failure, matching the teacher's "degrade to nil, caller checks" style.
func New(addr, password string, db int) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("⚠️  failed to connect to Redis at %s: %v", addr, err)
		return nil
	}
	log.Printf("✅ connected to Redis at %s", addr)
	return &Client{rdb: rdb}
}

// Raw exposes the underlying client for callers that need primitives
// this wrapper doesn't cover.
func (c *Client) Raw() *redis.Client {
	if c == nil {
		return nil
	}
	return c.rdb
}

func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("rediskv: client not initialized")
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, ttl).Err()
}

func (c *Client) Get(ctx context.Context, key string, dest interface{}) error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("rediskv: client not initialized")
	}
	val, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(val), dest)
}

func (c *Client) Delete(ctx context.Context, key string) error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("rediskv: client not initialized")
	}
	return c.rdb.Del(ctx, key).Err()
}

func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// CooldownKey and VixySnapshotKey centralize the two key shapes: the
// cooldown helpers below use CooldownKey, and internal/marketpanic uses
// VixySnapshotKey.
func CooldownKey(account, reason, symbol string) string {
	return fmt.Sprintf("trading:cooldown:%s:%s:%s", account, reason, symbol)
}

func VixySnapshotKey() string {
	return "market:vixy:snapshot"
}

// SetCooldown marks (reason, symbol) as cooling down for ttl. GC is
// implicit: Redis expires the key itself, no sweep goroutine needed.
func (c *Client) SetCooldown(ctx context.Context, account, reason, symbol string, ttl time.Duration) error {
	return c.Set(ctx, CooldownKey(account, reason, symbol), time.Now().Unix(), ttl)
}

// OnCooldown reports whether (reason, symbol) is still cooling down.
func (c *Client) OnCooldown(ctx context.Context, account, reason, symbol string) bool {
	if c == nil || c.rdb == nil {
		return false
	}
	var ts int64
	err := c.Get(ctx, CooldownKey(account, reason, symbol), &ts)
	return err == nil
}
