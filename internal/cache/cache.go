package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/manurov/card-service/internal/models"
)

// NewClient connects to Redis and verifies the connection with a ping.
func NewClient(addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

// CardViews is a JSON-backed Redis cache for masked card views. All
// operations are best-effort: errors are logged and reads fall through to
// the store.
type CardViews struct {
	client *redis.Client
	ttl    time.Duration
	log    *logrus.Logger
}

// NewCardViews creates a card view cache with the given TTL (0 disables
// expiry).
func NewCardViews(client *redis.Client, ttl time.Duration, log *logrus.Logger) *CardViews {
	return &CardViews{client: client, ttl: ttl, log: log}
}

func cardKey(id int64) string {
	return fmt.Sprintf("card:view:%d", id)
}

// GetView retrieves a cached card view. Returns (nil, false) on a miss or
// any cache fault.
func (c *CardViews) GetView(ctx context.Context, id int64) (*models.CardView, bool) {
	data, err := c.client.Get(ctx, cardKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warnf("Cache read error for card %d: %v", id, err)
		}
		return nil, false
	}
	var view models.CardView
	if err := json.Unmarshal(data, &view); err != nil {
		c.log.Warnf("Cache decode error for card %d: %v", id, err)
		return nil, false
	}
	return &view, true
}

// SetView stores a card view under its card ID.
func (c *CardViews) SetView(ctx context.Context, view *models.CardView) {
	data, err := json.Marshal(view)
	if err != nil {
		c.log.Warnf("Cache encode error for card %d: %v", view.ID, err)
		return
	}
	if err := c.client.Set(ctx, cardKey(view.ID), data, c.ttl).Err(); err != nil {
		c.log.Warnf("Cache write error for card %d: %v", view.ID, err)
	}
}

// Invalidate drops a card's cached view after a mutation.
func (c *CardViews) Invalidate(ctx context.Context, id int64) {
	if err := c.client.Del(ctx, cardKey(id)).Err(); err != nil {
		c.log.Warnf("Cache delete error for card %d: %v", id, err)
	}
}
