package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modemfarm/smsagent/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// SnapshotCache mirrors the in-memory device/activation state for the
// read-only dashboard. Best effort only: the in-memory store remains the
// authority and cache failures are discarded.
type SnapshotCache interface {
	StoreSnapshot(ctx context.Context, devices []models.Device, open []models.Activation, stats models.Stats)
}

type NopSnapshotCache struct{}

func (NopSnapshotCache) StoreSnapshot(context.Context, []models.Device, []models.Activation, models.Stats) {
}

type RedisSnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewRedisSnapshotCache(client *redis.Client, logger *logrus.Logger) *RedisSnapshotCache {
	return &RedisSnapshotCache{client: client, ttl: time.Minute, logger: logger}
}

func (c *RedisSnapshotCache) StoreSnapshot(ctx context.Context, devices []models.Device, open []models.Activation, stats models.Stats) {
	c.set(ctx, "agent:devices", devices)
	c.set(ctx, "agent:activations", open)
	c.set(ctx, "agent:stats", stats)
}

func (c *RedisSnapshotCache) set(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Debugf("marshal snapshot %s: %v", key, err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Debugf("cache snapshot %s: %v", key, err)
	}
}
