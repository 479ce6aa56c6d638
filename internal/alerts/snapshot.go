package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"appeals-workers/internal/models"

	"github.com/redis/go-redis/v9"
)

// SnapshotCache keeps the last successful refresh per organization. It is served
// when a later refresh fails.
type SnapshotCache interface {
	Load(ctx context.Context, organizationID string) (models.Snapshot, bool, error)
	Save(ctx context.Context, snapshot models.Snapshot) error
	Clear(ctx context.Context, organizationID string) error
}

const snapshotKeyPrefix = "alerts:snapshot:"

func snapshotKey(organizationID string) string {
	return snapshotKeyPrefix + organizationID
}

// RedisSnapshotCache shares snapshots between worker replicas.
type RedisSnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSnapshotCache(client *redis.Client, ttl time.Duration) *RedisSnapshotCache {
	return &RedisSnapshotCache{client: client, ttl: ttl}
}

func (c *RedisSnapshotCache) Load(ctx context.Context, organizationID string) (models.Snapshot, bool, error) {
	val, err := c.client.Get(ctx, snapshotKey(organizationID)).Result()
	if errors.Is(err, redis.Nil) {
		return models.Snapshot{}, false, nil
	}
	if err != nil {
		return models.Snapshot{}, false, err
	}

	var snap models.Snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return models.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (c *RedisSnapshotCache) Save(ctx context.Context, snapshot models.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, snapshotKey(snapshot.OrganizationID), data, c.ttl).Err()
}

func (c *RedisSnapshotCache) Clear(ctx context.Context, organizationID string) error {
	return c.client.Del(ctx, snapshotKey(organizationID)).Err()
}

// MemorySnapshotCache is the single-process variant.
type MemorySnapshotCache struct {
	mu    sync.RWMutex
	items map[string]models.Snapshot
}

func NewMemorySnapshotCache() *MemorySnapshotCache {
	return &MemorySnapshotCache{items: make(map[string]models.Snapshot)}
}

func (c *MemorySnapshotCache) Load(_ context.Context, organizationID string) (models.Snapshot, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.items[organizationID]
	return snap, ok, nil
}

func (c *MemorySnapshotCache) Save(_ context.Context, snapshot models.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[snapshot.OrganizationID] = snapshot
	return nil
}

func (c *MemorySnapshotCache) Clear(_ context.Context, organizationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, organizationID)
	return nil
}
