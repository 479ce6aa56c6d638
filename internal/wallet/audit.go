package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"appeals-workers/internal/models"

	"github.com/redis/go-redis/v9"
)

const DefaultAuditQueueKey = "wallet:audit:pending"

// AuditQueue is a Redis list of billing entries whose insert failed after the
// balance was already debited. A hash keyed by entry id mirrors the list so a
// redelivered deduction can find its entry before it is replayed.
type AuditQueue struct {
	client *redis.Client
	key    string
}

func (q *AuditQueue) indexKey() string {
	return q.key + ":ids"
}

func NewAuditQueue(client *redis.Client, key string) *AuditQueue {
	if key == "" {
		key = DefaultAuditQueueKey
	}
	return &AuditQueue{client: client, key: key}
}

func (q *AuditQueue) Enqueue(ctx context.Context, entry models.BillingEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, q.key, data)
		pipe.HSet(ctx, q.indexKey(), entry.ID, data)
		return nil
	})
	return err
}

// Pending returns the queued entry with the given id.
func (q *AuditQueue) Pending(ctx context.Context, id string) (models.BillingEntry, bool, error) {
	raw, err := q.client.HGet(ctx, q.indexKey(), id).Result()
	if errors.Is(err, redis.Nil) {
		return models.BillingEntry{}, false, nil
	}
	if err != nil {
		return models.BillingEntry{}, false, err
	}
	var entry models.BillingEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return models.BillingEntry{}, false, err
	}
	return entry, true, nil
}

func (q *AuditQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Drain pops up to limit entries and passes each to write. An entry whose write fails
// goes back to the head of the list and draining stops. Entries that cannot be decoded
// are dropped and counted as skipped.
func (q *AuditQueue) Drain(ctx context.Context, limit int, write func(context.Context, models.BillingEntry) error) (written, skipped int, err error) {
	for written+skipped < limit {
		raw, err := q.client.LPop(ctx, q.key).Result()
		if errors.Is(err, redis.Nil) {
			return written, skipped, nil
		}
		if err != nil {
			return written, skipped, err
		}

		var entry models.BillingEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			skipped++
			continue
		}

		if err := write(ctx, entry); err != nil {
			if pushErr := q.client.LPush(ctx, q.key, raw).Err(); pushErr != nil {
				return written, skipped, fmt.Errorf("requeue entry %s: %w (write: %v)", entry.ID, pushErr, err)
			}
			return written, skipped, err
		}
		if err := q.client.HDel(ctx, q.indexKey(), entry.ID).Err(); err != nil {
			return written + 1, skipped, fmt.Errorf("unindex entry %s: %w", entry.ID, err)
		}
		written++
	}
	return written, skipped, nil
}
