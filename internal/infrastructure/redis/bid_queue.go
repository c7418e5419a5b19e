package redis

import (
	"context"
	"errors"
	"strings"

	"github.com/go-redis/redis/v8"
)

// RedisBidQueue reads the per-auction lists the bid script appends to.
type RedisBidQueue struct {
	client    *redis.Client
	scanCount int64
}

func NewRedisBidQueue(client *redis.Client, scanCount int64) *RedisBidQueue {
	if scanCount <= 0 {
		scanCount = 100
	}
	return &RedisBidQueue{client: client, scanCount: scanCount}
}

// Queues lists every auction:{id}:bidq key that has main or retry work.
// Redis drops empty lists, so retry lists are scanned on their own.
func (q *RedisBidQueue) Queues(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var keys []string

	for _, pattern := range []string{bidQueuePattern, bidQueuePattern + retrySuffix} {
		iter := q.client.Scan(ctx, 0, pattern, q.scanCount).Iterator()
		for iter.Next(ctx) {
			key := strings.TrimSuffix(iter.Val(), retrySuffix)
			if !strings.HasSuffix(key, bidQueueSuffix) {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func (q *RedisBidQueue) Pop(ctx context.Context, queueKey string) (string, bool, error) {
	return q.pop(ctx, queueKey)
}

func (q *RedisBidQueue) PopRetry(ctx context.Context, queueKey string) (string, bool, error) {
	return q.pop(ctx, queueKey+retrySuffix)
}

func (q *RedisBidQueue) PushRetry(ctx context.Context, queueKey, payload string) error {
	return q.client.RPush(ctx, queueKey+retrySuffix, payload).Err()
}

func (q *RedisBidQueue) PushDead(ctx context.Context, queueKey, payload string) error {
	return q.client.RPush(ctx, queueKey+deadSuffix, payload).Err()
}

func (q *RedisBidQueue) Pending(ctx context.Context, auctionID int64) (int64, error) {
	key := BidQueueKey(auctionID)
	var main, retry *redis.IntCmd
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		main = pipe.LLen(ctx, key)
		retry = pipe.LLen(ctx, key+retrySuffix)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return main.Val() + retry.Val(), nil
}

func (q *RedisBidQueue) pop(ctx context.Context, key string) (string, bool, error) {
	payload, err := q.client.LPop(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return payload, true, nil
}
