package redis

import (
	"auction-engine/internal/domain"
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisDeadlineIndex keeps OPEN auctions in a sorted set scored by end time in epoch millis.
type RedisDeadlineIndex struct {
	client *redis.Client
	key    string
}

func NewRedisDeadlineIndex(client *redis.Client) *RedisDeadlineIndex {
	return &RedisDeadlineIndex{client: client, key: DeadlinesKey}
}

func (r *RedisDeadlineIndex) Upsert(ctx context.Context, auctionID int64, endAt time.Time) error {
	return r.client.ZAdd(ctx, r.key, &redis.Z{
		Score:  float64(endAt.UnixMilli()),
		Member: strconv.FormatInt(auctionID, 10),
	}).Err()
}

// UpsertAll writes entries with a single ZADD. Callers size the batch.
func (r *RedisDeadlineIndex) UpsertAll(ctx context.Context, entries []domain.DeadlineEntry) error {
	if len(entries) == 0 {
		return nil
	}
	members := make([]*redis.Z, 0, len(entries))
	for _, e := range entries {
		members = append(members, &redis.Z{
			Score:  e.Score(),
			Member: strconv.FormatInt(e.AuctionID, 10),
		})
	}
	return r.client.ZAdd(ctx, r.key, members...).Err()
}

func (r *RedisDeadlineIndex) Remove(ctx context.Context, auctionID int64) error {
	return r.client.ZRem(ctx, r.key, strconv.FormatInt(auctionID, 10)).Err()
}

func (r *RedisDeadlineIndex) Due(ctx context.Context, now time.Time, offset, limit int64) ([]int64, error) {
	members, err := r.client.ZRangeByScore(ctx, r.key, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(now.UnixMilli(), 10),
		Offset: offset,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			// Foreign member, drop it so it cannot wedge the head of the index.
			r.client.ZRem(ctx, r.key, m)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// PruneAfter drops entries whose end time lies beyond horizon.
func (r *RedisDeadlineIndex) PruneAfter(ctx context.Context, horizon time.Time) (int64, error) {
	return r.client.ZRemRangeByScore(ctx, r.key,
		"("+strconv.FormatInt(horizon.UnixMilli(), 10), "+inf").Result()
}

// Entries lists up to limit entries ending at or before until, with their end times.
func (r *RedisDeadlineIndex) Entries(ctx context.Context, until time.Time, limit int64) ([]domain.DeadlineEntry, error) {
	zs, err := r.client.ZRangeByScoreWithScores(ctx, r.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(until.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]domain.DeadlineEntry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, domain.DeadlineEntry{
			AuctionID: id,
			EndAt:     time.UnixMilli(int64(z.Score)),
		})
	}
	return entries, nil
}

func (r *RedisDeadlineIndex) Size(ctx context.Context) (int64, error) {
	return r.client.ZCard(ctx, r.key).Result()
}
