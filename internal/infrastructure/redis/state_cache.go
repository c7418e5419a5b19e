package redis

import (
	"auction-engine/internal/domain"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const (
	fieldCurrentPrice = "current_price"
	fieldBidUnit      = "bid_unit"
	fieldStartTs      = "start_ts"
	fieldEndTs        = "end_ts"
	fieldOwnerID      = "owner_id"
	fieldIsEnd        = "is_end"
	fieldBuyNowFlag   = "buy_now_flag"
	fieldBuyNowPrice  = "buy_now_price"
)

const loadIfAbsentLua = `
if redis.call('HEXISTS', KEYS[1], 'current_price') == 1 then
  return 0
end
for i = 2, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
local ttl = tonumber(ARGV[1])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`

const raisePriceLua = fixedPointLua + `
local cur = redis.call('HGET', KEYS[1], 'current_price')
if not cur then return 0 end
local proposed, current = toFixed(ARGV[1]), toFixed(cur)
if proposed and current and cmpFixed(proposed, current) > 0 then
  redis.call('HSET', KEYS[1], 'current_price', ARGV[1])
  return 1
end
return 0
`

const setPriceLua = `
if redis.call('HEXISTS', KEYS[1], 'current_price') == 0 then return 0 end
redis.call('HSET', KEYS[1], 'current_price', ARGV[1])
return 1
`

const extendEndLua = `
local f = redis.call('HMGET', KEYS[1], 'current_price', 'is_end', 'end_ts')
if (not f[1]) or f[2] == '1' then return 0 end
if tonumber(ARGV[1]) <= (tonumber(f[3] or '0') or 0) then return 0 end
redis.call('HSET', KEYS[1], 'end_ts', ARGV[1])
return 1
`

// RedisStateCache is the hot copy of per-auction bidding state, keyed auction:{id}.
type RedisStateCache struct {
	client       *redis.Client
	loadScript   *redis.Script
	raiseScript  *redis.Script
	setScript    *redis.Script
	extendScript *redis.Script
}

func NewRedisStateCache(client *redis.Client) *RedisStateCache {
	return &RedisStateCache{
		client:       client,
		loadScript:   redis.NewScript(loadIfAbsentLua),
		raiseScript:  redis.NewScript(raisePriceLua),
		setScript:    redis.NewScript(setPriceLua),
		extendScript: redis.NewScript(extendEndLua),
	}
}

// LoadIfAbsent writes record unless a price is already cached. A record that
// is already ended gets endedTTL in the same call.
func (r *RedisStateCache) LoadIfAbsent(ctx context.Context, record *domain.AuctionCacheRecord,
	endedTTL time.Duration) (bool, error) {
	var ttlMs int64
	if record.IsEnd && endedTTL > 0 {
		ttlMs = endedTTL.Milliseconds()
	}
	args := []interface{}{
		ttlMs,
		fieldCurrentPrice, record.CurrentPrice.String(),
		fieldBidUnit, record.BidUnit.String(),
		fieldStartTs, record.StartTs,
		fieldEndTs, record.EndTs,
		fieldOwnerID, record.OwnerID,
		fieldIsEnd, boolFlag(record.IsEnd),
		fieldBuyNowFlag, boolFlag(record.BuyNowFlag),
	}
	if record.BuyNowPrice.Valid {
		args = append(args, fieldBuyNowPrice, record.BuyNowPrice.Decimal.String())
	}

	loaded, err := r.loadScript.Run(ctx, r.client, []string{AuctionKey(record.AuctionID)}, args...).Int64()
	if err != nil {
		return false, fmt.Errorf("load auction %d into cache: %w", record.AuctionID, err)
	}
	return loaded == 1, nil
}

func (r *RedisStateCache) Snapshot(ctx context.Context, auctionID int64) (*domain.AuctionCacheRecord, error) {
	fields, err := r.client.HGetAll(ctx, AuctionKey(auctionID)).Result()
	if err != nil {
		return nil, err
	}
	if _, ok := fields[fieldCurrentPrice]; !ok {
		return nil, domain.ErrCacheMiss
	}
	return parseCacheRecord(auctionID, fields)
}

func (r *RedisStateCache) RaisePrice(ctx context.Context, auctionID int64, price decimal.Decimal) (bool, error) {
	raised, err := r.raiseScript.Run(ctx, r.client, []string{AuctionKey(auctionID)}, price.String()).Int64()
	if err != nil {
		return false, err
	}
	return raised == 1, nil
}

func (r *RedisStateCache) SetPrice(ctx context.Context, auctionID int64, price decimal.Decimal) (bool, error) {
	set, err := r.setScript.Run(ctx, r.client, []string{AuctionKey(auctionID)}, price.String()).Int64()
	if err != nil {
		return false, err
	}
	return set == 1, nil
}

func (r *RedisStateCache) MarkEnded(ctx context.Context, auctionID int64, expireAfter time.Duration) error {
	key := AuctionKey(auctionID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldIsEnd, "1")
		if expireAfter > 0 {
			pipe.Expire(ctx, key, expireAfter)
		}
		return nil
	})
	return err
}

func (r *RedisStateCache) ExtendEnd(ctx context.Context, auctionID int64, endTs int64) (bool, error) {
	moved, err := r.extendScript.Run(ctx, r.client, []string{AuctionKey(auctionID)}, endTs).Int64()
	if err != nil {
		return false, err
	}
	return moved == 1, nil
}

func parseCacheRecord(auctionID int64, fields map[string]string) (*domain.AuctionCacheRecord, error) {
	rec := &domain.AuctionCacheRecord{
		AuctionID:  auctionID,
		IsEnd:      fields[fieldIsEnd] == "1",
		BuyNowFlag: fields[fieldBuyNowFlag] == "1",
	}

	var err error
	if rec.CurrentPrice, err = decimal.NewFromString(fields[fieldCurrentPrice]); err != nil {
		return nil, fmt.Errorf("auction %d current_price: %w", auctionID, err)
	}
	if v, ok := fields[fieldBidUnit]; ok {
		if rec.BidUnit, err = decimal.NewFromString(v); err != nil {
			return nil, fmt.Errorf("auction %d bid_unit: %w", auctionID, err)
		}
	}
	if v, ok := fields[fieldBuyNowPrice]; ok && v != "" {
		p, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("auction %d buy_now_price: %w", auctionID, err)
		}
		rec.BuyNowPrice = decimal.NewNullDecimal(p)
	}
	rec.StartTs, _ = strconv.ParseInt(fields[fieldStartTs], 10, 64)
	rec.EndTs, _ = strconv.ParseInt(fields[fieldEndTs], 10, 64)
	rec.OwnerID, _ = strconv.ParseInt(fields[fieldOwnerID], 10, 64)
	return rec, nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
