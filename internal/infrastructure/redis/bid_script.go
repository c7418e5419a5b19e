package redis

import (
	"auction-engine/internal/domain"
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// fixedPointLua parses decimal strings into (integer, 1e-8 units) pairs so
// that script comparisons stay exact; Lua numbers are doubles.
const fixedPointLua = `
local function toFixed(s)
  if (not s) or s == '' then return nil end
  local dot = string.find(s, '.', 1, true)
  local ip, fp = s, ''
  if dot then
    ip = string.sub(s, 1, dot - 1)
    fp = string.sub(s, dot + 1)
  end
  if ip == '' then ip = '0' end
  if string.len(fp) > 8 or string.len(ip) > 15 then return nil end
  fp = string.sub(fp .. '00000000', 1, 8)
  if (not string.match(ip, '^%d+$')) or (not string.match(fp, '^%d+$')) then return nil end
  return {tonumber(ip), tonumber(fp)}
end

local function addFixed(a, b)
  local fp = a[2] + b[2]
  local ip = a[1] + b[1]
  if fp >= 100000000 then
    fp = fp - 100000000
    ip = ip + 1
  end
  return {ip, fp}
end

local function cmpFixed(a, b)
  if a[1] ~= b[1] then
    if a[1] < b[1] then return -1 end
    return 1
  end
  if a[2] ~= b[2] then
    if a[2] < b[2] then return -1 end
    return 1
  end
  return 0
end
`

// KEYS[1] auction hash, KEYS[2] bid queue, KEYS[3] idempotency marker
// ARGV[1] amount, ARGV[2] now (epoch seconds), ARGV[3] idempotency ttl seconds
// ARGV[4] ok payload, ARGV[5] missing, ARGV[6] not running, ARGV[7] low price
// ARGV[8] bidder id, ARGV[9] self bid, ARGV[10] buy-now ok payload
const submitBidLua = fixedPointLua + `
if redis.call('EXISTS', KEYS[3]) == 1 then
  return {'DUPLICATE', redis.call('HGET', KEYS[1], 'current_price') or ''}
end

local f = redis.call('HMGET', KEYS[1], 'current_price', 'bid_unit', 'start_ts', 'end_ts',
  'owner_id', 'is_end', 'buy_now_flag', 'buy_now_price')
local cur, unit, owner = f[1], f[2], f[5]
local startTs = tonumber(f[3] or '0') or 0
local endTs = tonumber(f[4] or '0') or 0

if (not cur) or (not unit) or (not owner) or startTs == 0 or endTs == 0 then
  redis.call('RPUSH', KEYS[2], ARGV[5])
  return {'MISSING', cur or ''}
end

local now = tonumber(ARGV[2])
if f[6] == '1' or now < startTs or now >= endTs then
  redis.call('RPUSH', KEYS[2], ARGV[6])
  return {'NOT_RUNNING', cur}
end

local ownerId = tonumber(owner) or 0
local bidderId = tonumber(ARGV[8]) or 0
if ownerId > 0 and bidderId > 0 and ownerId == bidderId then
  redis.call('RPUSH', KEYS[2], ARGV[9])
  return {'SELF_BID', cur}
end

local curI, unitI, bidI = toFixed(cur), toFixed(unit), toFixed(ARGV[1])
if (not curI) or (not unitI) or (not bidI) then
  redis.call('RPUSH', KEYS[2], ARGV[7])
  return {'LOW_PRICE', cur}
end

local ttl = tonumber(ARGV[3]) or 1800

if f[7] == '1' and f[8] and f[8] ~= '' then
  local bnI = toFixed(f[8])
  if bnI and cmpFixed(bidI, bnI) >= 0 then
    redis.call('HSET', KEYS[1], 'current_price', f[8])
    redis.call('HSET', KEYS[1], 'is_end', '1')
    redis.call('RPUSH', KEYS[2], ARGV[10])
    redis.call('SET', KEYS[3], '1', 'EX', ttl)
    return {'OK', f[8]}
  end
end

if cmpFixed(bidI, addFixed(curI, unitI)) < 0 then
  redis.call('RPUSH', KEYS[2], ARGV[7])
  return {'LOW_PRICE', cur}
end

redis.call('HSET', KEYS[1], 'current_price', ARGV[1])
redis.call('RPUSH', KEYS[2], ARGV[4])
redis.call('SET', KEYS[3], '1', 'EX', ttl)
return {'OK', ARGV[1]}
`

// RedisBidProcessor evaluates one bid against the cached auction state in a
// single server-side script: dedup, validation, price update, queue append.
type RedisBidProcessor struct {
	client  *redis.Client
	script  *redis.Script
	idemTTL time.Duration
	now     func() time.Time
}

func NewRedisBidProcessor(client *redis.Client, idemTTL time.Duration) *RedisBidProcessor {
	return &RedisBidProcessor{
		client:  client,
		script:  redis.NewScript(submitBidLua),
		idemTTL: idemTTL,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (p *RedisBidProcessor) WithClock(now func() time.Time) *RedisBidProcessor {
	p.now = now
	return p
}

func (p *RedisBidProcessor) SubmitBid(ctx context.Context, req domain.BidRequest) (*domain.BidResult, error) {
	now := p.now()

	payloads := make(map[domain.BidCode]string, 5)
	for _, code := range []domain.BidCode{domain.BidOK, domain.BidMissing, domain.BidNotRunning, domain.BidLowPrice, domain.BidSelfBid} {
		payload, err := domain.NewBidOutcomeEvent(req, code, false, now).Marshal()
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", code, err)
		}
		payloads[code] = payload
	}
	buyNowPayload, err := domain.NewBidOutcomeEvent(req, domain.BidOK, true, now).Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode buy-now payload: %w", err)
	}

	ttlSec := int64(p.idemTTL / time.Second)
	if ttlSec <= 0 {
		ttlSec = 1
	}

	keys := []string{AuctionKey(req.AuctionID), BidQueueKey(req.AuctionID), IdempotencyKey(req.RequestID)}
	raw, err := p.script.Run(ctx, p.client, keys,
		req.Amount.String(),
		now.Unix(),
		ttlSec,
		payloads[domain.BidOK],
		payloads[domain.BidMissing],
		payloads[domain.BidNotRunning],
		payloads[domain.BidLowPrice],
		req.BidderID,
		payloads[domain.BidSelfBid],
		buyNowPayload,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("submit bid script: %w", err)
	}

	return parseBidReply(raw)
}

func parseBidReply(raw interface{}) (*domain.BidResult, error) {
	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 2 {
		return nil, fmt.Errorf("unexpected bid script reply: %v", raw)
	}
	code, ok := reply[0].(string)
	if !ok {
		return nil, fmt.Errorf("unexpected bid script code: %v", reply[0])
	}
	price, _ := reply[1].(string)

	switch c := domain.BidCode(code); c {
	case domain.BidOK, domain.BidDuplicate, domain.BidNotRunning,
		domain.BidLowPrice, domain.BidMissing, domain.BidSelfBid:
		return &domain.BidResult{Code: c, CurrentPriceAfter: price}, nil
	default:
		return nil, fmt.Errorf("unknown bid script code: %q", code)
	}
}
