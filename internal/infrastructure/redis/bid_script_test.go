package redis

import (
	"auction-engine/internal/domain"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

var bidNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openAuction(price, unit string) map[string]interface{} {
	return map[string]interface{}{
		"current_price": price,
		"bid_unit":      unit,
		"start_ts":      bidNow.Add(-time.Hour).Unix(),
		"end_ts":        bidNow.Add(time.Hour).Unix(),
		"owner_id":      7,
		"is_end":        "0",
		"buy_now_flag":  "0",
	}
}

func newProcessor(t *testing.T) (*RedisBidProcessor, func(auctionID int64) []string) {
	t.Helper()
	mr, client := newTestClient(t)
	mr.SetTime(bidNow)
	p := NewRedisBidProcessor(client, 30*time.Minute).WithClock(func() time.Time { return bidNow })
	queue := func(auctionID int64) []string {
		items, err := client.LRange(context.Background(), BidQueueKey(auctionID), 0, -1).Result()
		assert.NoError(t, err)
		return items
	}
	seed := openAuction("100.00", "5.00")
	seedAuction(t, client, 1, seed)
	return p, queue
}

func bid(auctionID, bidderID int64, amount, requestID string) domain.BidRequest {
	return domain.BidRequest{
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    decimal.RequireFromString(amount),
		RequestID: requestID,
	}
}

func decodeQueued(t *testing.T, payload string) domain.BidOutcomeEvent {
	t.Helper()
	var ev domain.BidOutcomeEvent
	assert.NoError(t, json.Unmarshal([]byte(payload), &ev))
	return ev
}

func samePrice(t *testing.T, want, got string) {
	t.Helper()
	check.True(t, decimal.RequireFromString(want).Equal(decimal.RequireFromString(got)))
}

func TestSubmitBid_LadderAndDuplicate(t *testing.T) {
	p, queue := newProcessor(t)
	ctx := context.Background()

	res, err := p.SubmitBid(ctx, bid(1, 20, "104.00", "r-low"))
	assert.NoError(t, err)
	check.Equal(t, domain.BidLowPrice, res.Code)
	samePrice(t, "100", res.CurrentPriceAfter)

	res, err = p.SubmitBid(ctx, bid(1, 20, "105.00", "r-ok"))
	assert.NoError(t, err)
	check.Equal(t, domain.BidOK, res.Code)
	samePrice(t, "105", res.CurrentPriceAfter)

	res, err = p.SubmitBid(ctx, bid(1, 20, "105.00", "r-ok"))
	assert.NoError(t, err)
	check.Equal(t, domain.BidDuplicate, res.Code)
	samePrice(t, "105", res.CurrentPriceAfter)

	items := queue(1)
	check.Equal(t, 2, len(items))

	rejected := decodeQueued(t, items[0])
	check.Equal(t, domain.IntentReject, rejected.Intended)
	check.Equal(t, domain.BidLowPrice, rejected.Reason)
	check.Equal(t, "r-low#LOW_PRICE", rejected.EventID)

	accepted := decodeQueued(t, items[1])
	check.Equal(t, domain.IntentAccept, accepted.Intended)
	check.Equal(t, "r-ok", accepted.EventID)
	check.Equal(t, int64(20), accepted.MemberID)
	check.Equal(t, bidNow.Unix(), accepted.Ts)
	check.False(t, accepted.BuyNow)
}

func TestSubmitBid_SelfBidWinsOverPrice(t *testing.T) {
	p, queue := newProcessor(t)

	res, err := p.SubmitBid(context.Background(), bid(1, 7, "1000", "r-self"))
	assert.NoError(t, err)
	check.Equal(t, domain.BidSelfBid, res.Code)
	samePrice(t, "100", res.CurrentPriceAfter)
	check.Equal(t, domain.BidSelfBid, decodeQueued(t, queue(1)[0]).Reason)
}

func TestSubmitBid_Missing(t *testing.T) {
	p, queue := newProcessor(t)

	res, err := p.SubmitBid(context.Background(), bid(99, 20, "10", "r-missing"))
	assert.NoError(t, err)
	check.Equal(t, domain.BidMissing, res.Code)
	check.Equal(t, "", res.CurrentPriceAfter)
	check.Equal(t, 1, len(queue(99)))
}

func TestSubmitBid_OutsideWindow(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	notStarted := openAuction("100", "5")
	notStarted["start_ts"] = bidNow.Add(time.Minute).Unix()
	seedAuction(t, client, 2, notStarted)

	ended := openAuction("100", "5")
	ended["end_ts"] = bidNow.Unix()
	seedAuction(t, client, 3, ended)

	flagged := openAuction("100", "5")
	flagged["is_end"] = "1"
	seedAuction(t, client, 4, flagged)

	p := NewRedisBidProcessor(client, time.Minute).WithClock(func() time.Time { return bidNow })
	for _, id := range []int64{2, 3, 4} {
		res, err := p.SubmitBid(ctx, bid(id, 20, "500", "r-window"))
		assert.NoError(t, err)
		check.Equal(t, domain.BidNotRunning, res.Code)
	}
}

func TestSubmitBid_BuyNowIsTerminal(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	fields := openAuction("100.00", "5.00")
	fields["buy_now_flag"] = "1"
	fields["buy_now_price"] = "500.00"
	seedAuction(t, client, 5, fields)

	p := NewRedisBidProcessor(client, time.Minute).WithClock(func() time.Time { return bidNow })

	res, err := p.SubmitBid(ctx, bid(5, 20, "500.00", "r-buy"))
	assert.NoError(t, err)
	check.Equal(t, domain.BidOK, res.Code)
	samePrice(t, "500", res.CurrentPriceAfter)

	isEnd, err := client.HGet(ctx, AuctionKey(5), "is_end").Result()
	assert.NoError(t, err)
	check.Equal(t, "1", isEnd)

	res, err = p.SubmitBid(ctx, bid(5, 21, "600.00", "r-after"))
	assert.NoError(t, err)
	check.Equal(t, domain.BidNotRunning, res.Code)

	items, err := client.LRange(ctx, BidQueueKey(5), 0, -1).Result()
	assert.NoError(t, err)
	check.Equal(t, 2, len(items))
	check.True(t, decodeQueued(t, items[0]).BuyNow)
	check.Equal(t, domain.BidNotRunning, decodeQueued(t, items[1]).Reason)
}

func TestSubmitBid_IdempotencyMarkerExpires(t *testing.T) {
	mr, client := newTestClient(t)
	seedAuction(t, client, 1, openAuction("100", "5"))
	p := NewRedisBidProcessor(client, 30*time.Minute).WithClock(func() time.Time { return bidNow })

	_, err := p.SubmitBid(context.Background(), bid(1, 20, "105", "r-ttl"))
	assert.NoError(t, err)
	check.Equal(t, 30*time.Minute, mr.TTL(IdempotencyKey("r-ttl")))
}

func TestSubmitBid_LargeAmountsCompareExactly(t *testing.T) {
	_, client := newTestClient(t)
	seedAuction(t, client, 1, openAuction("999999999999.99999998", "0.00000001"))
	p := NewRedisBidProcessor(client, time.Minute).WithClock(func() time.Time { return bidNow })
	ctx := context.Background()

	res, err := p.SubmitBid(ctx, bid(1, 20, "999999999999.99999998", "r-eq"))
	assert.NoError(t, err)
	check.Equal(t, domain.BidLowPrice, res.Code)

	res, err = p.SubmitBid(ctx, bid(1, 20, "999999999999.99999999", "r-next"))
	assert.NoError(t, err)
	check.Equal(t, domain.BidOK, res.Code)
}

func TestParseBidReply(t *testing.T) {
	res, err := parseBidReply([]interface{}{"OK", "105"})
	assert.NoError(t, err)
	check.Equal(t, domain.BidOK, res.Code)

	_, err = parseBidReply([]interface{}{"WAT", "1"})
	check.Error(t, err)

	_, err = parseBidReply("OK")
	check.Error(t, err)
}
