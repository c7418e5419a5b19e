package redis

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	DeadlinesKey    = "AUCTION:DEADLINES"
	LiveChannel     = "auction:live"
	bidQueueSuffix  = ":bidq"
	bidQueuePattern = "auction:*:bidq"
	retrySuffix     = ":retry"
	deadSuffix      = ":dead"
)

func AuctionKey(auctionID int64) string {
	return "auction:" + strconv.FormatInt(auctionID, 10)
}

func BidQueueKey(auctionID int64) string {
	return AuctionKey(auctionID) + bidQueueSuffix
}

func IdempotencyKey(requestID string) string {
	return "idem:" + requestID
}

// AuctionIDFromQueueKey parses "auction:{id}:bidq".
func AuctionIDFromQueueKey(key string) (int64, error) {
	if !strings.HasPrefix(key, "auction:") || !strings.HasSuffix(key, bidQueueSuffix) {
		return 0, fmt.Errorf("not a bid queue key: %q", key)
	}
	id := strings.TrimSuffix(strings.TrimPrefix(key, "auction:"), bidQueueSuffix)
	return strconv.ParseInt(id, 10, 64)
}
