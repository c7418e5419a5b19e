package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/peterldowns/testy/assert"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func seedAuction(t *testing.T, client *redis.Client, auctionID int64, fields map[string]interface{}) {
	t.Helper()
	assert.NoError(t, client.HSet(context.Background(), AuctionKey(auctionID), fields).Err())
}
