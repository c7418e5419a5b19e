package services

import (
	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

type finalizeFixture struct {
	auctions *fakeAuctions
	queue    *fakeQueue
	cache    *fakeCache
	index    *fakeIndex
	live     *fakeLive
	svc      *FinalizeService
}

func newFinalizeFixture(auctions ...*domain.Auction) *finalizeFixture {
	f := &finalizeFixture{
		auctions: newFakeAuctions(auctions...),
		queue:    newFakeQueue(),
		cache:    newFakeCache(),
		index:    newFakeIndex(),
		live:     &fakeLive{},
	}
	for _, a := range auctions {
		f.index.entries[a.ID] = a.EndAt
	}
	f.svc = NewFinalizeService(f.auctions, f.queue, f.cache, f.index, f.live, 30*time.Second, time.Hour, logger.NewNop())
	return f
}

func TestFinalizeIfDue_SoldExactlyOnce(t *testing.T) {
	f := newFinalizeFixture(openAuction(1, testNow.Add(-time.Minute)))
	f.auctions.topBid[1] = &domain.Bid{ID: 10, MemberID: 20, Amount: decimal.NewFromInt(105)}
	ctx := context.Background()

	result, err := f.svc.FinalizeIfDue(ctx, 1, testNow)
	assert.NoError(t, err)
	check.Equal(t, domain.FinalizedSold, result.Outcome)
	check.Equal(t, int64(20), result.WinnerID)

	result, err = f.svc.FinalizeIfDue(ctx, 1, testNow.Add(time.Second))
	assert.NoError(t, err)
	check.Equal(t, domain.AlreadyFinal, result.Outcome)

	check.Equal(t, 1, f.auctions.settled[1])
	check.Equal(t, time.Hour, f.cache.ended[1])
	_, indexed := f.index.has(1)
	check.False(t, indexed)
	check.Equal(t, []domain.LiveEventType{domain.LiveEnd}, f.live.types())
}

func TestFinalizeIfDue_ConcurrentCallsSettleOnce(t *testing.T) {
	f := newFinalizeFixture(openAuction(1, testNow.Add(-time.Minute)))

	var mu sync.Mutex
	finalized := 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.svc.FinalizeIfDue(context.Background(), 1, testNow)
			if err == nil && result.Outcome.Finalized() {
				mu.Lock()
				finalized++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	check.Equal(t, 1, finalized)
	check.Equal(t, 1, f.auctions.settled[1])
}

func TestFinalizeIfDue_UnsoldWithoutBids(t *testing.T) {
	f := newFinalizeFixture(openAuction(2, testNow.Add(-time.Second)))

	result, err := f.svc.FinalizeIfDue(context.Background(), 2, testNow)
	assert.NoError(t, err)
	check.Equal(t, domain.FinalizedUnsold, result.Outcome)
	check.Equal(t, int64(0), result.WinnerID)
}

func TestFinalizeIfDue_ExtendedAuctionIsReindexed(t *testing.T) {
	a := openAuction(3, testNow.Add(-time.Second))
	f := newFinalizeFixture(a)
	// A late bid moved the deadline after the index entry was written.
	f.auctions.auctions[3].EndAt = testNow.Add(time.Minute)

	result, err := f.svc.FinalizeIfDue(context.Background(), 3, testNow)
	assert.NoError(t, err)
	check.Equal(t, domain.NotDue, result.Outcome)

	endAt, ok := f.index.has(3)
	check.True(t, ok)
	check.True(t, endAt.Equal(testNow.Add(time.Minute)))
	check.Equal(t, 0, f.auctions.settled[3])
}

func TestFinalizeIfDue_DefersWhileBidsQueued(t *testing.T) {
	endAt := testNow.Add(-5 * time.Second)
	f := newFinalizeFixture(openAuction(4, endAt))
	f.queue.pending[4] = 2
	ctx := context.Background()

	result, err := f.svc.FinalizeIfDue(ctx, 4, testNow)
	assert.NoError(t, err)
	check.Equal(t, domain.Deferred, result.Outcome)
	check.Equal(t, 0, f.auctions.settled[4])

	// Past the defer window the close goes ahead regardless.
	result, err = f.svc.FinalizeIfDue(ctx, 4, endAt.Add(31*time.Second))
	assert.NoError(t, err)
	check.Equal(t, domain.FinalizedUnsold, result.Outcome)
	check.Equal(t, 1, f.auctions.settled[4])
}

func TestFinalizeIfDue_StoreErrors(t *testing.T) {
	canceled := openAuction(5, testNow.Add(-time.Minute))
	canceled.Status = domain.AuctionCanceled
	f := newFinalizeFixture(canceled)

	_, err := f.svc.FinalizeIfDue(context.Background(), 5, testNow)
	check.True(t, err == domain.ErrAuctionCanceled)

	_, err = f.svc.FinalizeIfDue(context.Background(), 404, testNow)
	check.True(t, err == domain.ErrAuctionNotFound)
}

func TestFinalizeIfDue_ReportsStaleIndexEntry(t *testing.T) {
	f := newFinalizeFixture(openAuction(1, testNow.Add(-time.Minute)))
	f.index.stuck[1] = true
	ctx := context.Background()

	result, err := f.svc.FinalizeIfDue(ctx, 1, testNow)
	assert.NoError(t, err)
	check.Equal(t, domain.FinalizedUnsold, result.Outcome)
	check.True(t, result.IndexStale)

	result, err = f.svc.FinalizeIfDue(ctx, 1, testNow)
	assert.NoError(t, err)
	check.Equal(t, domain.AlreadyFinal, result.Outcome)
	check.True(t, result.IndexStale)

	f.index.stuck[1] = false
	result, err = f.svc.FinalizeIfDue(ctx, 1, testNow)
	assert.NoError(t, err)
	check.False(t, result.IndexStale)
	_, indexed := f.index.has(1)
	check.False(t, indexed)
}
