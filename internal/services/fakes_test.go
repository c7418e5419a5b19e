package services

import (
	"auction-engine/internal/domain"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeAuctions closes auctions the way the store does: at most once, under a lock.
type fakeAuctions struct {
	mu       sync.Mutex
	auctions map[int64]*domain.Auction
	topBid   map[int64]*domain.Bid
	settled  map[int64]int
	gets     int
}

func newFakeAuctions(auctions ...*domain.Auction) *fakeAuctions {
	f := &fakeAuctions{
		auctions: make(map[int64]*domain.Auction),
		topBid:   make(map[int64]*domain.Bid),
		settled:  make(map[int64]int),
	}
	for _, a := range auctions {
		f.auctions[a.ID] = a
	}
	return f
}

func openAuction(id int64, endAt time.Time) *domain.Auction {
	return &domain.Auction{
		ID:           id,
		OwnerID:      7,
		StartAt:      endAt.Add(-24 * time.Hour),
		EndAt:        endAt,
		Status:       domain.AuctionOpen,
		CurrentPrice: decimal.NewFromInt(100),
		BidUnit:      decimal.NewFromInt(5),
	}
}

func (f *fakeAuctions) GetAuction(_ context.Context, auctionID int64) (*domain.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	a, ok := f.auctions[auctionID]
	if !ok {
		return nil, domain.ErrAuctionNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAuctions) FindOpenEndingBefore(_ context.Context, horizon time.Time) ([]domain.DeadlineEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DeadlineEntry
	for _, a := range f.auctions {
		if a.Status == domain.AuctionOpen && !a.EndAt.After(horizon) {
			out = append(out, domain.DeadlineEntry{AuctionID: a.ID, EndAt: a.EndAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AuctionID < out[j].AuctionID })
	return out, nil
}

func (f *fakeAuctions) CloseIfDue(_ context.Context, auctionID int64, now time.Time) (*domain.CloseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.auctions[auctionID]
	if !ok {
		return nil, domain.ErrAuctionNotFound
	}
	switch a.Status {
	case domain.AuctionCanceled:
		return nil, domain.ErrAuctionCanceled
	case domain.AuctionClosed:
		return &domain.CloseResult{Outcome: domain.AlreadyFinal, AuctionID: auctionID, EndAt: a.EndAt}, nil
	}
	if now.Before(a.EndAt) {
		return &domain.CloseResult{Outcome: domain.NotDue, AuctionID: auctionID, EndAt: a.EndAt}, nil
	}

	a.Status = domain.AuctionClosed
	a.CloseReason = domain.CloseTimeUp
	f.settled[auctionID]++
	result := &domain.CloseResult{Outcome: domain.FinalizedUnsold, AuctionID: auctionID, EndAt: a.EndAt, ClosedAt: now}
	if bid, ok := f.topBid[auctionID]; ok {
		result.Outcome = domain.FinalizedSold
		result.WinnerID = bid.MemberID
		result.BidID = bid.ID
		result.Price = bid.Amount
	}
	return result, nil
}

type fakeIndex struct {
	mu      sync.Mutex
	entries map[int64]time.Time
	removed []int64
	rejects map[int64]bool
	stuck   map[int64]bool
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		entries: make(map[int64]time.Time),
		rejects: make(map[int64]bool),
		stuck:   make(map[int64]bool),
	}
}

func (f *fakeIndex) Upsert(_ context.Context, auctionID int64, endAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejects[auctionID] {
		return errors.New("index write refused")
	}
	f.entries[auctionID] = endAt
	return nil
}

// UpsertAll fails the whole batch when any entry is rejected.
func (f *fakeIndex) UpsertAll(_ context.Context, entries []domain.DeadlineEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range entries {
		if f.rejects[e.AuctionID] {
			return errors.New("index batch refused")
		}
	}
	for _, e := range entries {
		f.entries[e.AuctionID] = e.EndAt
	}
	return nil
}

func (f *fakeIndex) Remove(_ context.Context, auctionID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stuck[auctionID] {
		return errors.New("index remove refused")
	}
	delete(f.entries, auctionID)
	f.removed = append(f.removed, auctionID)
	return nil
}

func (f *fakeIndex) Due(_ context.Context, now time.Time, offset, limit int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []domain.DeadlineEntry
	for id, endAt := range f.entries {
		if !endAt.After(now) {
			due = append(due, domain.DeadlineEntry{AuctionID: id, EndAt: endAt})
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].EndAt.Equal(due[j].EndAt) {
			return due[i].AuctionID < due[j].AuctionID
		}
		return due[i].EndAt.Before(due[j].EndAt)
	})
	var ids []int64
	for i := offset; i < int64(len(due)) && int64(len(ids)) < limit; i++ {
		ids = append(ids, due[i].AuctionID)
	}
	return ids, nil
}

func (f *fakeIndex) PruneAfter(_ context.Context, horizon time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, endAt := range f.entries {
		if endAt.After(horizon) {
			delete(f.entries, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeIndex) has(auctionID int64) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	endAt, ok := f.entries[auctionID]
	return endAt, ok
}

type fakeCache struct {
	mu      sync.Mutex
	records map[int64]*domain.AuctionCacheRecord
	raised  []string
	ended   map[int64]time.Duration
	extends []int64
	loads   int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		records: make(map[int64]*domain.AuctionCacheRecord),
		ended:   make(map[int64]time.Duration),
	}
}

func (f *fakeCache) LoadIfAbsent(_ context.Context, record *domain.AuctionCacheRecord,
	endedTTL time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[record.AuctionID]; ok {
		return false, nil
	}
	cp := *record
	f.records[record.AuctionID] = &cp
	if record.IsEnd {
		f.ended[record.AuctionID] = endedTTL
	}
	f.loads++
	return true, nil
}

func (f *fakeCache) Snapshot(_ context.Context, auctionID int64) (*domain.AuctionCacheRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[auctionID]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeCache) RaisePrice(_ context.Context, auctionID int64, price decimal.Decimal) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raised = append(f.raised, price.String())
	return true, nil
}

func (f *fakeCache) SetPrice(_ context.Context, auctionID int64, price decimal.Decimal) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[auctionID]
	if !ok {
		return false, nil
	}
	rec.CurrentPrice = price
	return true, nil
}

func (f *fakeCache) MarkEnded(_ context.Context, auctionID int64, expireAfter time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended[auctionID] = expireAfter
	return nil
}

func (f *fakeCache) ExtendEnd(_ context.Context, auctionID int64, endTs int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extends = append(f.extends, endTs)
	return true, nil
}

type fakeLive struct {
	mu     sync.Mutex
	events []*domain.LiveEvent
}

func (f *fakeLive) PublishLive(_ context.Context, event *domain.LiveEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeLive) types() []domain.LiveEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.LiveEventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeQueue struct {
	mu      sync.Mutex
	main    map[string][]string
	retry   map[string][]string
	dead    map[string][]string
	pending map[int64]int64
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		main:    make(map[string][]string),
		retry:   make(map[string][]string),
		dead:    make(map[string][]string),
		pending: make(map[int64]int64),
	}
}

func (f *fakeQueue) Queues(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]struct{})
	for k := range f.main {
		seen[k] = struct{}{}
	}
	for k := range f.retry {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *fakeQueue) Pop(_ context.Context, key string) (string, bool, error) {
	return f.pop(f.main, key)
}

func (f *fakeQueue) PopRetry(_ context.Context, key string) (string, bool, error) {
	return f.pop(f.retry, key)
}

func (f *fakeQueue) pop(lists map[string][]string, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := lists[key]
	if len(list) == 0 {
		delete(lists, key)
		return "", false, nil
	}
	lists[key] = list[1:]
	return list[0], true, nil
}

func (f *fakeQueue) PushRetry(_ context.Context, key, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retry[key] = append(f.retry[key], payload)
	return nil
}

func (f *fakeQueue) PushDead(_ context.Context, key, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead[key] = append(f.dead[key], payload)
	return nil
}

func (f *fakeQueue) Pending(_ context.Context, auctionID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending[auctionID], nil
}
