package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository interfaces
type AuctionRepository interface {
	GetAuction(ctx context.Context, auctionID int64) (*Auction, error)
	// FindOpenEndingBefore returns OPEN auctions whose end time is at or before horizon.
	FindOpenEndingBefore(ctx context.Context, horizon time.Time) ([]DeadlineEntry, error)
	// CloseIfDue performs the OPEN -> CLOSED transition at most once and records
	// the settlement outbox event in the same transaction.
	CloseIfDue(ctx context.Context, auctionID int64, now time.Time) (*CloseResult, error)
}

type ExtensionPolicy struct {
	Enabled   bool
	Threshold time.Duration
	ExtendBy  time.Duration
}

type BidRepository interface {
	// ApplyBidEvent persists one queue event. Replays of the same EventID are no-ops.
	ApplyBidEvent(ctx context.Context, event *BidOutcomeEvent, policy ExtensionPolicy, now time.Time) (*AppliedBid, error)
}

type OutboxRepository interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkPublished(ctx context.Context, eventID string, at time.Time) error
	MarkAttempted(ctx context.Context, eventID string) error
}

// Cache interfaces
type AuctionStateCache interface {
	// LoadIfAbsent writes the record only when no price is cached yet. An
	// ended record expires after endedTTL.
	LoadIfAbsent(ctx context.Context, record *AuctionCacheRecord, endedTTL time.Duration) (bool, error)
	Snapshot(ctx context.Context, auctionID int64) (*AuctionCacheRecord, error)
	// RaisePrice never lowers the cached price.
	RaisePrice(ctx context.Context, auctionID int64, price decimal.Decimal) (bool, error)
	// SetPrice overwrites the cached price, lower or higher. A missing record is left missing.
	SetPrice(ctx context.Context, auctionID int64, price decimal.Decimal) (bool, error)
	MarkEnded(ctx context.Context, auctionID int64, expireAfter time.Duration) error
	// ExtendEnd moves end_ts forward unless the record already ended.
	ExtendEnd(ctx context.Context, auctionID int64, endTs int64) (bool, error)
}

type BidProcessor interface {
	SubmitBid(ctx context.Context, req BidRequest) (*BidResult, error)
}

type BidQueue interface {
	Queues(ctx context.Context) ([]string, error)
	Pop(ctx context.Context, queueKey string) (string, bool, error)
	PopRetry(ctx context.Context, queueKey string) (string, bool, error)
	PushRetry(ctx context.Context, queueKey, payload string) error
	PushDead(ctx context.Context, queueKey, payload string) error
	// Pending counts events for the auction that have not been applied yet.
	Pending(ctx context.Context, auctionID int64) (int64, error)
}

type DeadlineIndex interface {
	Upsert(ctx context.Context, auctionID int64, endAt time.Time) error
	UpsertAll(ctx context.Context, entries []DeadlineEntry) error
	Remove(ctx context.Context, auctionID int64) error
	// Due lists ids with end time <= now, ordered by end time then id.
	Due(ctx context.Context, now time.Time, offset, limit int64) ([]int64, error)
	PruneAfter(ctx context.Context, horizon time.Time) (int64, error)
}

// Event interfaces
type LivePublisher interface {
	PublishLive(ctx context.Context, event *LiveEvent) error
}

type LiveSubscriber interface {
	SubscribeLive(ctx context.Context, handler LiveHandler) error
}

type LiveHandler func(event *LiveEvent) error

type DomainEventPublisher interface {
	PublishDomainEvent(ctx context.Context, event *OutboxEvent) error
}

// LiveBroadcaster fans events out to connected live subscribers.
type LiveBroadcaster interface {
	PublishPriceUpdate(auctionID int64, price string, endTs int64)
	PublishEndTs(auctionID int64, endTs int64)
	PublishEnded(auctionID int64)
	PublishBidAccepted(auctionID, bidderID int64, amount string, at time.Time)
	PublishBuyNow(auctionID, bidderID int64, amount string, at time.Time)
}

// Leader election interface
type LeaderElection interface {
	BecomeLeader(ctx context.Context, instanceID string) (bool, error)
	IsLeader(ctx context.Context, instanceID string) (bool, error)
	ReleaseLeadership(ctx context.Context, instanceID string) error
}
