package services

import (
	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type BidUnitResolver interface {
	UnitFor(price decimal.Decimal) decimal.Decimal
}

// AuctionCacheService fills the state cache from the durable store on demand.
type AuctionCacheService struct {
	auctions domain.AuctionRepository
	cache    domain.AuctionStateCache
	units    BidUnitResolver
	endedTTL time.Duration
	log      logger.Logger
}

func NewAuctionCacheService(auctions domain.AuctionRepository, cache domain.AuctionStateCache,
	units BidUnitResolver, endedTTL time.Duration, log logger.Logger) *AuctionCacheService {
	return &AuctionCacheService{
		auctions: auctions,
		cache:    cache,
		units:    units,
		endedTTL: endedTTL,
		log:      log,
	}
}

// EnsureLoaded makes sure auction:{id} holds a complete record. It never
// overwrites a price that is already cached.
func (s *AuctionCacheService) EnsureLoaded(ctx context.Context, auctionID int64) error {
	_, err := s.load(ctx, auctionID)
	return err
}

// Snapshot returns the cached state, loading it first when absent.
func (s *AuctionCacheService) Snapshot(ctx context.Context, auctionID int64) (*domain.AuctionCacheRecord, error) {
	return s.load(ctx, auctionID)
}

// ResyncPrice puts the durable price back into the cache. It undoes a raise
// made by the bid script for an event the store never applied.
func (s *AuctionCacheService) ResyncPrice(ctx context.Context, auctionID int64) error {
	auction, err := s.auctions.GetAuction(ctx, auctionID)
	if errors.Is(err, domain.ErrAuctionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	set, err := s.cache.SetPrice(ctx, auctionID, auction.CurrentPrice)
	if err != nil {
		return fmt.Errorf("resync cached price of auction %d: %w", auctionID, err)
	}
	if set {
		s.log.Info("Cached price resynced from store", "auction_id", auctionID, "price", auction.CurrentPrice.String())
	}
	return nil
}

func (s *AuctionCacheService) load(ctx context.Context, auctionID int64) (*domain.AuctionCacheRecord, error) {
	rec, err := s.cache.Snapshot(ctx, auctionID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, domain.ErrCacheMiss) {
		return nil, fmt.Errorf("read cached auction %d: %w", auctionID, err)
	}

	auction, err := s.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	rec = domain.CacheRecordFromAuction(auction)
	if !rec.BidUnit.IsPositive() && s.units != nil {
		rec.BidUnit = s.units.UnitFor(rec.CurrentPrice)
	}

	loaded, err := s.cache.LoadIfAbsent(ctx, rec, s.endedTTL)
	if err != nil {
		return nil, err
	}
	if loaded {
		s.log.Debug("Auction loaded into cache", "auction_id", auctionID, "is_end", rec.IsEnd)
		return rec, nil
	}
	// Someone else loaded it first; their copy may already carry newer bids.
	return s.cache.Snapshot(ctx, auctionID)
}
