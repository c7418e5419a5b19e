package services

import (
	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"
	"context"
	"time"
)

// FinalizeService closes one auction whose deadline passed and reconciles the
// cache, deadline index and live subscribers with the outcome.
type FinalizeService struct {
	auctions domain.AuctionRepository
	queue    domain.BidQueue
	cache    domain.AuctionStateCache
	index    domain.DeadlineIndex
	live     domain.LivePublisher
	maxDefer time.Duration
	endedTTL time.Duration
	log      logger.Logger
}

func NewFinalizeService(auctions domain.AuctionRepository, queue domain.BidQueue, cache domain.AuctionStateCache,
	index domain.DeadlineIndex, live domain.LivePublisher, maxDefer, endedTTL time.Duration,
	log logger.Logger) *FinalizeService {
	return &FinalizeService{
		auctions: auctions,
		queue:    queue,
		cache:    cache,
		index:    index,
		live:     live,
		maxDefer: maxDefer,
		endedTTL: endedTTL,
		log:      log,
	}
}

// FinalizeIfDue is safe to call repeatedly and concurrently for the same
// auction; only one call ever reports a Finalized outcome.
func (s *FinalizeService) FinalizeIfDue(ctx context.Context, auctionID int64, now time.Time) (*domain.CloseResult, error) {
	deferred, err := s.shouldDefer(ctx, auctionID, now)
	if err != nil {
		return nil, err
	}
	if deferred != nil {
		return deferred, nil
	}

	result, err := s.auctions.CloseIfDue(ctx, auctionID, now)
	if err != nil {
		return nil, err
	}

	switch {
	case result.Outcome == domain.NotDue:
		// Extended since it was indexed; move the entry to the new deadline.
		if err := s.index.Upsert(ctx, auctionID, result.EndAt); err != nil {
			s.log.Warn("Failed to re-index extended auction", "auction_id", auctionID, "error", err)
			result.IndexStale = true
		}
	case result.Outcome == domain.AlreadyFinal:
		if err := s.index.Remove(ctx, auctionID); err != nil {
			s.log.Warn("Failed to remove stale deadline entry", "auction_id", auctionID, "error", err)
			result.IndexStale = true
		}
	case result.Outcome.Finalized():
		s.afterClose(ctx, result)
	}
	return result, nil
}

// shouldDefer holds finalization while accepted bids are still queued, up to
// maxDefer past the deadline. A nil result means go ahead.
func (s *FinalizeService) shouldDefer(ctx context.Context, auctionID int64, now time.Time) (*domain.CloseResult, error) {
	if s.queue == nil || s.maxDefer <= 0 {
		return nil, nil
	}

	pending, err := s.queue.Pending(ctx, auctionID)
	if err != nil {
		s.log.Warn("Failed to check pending bids, finalizing anyway", "auction_id", auctionID, "error", err)
		return nil, nil
	}
	if pending == 0 {
		return nil, nil
	}

	auction, err := s.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if auction.Status != domain.AuctionOpen || !now.Before(auction.EndAt.Add(s.maxDefer)) {
		if auction.Status == domain.AuctionOpen {
			s.log.Warn("Finalizing with bids still queued", "auction_id", auctionID, "pending", pending)
		}
		return nil, nil
	}

	s.log.Debug("Finalize deferred, bids still queued", "auction_id", auctionID, "pending", pending)
	return &domain.CloseResult{Outcome: domain.Deferred, AuctionID: auctionID, EndAt: auction.EndAt}, nil
}

func (s *FinalizeService) afterClose(ctx context.Context, result *domain.CloseResult) {
	id := result.AuctionID

	if err := s.cache.MarkEnded(ctx, id, s.endedTTL); err != nil {
		s.log.Warn("Failed to mark cached auction ended", "auction_id", id, "error", err)
	}
	if err := s.index.Remove(ctx, id); err != nil {
		s.log.Warn("Failed to remove deadline entry", "auction_id", id, "error", err)
		result.IndexStale = true
	}
	publishLive(ctx, s.live, s.log, &domain.LiveEvent{Type: domain.LiveEnd, AuctionID: id, At: result.ClosedAt})

	s.log.Info("Auction finalized",
		"auction_id", id,
		"outcome", result.Outcome,
		"winner_id", result.WinnerID,
		"bid_id", result.BidID,
		"price", result.Price.String())
}
