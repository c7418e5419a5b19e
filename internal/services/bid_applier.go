package services

import (
	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// BidEventApplier persists one queued bid event and then updates the cache,
// deadline index and live subscribers.
type BidEventApplier struct {
	bids     domain.BidRepository
	cache    domain.AuctionStateCache
	index    domain.DeadlineIndex
	live     domain.LivePublisher
	policy   domain.ExtensionPolicy
	endedTTL time.Duration
	log      logger.Logger
	now      func() time.Time
}

func NewBidEventApplier(bids domain.BidRepository, cache domain.AuctionStateCache, index domain.DeadlineIndex,
	live domain.LivePublisher, policy domain.ExtensionPolicy, endedTTL time.Duration, log logger.Logger) *BidEventApplier {
	return &BidEventApplier{
		bids:     bids,
		cache:    cache,
		index:    index,
		live:     live,
		policy:   policy,
		endedTTL: endedTTL,
		log:      log,
		now:      time.Now,
	}
}

func (a *BidEventApplier) Apply(ctx context.Context, payload string) error {
	event, err := decodeBidEvent(payload)
	if err != nil {
		return domain.NewPermanentError("decode bid event", err)
	}

	applied, err := a.bids.ApplyBidEvent(ctx, event, a.policy, a.now())
	if err != nil {
		if errors.Is(err, domain.ErrAuctionNotFound) || errors.Is(err, domain.ErrMalformedEvent) {
			return domain.NewPermanentError("apply bid event", err)
		}
		return domain.NewRetryableError("apply bid event", err)
	}

	if applied.Duplicate {
		a.log.Debug("Bid event already applied", "event_id", event.EventID, "auction_id", event.AuctionID)
		return nil
	}
	if applied.Bid.Status != domain.BidValid {
		a.log.Debug("Rejected bid recorded", "event_id", event.EventID, "auction_id", event.AuctionID, "reason", applied.Bid.ReasonCode)
		return nil
	}

	a.afterCommit(ctx, applied)
	return nil
}

// afterCommit failures are logged only; the reconciler and the next bid heal them.
func (a *BidEventApplier) afterCommit(ctx context.Context, applied *domain.AppliedBid) {
	auction, bid := applied.Auction, applied.Bid
	at := bid.CreatedAt

	if _, err := a.cache.RaisePrice(ctx, auction.ID, auction.CurrentPrice); err != nil {
		a.log.Warn("Failed to raise cached price", "auction_id", auction.ID, "error", err)
	}

	if applied.Closed {
		if err := a.cache.MarkEnded(ctx, auction.ID, a.endedTTL); err != nil {
			a.log.Warn("Failed to mark cached auction ended", "auction_id", auction.ID, "error", err)
		}
		if err := a.index.Remove(ctx, auction.ID); err != nil {
			a.log.Warn("Failed to remove deadline entry", "auction_id", auction.ID, "error", err)
		}
		publishLive(ctx, a.live, a.log, &domain.LiveEvent{Type: domain.LivePrice, AuctionID: auction.ID, Price: auction.CurrentPrice.String(), At: at})
		publishLive(ctx, a.live, a.log, &domain.LiveEvent{Type: domain.LiveBuyNow, AuctionID: auction.ID, BidderID: bid.MemberID, Amount: bid.Amount.String(), At: at})
		publishLive(ctx, a.live, a.log, &domain.LiveEvent{Type: domain.LiveEnd, AuctionID: auction.ID, At: at})
		a.log.Info("Auction closed by buy-now", "auction_id", auction.ID, "winner_id", bid.MemberID, "price", bid.Amount.String())
		return
	}

	endTs := auction.EndAt.Unix()
	if applied.Extended {
		if _, err := a.cache.ExtendEnd(ctx, auction.ID, endTs); err != nil {
			a.log.Warn("Failed to extend cached end time", "auction_id", auction.ID, "error", err)
		}
		publishLive(ctx, a.live, a.log, &domain.LiveEvent{Type: domain.LiveEndTs, AuctionID: auction.ID, EndTs: endTs, At: at})
		a.log.Info("Auction end extended", "auction_id", auction.ID, "end_at", auction.EndAt)
	}
	if err := a.index.Upsert(ctx, auction.ID, auction.EndAt); err != nil {
		a.log.Warn("Failed to upsert deadline entry", "auction_id", auction.ID, "error", err)
	}

	publishLive(ctx, a.live, a.log, &domain.LiveEvent{Type: domain.LivePrice, AuctionID: auction.ID, Price: auction.CurrentPrice.String(), EndTs: endTs, At: at})
	publishLive(ctx, a.live, a.log, &domain.LiveEvent{Type: domain.LiveBid, AuctionID: auction.ID, BidderID: bid.MemberID, Amount: bid.Amount.String(), At: at})
}

func decodeBidEvent(payload string) (*domain.BidOutcomeEvent, error) {
	var event domain.BidOutcomeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	switch {
	case event.Event != domain.BidEventName:
		return nil, fmt.Errorf("%w: event %q", domain.ErrMalformedEvent, event.Event)
	case event.EventID == "":
		return nil, fmt.Errorf("%w: missing eventId", domain.ErrMalformedEvent)
	case event.AuctionID <= 0:
		return nil, fmt.Errorf("%w: auctionId %d", domain.ErrMalformedEvent, event.AuctionID)
	case event.Intended != domain.IntentAccept && event.Intended != domain.IntentReject:
		return nil, fmt.Errorf("%w: intended %q", domain.ErrMalformedEvent, event.Intended)
	}
	return &event, nil
}
