package services

import (
	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const staleCheckTimeout = 500 * time.Millisecond

// LiveRelay hands events from the live bus to the local hub.
type LiveRelay struct {
	hub   domain.LiveBroadcaster
	cache domain.AuctionStateCache
	log   logger.Logger
}

func NewLiveRelay(hub domain.LiveBroadcaster, cache domain.AuctionStateCache, log logger.Logger) *LiveRelay {
	return &LiveRelay{hub: hub, cache: cache, log: log}
}

func (r *LiveRelay) Handle(event *domain.LiveEvent) error {
	switch event.Type {
	case domain.LivePrice:
		r.hub.PublishPriceUpdate(event.AuctionID, event.Price, event.EndTs)
	case domain.LiveEndTs:
		r.hub.PublishEndTs(event.AuctionID, event.EndTs)
	case domain.LiveEnd:
		r.hub.PublishEnded(event.AuctionID)
	case domain.LiveBid:
		if r.outbid(event) {
			return nil
		}
		r.hub.PublishBidAccepted(event.AuctionID, event.BidderID, event.Amount, event.At)
	case domain.LiveBuyNow:
		r.hub.PublishBuyNow(event.AuctionID, event.BidderID, event.Amount, event.At)
	default:
		return fmt.Errorf("unknown live event type %q", event.Type)
	}
	return nil
}

// outbid reports whether a bid event is already stale: the auction ended or
// the cached price moved past it.
func (r *LiveRelay) outbid(event *domain.LiveEvent) bool {
	if r.cache == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), staleCheckTimeout)
	defer cancel()

	snap, err := r.cache.Snapshot(ctx, event.AuctionID)
	if err != nil {
		return false
	}
	if snap.IsEnd {
		return true
	}
	amount, err := decimal.NewFromString(event.Amount)
	if err != nil {
		return false
	}
	return snap.CurrentPrice.GreaterThan(amount)
}

func publishLive(ctx context.Context, pub domain.LivePublisher, log logger.Logger, event *domain.LiveEvent) {
	if pub == nil {
		return
	}
	if err := pub.PublishLive(ctx, event); err != nil {
		log.Warn("Failed to publish live event", "type", event.Type, "auction_id", event.AuctionID, "error", err)
	}
}
