package services

import (
	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"
	"context"
	"encoding/json"
	"time"
)

// Caps one queue's share of a poll so a hot auction cannot starve the rest.
const maxDrainPerQueue = 1000

type BidEventHandler interface {
	Apply(ctx context.Context, payload string) error
}

type PriceResyncer interface {
	ResyncPrice(ctx context.Context, auctionID int64) error
}

// BidConsumer drains auction:{id}:bidq lists into the durable store.
type BidConsumer struct {
	queue      domain.BidQueue
	handler    BidEventHandler
	resync     PriceResyncer
	interval   time.Duration
	retryBatch int
	log        logger.Logger
}

func NewBidConsumer(queue domain.BidQueue, handler BidEventHandler, resync PriceResyncer,
	interval time.Duration, retryBatch int, log logger.Logger) *BidConsumer {
	return &BidConsumer{
		queue:      queue,
		handler:    handler,
		resync:     resync,
		interval:   interval,
		retryBatch: retryBatch,
		log:        log,
	}
}

// Run polls until ctx is done. Each poll starts interval after the previous one finished.
func (c *BidConsumer) Run(ctx context.Context) error {
	c.log.Info("Starting bid consumer", "interval", c.interval.String())

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("Bid consumer stopped")
			return ctx.Err()
		case <-timer.C:
		}

		if n := c.Poll(ctx); n > 0 {
			c.log.Debug("Bid events processed", "count", n)
		}
		timer.Reset(c.interval)
	}
}

// Poll drains every bid queue once and returns how many events were handled.
func (c *BidConsumer) Poll(ctx context.Context) int {
	keys, err := c.queue.Queues(ctx)
	if err != nil {
		c.log.Error("Failed to list bid queues", "error", err)
		return 0
	}

	total := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		total += c.drain(ctx, key)
	}
	return total
}

func (c *BidConsumer) drain(ctx context.Context, key string) int {
	handled := 0

	// Earlier failures first. One that fails again waits for the next poll.
	for i := 0; i < c.retryBatch; i++ {
		payload, ok, err := c.queue.PopRetry(ctx, key)
		if err != nil {
			c.log.Error("Failed to pop retry queue", "queue", key, "error", err)
			break
		}
		if !ok {
			break
		}
		handled++
		if c.handle(ctx, key, payload) {
			break
		}
	}

	for i := 0; i < maxDrainPerQueue && ctx.Err() == nil; i++ {
		payload, ok, err := c.queue.Pop(ctx, key)
		if err != nil {
			c.log.Error("Failed to pop bid queue", "queue", key, "error", err)
			break
		}
		if !ok {
			break
		}
		c.handle(ctx, key, payload)
		handled++
	}
	return handled
}

// handle applies one event and reports whether it was sent back to the retry list.
func (c *BidConsumer) handle(ctx context.Context, key, payload string) bool {
	err := c.handler.Apply(ctx, payload)
	if err == nil {
		return false
	}

	if domain.IsRetriable(err) {
		c.log.Warn("Bid event failed, scheduling retry", "queue", key, "error", err)
		if pushErr := c.queue.PushRetry(ctx, key, payload); pushErr != nil {
			c.log.Error("Failed to push retry", "queue", key, "payload", payload, "error", pushErr)
		}
		return true
	}

	c.log.Error("Bid event failed permanently, dead-lettering", "queue", key, "payload", payload, "error", err)
	if pushErr := c.queue.PushDead(ctx, key, payload); pushErr != nil {
		c.log.Error("Failed to push dead letter", "queue", key, "payload", payload, "error", pushErr)
	}
	c.resyncPrice(ctx, payload)
	return false
}

// resyncPrice drops whatever the bid script added to the cached price for an
// event that will never reach the store.
func (c *BidConsumer) resyncPrice(ctx context.Context, payload string) {
	if c.resync == nil {
		return
	}
	var ref struct {
		AuctionID int64 `json:"auctionId"`
	}
	if err := json.Unmarshal([]byte(payload), &ref); err != nil || ref.AuctionID <= 0 {
		return
	}
	if err := c.resync.ResyncPrice(ctx, ref.AuctionID); err != nil {
		c.log.Warn("Failed to resync cached price", "auction_id", ref.AuctionID, "error", err)
	}
}
