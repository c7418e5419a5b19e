package services

import (
	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"
	"context"
	"time"
)

// OutboxRelay forwards committed settlement events to the domain event bus.
// Delivery is at-least-once; the event id doubles as the message id.
type OutboxRelay struct {
	outbox    domain.OutboxRepository
	publisher domain.DomainEventPublisher
	batchSize int
	log       logger.Logger
	now       func() time.Time
}

func NewOutboxRelay(outbox domain.OutboxRepository, publisher domain.DomainEventPublisher, batchSize int,
	log logger.Logger) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelay{
		outbox:    outbox,
		publisher: publisher,
		batchSize: batchSize,
		log:       log,
		now:       time.Now,
	}
}

// Relay publishes one batch of pending events and returns how many went out.
func (r *OutboxRelay) Relay(ctx context.Context) (int, error) {
	events, err := r.outbox.GetPending(ctx, r.batchSize)
	if err != nil {
		r.log.Error("Failed to load pending outbox events", "error", err)
		return 0, err
	}

	published := 0
	for _, event := range events {
		if err := r.publisher.PublishDomainEvent(ctx, event); err != nil {
			r.log.Error("Failed to publish domain event", "event_id", event.ID, "type", event.Type,
				"auction_id", event.AuctionID, "attempts", event.Attempts+1, "error", err)
			if markErr := r.outbox.MarkAttempted(ctx, event.ID); markErr != nil {
				r.log.Warn("Failed to record outbox attempt", "event_id", event.ID, "error", markErr)
			}
			continue
		}

		if err := r.outbox.MarkPublished(ctx, event.ID, r.now()); err != nil {
			// Re-published next run; the bus drops it as a duplicate.
			r.log.Warn("Failed to mark outbox event published", "event_id", event.ID, "error", err)
			continue
		}
		published++
		r.log.Info("Domain event published", "event_id", event.ID, "type", event.Type, "auction_id", event.AuctionID)
	}
	return published, nil
}
