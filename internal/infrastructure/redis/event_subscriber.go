package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"

	"github.com/go-redis/redis/v8"
)

type LiveEventSubscriber struct {
	client  *redis.Client
	channel string
	log     logger.Logger
}

func NewLiveEventSubscriber(client *redis.Client, log logger.Logger) *LiveEventSubscriber {
	return &LiveEventSubscriber{
		client:  client,
		channel: LiveChannel,
		log:     log,
	}
}

// SubscribeLive blocks, handing each decoded event to handler until ctx is done.
func (r *LiveEventSubscriber) SubscribeLive(ctx context.Context, handler domain.LiveHandler) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	ch := pubsub.Channel()

	r.log.Info("Subscribed to live events", "channel", r.channel)

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("live channel %s closed", r.channel)
			}
			event, err := parseLiveEvent(msg.Payload)
			if err != nil {
				r.log.Error("Failed to parse live event", "payload", msg.Payload, "error", err)
				continue
			}

			if err := handler(event); err != nil {
				r.log.Error("Failed to handle live event", "type", event.Type, "auction_id", event.AuctionID, "error", err)
			}

		case <-ctx.Done():
			r.log.Info("Live event subscriber stopped")
			return ctx.Err()
		}
	}
}

func parseLiveEvent(payload string) (*domain.LiveEvent, error) {
	var event domain.LiveEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, err
	}
	if event.AuctionID <= 0 || event.Type == "" {
		return nil, fmt.Errorf("incomplete live event: %s", payload)
	}
	return &event, nil
}
