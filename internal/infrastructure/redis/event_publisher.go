package redis

import (
	"auction-engine/internal/domain"
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
)

// LiveEventPublisher fans live events out to every bidding-service instance.
type LiveEventPublisher struct {
	client  *redis.Client
	channel string
}

func NewLiveEventPublisher(client *redis.Client) *LiveEventPublisher {
	return &LiveEventPublisher{client: client, channel: LiveChannel}
}

func (p *LiveEventPublisher) PublishLive(ctx context.Context, event *domain.LiveEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}
