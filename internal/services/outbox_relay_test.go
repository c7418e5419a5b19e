package services

import (
	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

type memoryOutbox struct {
	events    []*domain.OutboxEvent
	published []string
	attempted []string
}

func (o *memoryOutbox) GetPending(_ context.Context, limit int) ([]*domain.OutboxEvent, error) {
	var out []*domain.OutboxEvent
	for _, e := range o.events {
		if e.Status == domain.OutboxPending && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (o *memoryOutbox) MarkPublished(_ context.Context, eventID string, at time.Time) error {
	for _, e := range o.events {
		if e.ID == eventID {
			e.Status = domain.OutboxPublished
			e.PublishedAt = &at
		}
	}
	o.published = append(o.published, eventID)
	return nil
}

func (o *memoryOutbox) MarkAttempted(_ context.Context, eventID string) error {
	o.attempted = append(o.attempted, eventID)
	return nil
}

type flakyPublisher struct {
	fail map[string]bool
	sent []string
}

func (p *flakyPublisher) PublishDomainEvent(_ context.Context, event *domain.OutboxEvent) error {
	if p.fail[event.ID] {
		return errors.New("nats: timeout")
	}
	p.sent = append(p.sent, event.ID)
	return nil
}

func TestOutboxRelay_Relay(t *testing.T) {
	outbox := &memoryOutbox{events: []*domain.OutboxEvent{
		{ID: "evt_1", AuctionID: 1, Type: domain.EventAuctionSold, Status: domain.OutboxPending},
		{ID: "evt_2", AuctionID: 2, Type: domain.EventAuctionUnsold, Status: domain.OutboxPending},
		{ID: "evt_3", AuctionID: 3, Type: domain.EventAuctionSold, Status: domain.OutboxPending},
	}}
	publisher := &flakyPublisher{fail: map[string]bool{"evt_2": true}}
	relay := NewOutboxRelay(outbox, publisher, 10, logger.NewNop())

	n, err := relay.Relay(context.Background())
	assert.NoError(t, err)
	check.Equal(t, 2, n)
	check.Equal(t, []string{"evt_1", "evt_3"}, outbox.published)
	check.Equal(t, []string{"evt_2"}, outbox.attempted)

	// Only the failed event is retried.
	publisher.fail = nil
	n, err = relay.Relay(context.Background())
	assert.NoError(t, err)
	check.Equal(t, 1, n)
	check.Equal(t, []string{"evt_1", "evt_3", "evt_2"}, publisher.sent)
}
