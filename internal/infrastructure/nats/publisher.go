package nats

import (
	"auction-engine/internal/domain"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DomainEventPublisher pushes settled-auction events to a JetStream stream for
// settlement and notification consumers.
type DomainEventPublisher struct {
	js            jetstream.JetStream
	subjectPrefix string
}

func NewDomainEventPublisher(ctx context.Context, conn *nats.Conn, stream, subjectPrefix string) (*DomainEventPublisher, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        stream,
		Description: "Settled auction events",
		Subjects:    []string{subjectPrefix + ".>"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Duplicates:  10 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", stream, err)
	}

	return &DomainEventPublisher{js: js, subjectPrefix: subjectPrefix}, nil
}

// Subject maps an event type to its subject, e.g. auction.events.sold.
func (p *DomainEventPublisher) Subject(eventType domain.DomainEventType) string {
	name := strings.ToLower(strings.TrimPrefix(string(eventType), "AUCTION_"))
	return p.subjectPrefix + "." + name
}

// PublishDomainEvent publishes with the outbox id as message id so JetStream
// drops a re-publish of the same row inside the duplicate window.
func (p *DomainEventPublisher) PublishDomainEvent(ctx context.Context, event *domain.OutboxEvent) error {
	_, err := p.js.Publish(ctx, p.Subject(event.Type), event.Payload, jetstream.WithMsgID(event.ID))
	if err != nil {
		return fmt.Errorf("publish %s for auction %d: %w", event.Type, event.AuctionID, err)
	}
	return nil
}
