package nats

import (
	"auction-engine/internal/domain"
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func runJetStream(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      server.RANDOM_PORT,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	assert.NoError(t, err)
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(srv.Shutdown)

	conn, err := nats.Connect(srv.ClientURL())
	assert.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn
}

func TestSubject(t *testing.T) {
	p := &DomainEventPublisher{subjectPrefix: "auction.events"}

	check.Equal(t, "auction.events.sold", p.Subject(domain.EventAuctionSold))
	check.Equal(t, "auction.events.unsold", p.Subject(domain.EventAuctionUnsold))
}

func TestPublishDomainEvent_DropsRepublishedRow(t *testing.T) {
	conn := runJetStream(t)
	ctx := context.Background()

	pub, err := NewDomainEventPublisher(ctx, conn, "AUCTION_EVENTS", "auction.events")
	assert.NoError(t, err)

	sold := &domain.OutboxEvent{ID: "evt-1", AuctionID: 1, Type: domain.EventAuctionSold, Payload: []byte(`{"auctionId":1}`)}
	unsold := &domain.OutboxEvent{ID: "evt-2", AuctionID: 2, Type: domain.EventAuctionUnsold, Payload: []byte(`{"auctionId":2}`)}

	assert.NoError(t, pub.PublishDomainEvent(ctx, sold))
	// Relay crashed before marking the row published and sends it again.
	assert.NoError(t, pub.PublishDomainEvent(ctx, sold))
	assert.NoError(t, pub.PublishDomainEvent(ctx, unsold))

	js, err := jetstream.New(conn)
	assert.NoError(t, err)
	stream, err := js.Stream(ctx, "AUCTION_EVENTS")
	assert.NoError(t, err)
	info, err := stream.Info(ctx)
	assert.NoError(t, err)
	check.Equal(t, uint64(2), info.State.Msgs)

	first, err := stream.GetMsg(ctx, 1)
	assert.NoError(t, err)
	check.Equal(t, "auction.events.sold", first.Subject)
	check.Equal(t, `{"auctionId":1}`, string(first.Data))

	second, err := stream.GetMsg(ctx, 2)
	assert.NoError(t, err)
	check.Equal(t, "auction.events.unsold", second.Subject)
}
