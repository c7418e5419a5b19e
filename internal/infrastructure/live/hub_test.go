package live

import (
	"auction-engine/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func drain(sub *Subscription) []Message {
	var out []Message
	for {
		select {
		case msg := <-sub.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func events(msgs []Message) []string {
	names := make([]string, 0, len(msgs))
	for _, m := range msgs {
		names = append(names, m.Event)
	}
	return names
}

func TestHub_SnapshotIsFirstMessage(t *testing.T) {
	hub := NewHub(8, logger.NewNop())
	sub := hub.SubscribeDetail(1, Snapshot{AuctionID: 1, CurrentPrice: "100", EndTs: 2000})
	hub.PublishPriceUpdate(1, "105", 0)

	msgs := drain(sub)
	check.Equal(t, []string{EventSnapshot, EventPrice}, events(msgs))

	var snap Snapshot
	assert.NoError(t, json.Unmarshal(msgs[0].Data, &snap))
	check.Equal(t, "100", snap.CurrentPrice)

	var price map[string]interface{}
	assert.NoError(t, json.Unmarshal(msgs[1].Data, &price))
	check.Equal(t, "105", price["currentPrice"])
	_, hasEnd := price["endTs"]
	check.False(t, hasEnd)
}

func TestHub_RoutesDetailAndListEvents(t *testing.T) {
	hub := NewHub(16, logger.NewNop())
	detail := hub.SubscribeDetail(1, Snapshot{AuctionID: 1})
	other := hub.SubscribeDetail(2, Snapshot{AuctionID: 2})
	list := hub.SubscribeList([]int64{1, 2, 1}, nil)
	at := time.Unix(1700000000, 0)

	hub.PublishPriceUpdate(1, "105", 2000)
	hub.PublishEndTs(1, 2060)
	hub.PublishBidAccepted(1, 20, "105", at)
	hub.PublishBuyNow(1, 21, "500", at)
	hub.PublishEnded(1)

	check.Equal(t,
		[]string{EventSnapshot, EventPrice, EventEndTs, EventBid, EventBuyNow, EventEnd},
		events(drain(detail)))
	check.Equal(t, []string{EventSnapshot}, events(drain(other)))
	// List subscribers only see prices, once per auction even if listed twice.
	check.Equal(t, []string{EventSnapshotMany, EventPrice}, events(drain(list)))
}

func TestHub_HeartbeatReachesEveryone(t *testing.T) {
	hub := NewHub(4, logger.NewNop())
	a := hub.SubscribeDetail(1, Snapshot{})
	b := hub.SubscribeList([]int64{2}, nil)
	hub.Heartbeat()

	check.Equal(t, []string{EventSnapshot, EventHeartbeat}, events(drain(a)))
	check.Equal(t, []string{EventSnapshotMany, EventHeartbeat}, events(drain(b)))
}

func TestHub_SlowSubscriberIsDropped(t *testing.T) {
	hub := NewHub(2, logger.NewNop())
	slow := hub.SubscribeDetail(1, Snapshot{})
	fast := hub.SubscribeDetail(1, Snapshot{})

	hub.PublishPriceUpdate(1, "101", 0)
	drain(fast)
	hub.PublishPriceUpdate(1, "102", 0)

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow subscriber should have been dropped")
	}
	select {
	case <-fast.Done():
		t.Fatal("fast subscriber should stay")
	default:
	}

	detail, _, subs := hub.Stats()
	check.Equal(t, 1, detail)
	check.Equal(t, 1, subs)
}

func TestHub_UnsubscribeCleansEverySet(t *testing.T) {
	hub := NewHub(4, logger.NewNop())
	list := hub.SubscribeList([]int64{1, 2, 3}, nil)
	detail := hub.SubscribeDetail(1, Snapshot{})

	hub.Unsubscribe(list)
	hub.Unsubscribe(list)

	detailAuctions, listAuctions, subs := hub.Stats()
	check.Equal(t, 1, detailAuctions)
	check.Equal(t, 0, listAuctions)
	check.Equal(t, 1, subs)

	hub.Unsubscribe(detail)
	detailAuctions, _, subs = hub.Stats()
	check.Equal(t, 0, detailAuctions)
	check.Equal(t, 0, subs)
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []Message
	fail error
}

func (s *recordingSink) Write(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return events(s.msgs)
}

func TestHub_ServeStopsOnTimeoutAndCleansUp(t *testing.T) {
	hub := NewHub(4, logger.NewNop())
	sub := hub.SubscribeDetail(1, Snapshot{})
	sink := &recordingSink{}

	err := hub.Serve(context.Background(), sub, sink, 20*time.Millisecond)
	assert.NoError(t, err)
	check.Equal(t, []string{EventSnapshot}, sink.names())

	_, _, subs := hub.Stats()
	check.Equal(t, 0, subs)
}

func TestHub_ServeStopsOnWriteError(t *testing.T) {
	hub := NewHub(4, logger.NewNop())
	sub := hub.SubscribeDetail(1, Snapshot{})
	broken := errors.New("broken pipe")

	err := hub.Serve(context.Background(), sub, &recordingSink{fail: broken}, time.Minute)
	check.True(t, errors.Is(err, broken))

	_, _, subs := hub.Stats()
	check.Equal(t, 0, subs)
}

func TestHub_ServeStopsWhenClientLeaves(t *testing.T) {
	hub := NewHub(4, logger.NewNop())
	sub := hub.SubscribeDetail(1, Snapshot{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- hub.Serve(ctx, sub, &recordingSink{}, time.Minute) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
	}
	_, _, subs := hub.Stats()
	check.Equal(t, 0, subs)
}
