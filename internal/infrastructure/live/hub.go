package live

import (
	"auction-engine/pkg/logger"
	"auction-engine/pkg/utils"
	"context"
	"encoding/json"
	"sync"
	"time"
)

const (
	EventSnapshot     = "snapshot"
	EventSnapshotMany = "snapshot_many"
	EventPrice        = "price"
	EventEndTs        = "end_ts"
	EventEnd          = "end"
	EventBid          = "bid"
	EventBuyNow       = "buy_now"
	EventHeartbeat    = "heartbeat"
)

// Message is one named event with an already encoded JSON body.
type Message struct {
	Event string
	Data  json.RawMessage
}

// Sink delivers messages to one connected client.
type Sink interface {
	Write(msg Message) error
}

type Snapshot struct {
	AuctionID    int64  `json:"auctionId"`
	CurrentPrice string `json:"currentPrice"`
	EndTs        int64  `json:"endTs"`
	IsEnd        int    `json:"isEnd"`
}

type subscriptionKind int

const (
	kindDetail subscriptionKind = iota
	kindList
)

// Subscription is a single live connection registered with the hub.
type Subscription struct {
	id       string
	kind     subscriptionKind
	detailID int64
	send     chan Message
	done     chan struct{}
	once     sync.Once
}

func (s *Subscription) ID() string {
	return s.id
}

// Done is closed once the hub has dropped the subscription.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) offer(msg Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.done) })
}

// Hub keeps per-auction detail and list subscriber sets and fans events out.
// Publishing never blocks: a subscriber whose buffer is full is dropped.
type Hub struct {
	mu     sync.RWMutex
	detail map[int64]map[*Subscription]struct{}
	list   map[int64]map[*Subscription]struct{}
	joined map[*Subscription][]int64 // list subscription -> auction ids
	all    map[*Subscription]struct{}
	buffer int
	log    logger.Logger
	now    func() time.Time
}

func NewHub(buffer int, log logger.Logger) *Hub {
	if buffer < 2 {
		buffer = 2
	}
	return &Hub{
		detail: make(map[int64]map[*Subscription]struct{}),
		list:   make(map[int64]map[*Subscription]struct{}),
		joined: make(map[*Subscription][]int64),
		all:    make(map[*Subscription]struct{}),
		buffer: buffer,
		log:    log,
		now:    time.Now,
	}
}

// SubscribeDetail registers a detail subscription; the snapshot is its first message.
func (h *Hub) SubscribeDetail(auctionID int64, snapshot Snapshot) *Subscription {
	sub := h.newSubscription(kindDetail)
	sub.detailID = auctionID
	sub.offer(h.encode(EventSnapshot, snapshot))

	h.mu.Lock()
	addTo(h.detail, auctionID, sub)
	h.all[sub] = struct{}{}
	h.mu.Unlock()

	h.log.Debug("Detail subscription registered", "subscription_id", sub.id, "auction_id", auctionID)
	return sub
}

// SubscribeList registers one subscription across several auctions.
func (h *Hub) SubscribeList(auctionIDs []int64, snapshots []Snapshot) *Subscription {
	sub := h.newSubscription(kindList)
	sub.offer(h.encode(EventSnapshotMany, snapshots))

	ids := dedupe(auctionIDs)
	h.mu.Lock()
	for _, id := range ids {
		addTo(h.list, id, sub)
	}
	h.joined[sub] = ids
	h.all[sub] = struct{}{}
	h.mu.Unlock()

	h.log.Debug("List subscription registered", "subscription_id", sub.id, "auctions", len(ids))
	return sub
}

// Unsubscribe removes the subscription from every set it joined. Safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if _, ok := h.all[sub]; ok {
		delete(h.all, sub)
		switch sub.kind {
		case kindDetail:
			removeFrom(h.detail, sub.detailID, sub)
		case kindList:
			if ids, ok := h.joined[sub]; ok {
				for _, id := range ids {
					removeFrom(h.list, id, sub)
				}
				delete(h.joined, sub)
			} else {
				for id := range h.list {
					removeFrom(h.list, id, sub)
				}
			}
		}
	}
	h.mu.Unlock()

	sub.close()
}

func (h *Hub) PublishPriceUpdate(auctionID int64, price string, endTs int64) {
	payload := map[string]interface{}{"auctionId": auctionID, "currentPrice": price}
	if endTs > 0 {
		payload["endTs"] = endTs
	}
	msg := h.encode(EventPrice, payload)

	h.mu.RLock()
	targets := collect(h.list[auctionID], h.detail[auctionID])
	h.mu.RUnlock()

	h.deliver(targets, msg)
}

func (h *Hub) PublishEndTs(auctionID int64, endTs int64) {
	h.publishDetail(auctionID, h.encode(EventEndTs, map[string]interface{}{
		"auctionId": auctionID,
		"endTs":     endTs,
	}))
}

func (h *Hub) PublishEnded(auctionID int64) {
	h.publishDetail(auctionID, h.encode(EventEnd, map[string]interface{}{
		"auctionId": auctionID,
		"isEnd":     1,
	}))
}

func (h *Hub) PublishBidAccepted(auctionID, bidderID int64, amount string, at time.Time) {
	h.publishDetail(auctionID, h.encode(EventBid, bidPayload(auctionID, bidderID, amount, at)))
}

func (h *Hub) PublishBuyNow(auctionID, bidderID int64, amount string, at time.Time) {
	h.publishDetail(auctionID, h.encode(EventBuyNow, bidPayload(auctionID, bidderID, amount, at)))
}

// Heartbeat sends a keep-alive to every open subscription.
func (h *Hub) Heartbeat() {
	msg := h.encode(EventHeartbeat, map[string]interface{}{"ts": h.now().UnixMilli()})

	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.all))
	for sub := range h.all {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	h.deliver(targets, msg)
}

// Serve pumps queued messages into sink until the client goes away, the
// subscription is dropped or timeout elapses. The subscription is always removed on return.
func (h *Hub) Serve(ctx context.Context, sub *Subscription, sink Sink, timeout time.Duration) error {
	defer h.Unsubscribe(sub)

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case msg := <-sub.send:
			if err := sink.Write(msg); err != nil {
				h.log.Debug("Live write failed, dropping subscription", "subscription_id", sub.id, "error", err)
				return err
			}
		case <-sub.done:
			return nil
		case <-ctx.Done():
			return nil
		case <-expired:
			return nil
		}
	}
}

// Stats returns the number of auctions with detail subscribers, with list
// subscribers, and the number of open subscriptions.
func (h *Hub) Stats() (detailAuctions, listAuctions, subscriptions int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.detail), len(h.list), len(h.all)
}

func (h *Hub) publishDetail(auctionID int64, msg Message) {
	h.mu.RLock()
	targets := collect(h.detail[auctionID])
	h.mu.RUnlock()

	h.deliver(targets, msg)
}

func (h *Hub) deliver(targets []*Subscription, msg Message) {
	for _, sub := range targets {
		if !sub.offer(msg) {
			h.log.Warn("Live subscriber not keeping up, dropping", "subscription_id", sub.id, "event", msg.Event)
			h.Unsubscribe(sub)
		}
	}
}

func (h *Hub) newSubscription(kind subscriptionKind) *Subscription {
	return &Subscription{
		id:   utils.GenerateID("live"),
		kind: kind,
		send: make(chan Message, h.buffer),
		done: make(chan struct{}),
	}
}

func (h *Hub) encode(event string, payload interface{}) Message {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("Failed to encode live event", "event", event, "error", err)
		data = []byte("{}")
	}
	return Message{Event: event, Data: data}
}

func bidPayload(auctionID, bidderID int64, amount string, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"auctionId": auctionID,
		"bidderId":  bidderID,
		"amount":    amount,
		"time":      at.UTC().Format(time.RFC3339),
	}
}

func addTo(sets map[int64]map[*Subscription]struct{}, auctionID int64, sub *Subscription) {
	set, ok := sets[auctionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		sets[auctionID] = set
	}
	set[sub] = struct{}{}
}

func removeFrom(sets map[int64]map[*Subscription]struct{}, auctionID int64, sub *Subscription) {
	set, ok := sets[auctionID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(sets, auctionID)
	}
}

func collect(sets ...map[*Subscription]struct{}) []*Subscription {
	n := 0
	for _, s := range sets {
		n += len(s)
	}
	out := make([]*Subscription, 0, n)
	for _, s := range sets {
		for sub := range s {
			out = append(out, sub)
		}
	}
	return out
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
