package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// BidCode is the outcome of one atomic bid attempt.
type BidCode string

const (
	BidOK         BidCode = "OK"
	BidDuplicate  BidCode = "DUPLICATE"
	BidNotRunning BidCode = "NOT_RUNNING"
	BidLowPrice   BidCode = "LOW_PRICE"
	BidMissing    BidCode = "MISSING"
	BidSelfBid    BidCode = "SELF_BID"
)

func (c BidCode) Accepted() bool {
	return c == BidOK
}

type BidIntent string

const (
	IntentAccept BidIntent = "ACCEPT"
	IntentReject BidIntent = "REJECT"
)

type BidRequest struct {
	AuctionID int64
	BidderID  int64
	Amount    decimal.Decimal
	RequestID string
}

type BidResult struct {
	Code BidCode
	// CurrentPriceAfter is empty when the auction record was missing.
	CurrentPriceAfter string
}

const BidEventName = "BID"

// BidOutcomeEvent is the payload appended to auction:{id}:bidq.
// DUPLICATE is never enqueued.
type BidOutcomeEvent struct {
	Event     string    `json:"event"`
	Code      BidCode   `json:"code"`
	Intended  BidIntent `json:"intended"`
	Reason    BidCode   `json:"reason,omitempty"`
	AuctionID int64     `json:"auctionId"`
	MemberID  int64     `json:"memberId"`
	Amount    string    `json:"amount"`
	EventID   string    `json:"eventId"`
	Ts        int64     `json:"ts"`
	BuyNow    bool      `json:"buyNow"`
}

// NewBidOutcomeEvent builds the queue payload for the given outcome code.
func NewBidOutcomeEvent(req BidRequest, code BidCode, buyNow bool, now time.Time) BidOutcomeEvent {
	ev := BidOutcomeEvent{
		Event:     BidEventName,
		Code:      code,
		Intended:  IntentAccept,
		AuctionID: req.AuctionID,
		MemberID:  req.BidderID,
		Amount:    req.Amount.String(),
		EventID:   req.RequestID,
		Ts:        now.Unix(),
		BuyNow:    buyNow,
	}
	if code != BidOK {
		// A rejected attempt must not shadow a later accepted retry of the same request.
		ev.Intended = IntentReject
		ev.Reason = code
		ev.EventID = req.RequestID + "#" + string(code)
	}
	return ev
}

func (e BidOutcomeEvent) Marshal() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (e BidOutcomeEvent) AmountDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(e.Amount)
}

// AppliedBid is what the store did with one bid event.
type AppliedBid struct {
	Duplicate bool
	Bid       *Bid
	Auction   *Auction
	// Extended is set when the end time moved because of this bid.
	Extended bool
	// Closed is set when a buy-now bid closed the auction.
	Closed bool
}

type LiveEventType string

const (
	LivePrice  LiveEventType = "price"
	LiveEndTs  LiveEventType = "end_ts"
	LiveEnd    LiveEventType = "end"
	LiveBid    LiveEventType = "bid"
	LiveBuyNow LiveEventType = "buy_now"
)

// LiveEvent travels over the live bus between producers and hub instances.
type LiveEvent struct {
	Type      LiveEventType `json:"type"`
	AuctionID int64         `json:"auctionId"`
	Price     string        `json:"price,omitempty"`
	EndTs     int64         `json:"endTs,omitempty"`
	BidderID  int64         `json:"bidderId,omitempty"`
	Amount    string        `json:"amount,omitempty"`
	At        time.Time     `json:"at"`
}

type DomainEventType string

const (
	EventAuctionSold   DomainEventType = "AUCTION_SOLD"
	EventAuctionUnsold DomainEventType = "AUCTION_UNSOLD"
)

// AuctionSettled is the payload of sold/unsold domain events.
type AuctionSettled struct {
	AuctionID   int64       `json:"auctionId"`
	Reason      CloseReason `json:"reason"`
	WinnerID    int64       `json:"winnerId,omitempty"`
	WinnerBidID int64       `json:"winnerBidId,omitempty"`
	FinalPrice  string      `json:"finalPrice,omitempty"`
	ClosedAt    time.Time   `json:"closedAt"`
}

// OutboxEvent is a domain event persisted with the transaction that caused it.
type OutboxEvent struct {
	ID          string
	AuctionID   int64
	Type        DomainEventType
	Payload     []byte
	Status      OutboxStatus
	Attempts    int
	CreatedAt   time.Time
	PublishedAt *time.Time
}

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxPublished OutboxStatus = "published"
)
