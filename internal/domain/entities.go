package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AuctionStatus int

const (
	AuctionOpen AuctionStatus = iota + 1
	AuctionClosed
	AuctionCanceled
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionOpen:
		return "OPEN"
	case AuctionClosed:
		return "CLOSED"
	case AuctionCanceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// ParseAuctionStatus maps the stored column value back to a status.
func ParseAuctionStatus(s string) (AuctionStatus, error) {
	switch s {
	case "OPEN":
		return AuctionOpen, nil
	case "CLOSED":
		return AuctionClosed, nil
	case "CANCELED":
		return AuctionCanceled, nil
	}
	return 0, ErrUnknownStatus
}

type CloseReason string

const (
	CloseTimeUp CloseReason = "TIME_UP"
	CloseBuyNow CloseReason = "BUY_NOW"
)

// Auction is the durable record. CurrentPrice only ever grows while OPEN.
type Auction struct {
	ID            int64
	OwnerID       int64
	StartAt       time.Time
	EndAt         time.Time
	Status        AuctionStatus
	CurrentPrice  decimal.Decimal
	BidUnit       decimal.Decimal
	BuyNowFlag    bool
	BuyNowPrice   decimal.NullDecimal
	ExtensionFlag bool
	WinnerID      int64
	WinnerBidID   int64
	CloseReason   CloseReason
	ClosedAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsEnded reports whether bidding is over from the store's point of view.
func (a *Auction) IsEnded() bool {
	return a.Status != AuctionOpen
}

// AuctionCacheRecord mirrors the auction:{id} hash.
// Once IsEnd is true it never goes back to false.
type AuctionCacheRecord struct {
	AuctionID    int64
	CurrentPrice decimal.Decimal
	BidUnit      decimal.Decimal
	StartTs      int64
	EndTs        int64
	OwnerID      int64
	IsEnd        bool
	BuyNowFlag   bool
	BuyNowPrice  decimal.NullDecimal
}

// CacheRecordFromAuction builds the initial cache state for an auction row.
func CacheRecordFromAuction(a *Auction) *AuctionCacheRecord {
	return &AuctionCacheRecord{
		AuctionID:    a.ID,
		CurrentPrice: a.CurrentPrice,
		BidUnit:      a.BidUnit,
		StartTs:      a.StartAt.Unix(),
		EndTs:        a.EndAt.Unix(),
		OwnerID:      a.OwnerID,
		IsEnd:        a.IsEnded(),
		BuyNowFlag:   a.BuyNowFlag,
		BuyNowPrice:  a.BuyNowPrice,
	}
}

type BidStatus string

const (
	BidValid    BidStatus = "VALID"
	BidRejected BidStatus = "REJECTED"
)

type Bid struct {
	ID         int64
	AuctionID  int64
	MemberID   int64
	Amount     decimal.Decimal
	Status     BidStatus
	ReasonCode BidCode
	EventID    string
	CreatedAt  time.Time
}

// DeadlineEntry is one member of the deadline index.
type DeadlineEntry struct {
	AuctionID int64
	EndAt     time.Time
}

func (e DeadlineEntry) Score() float64 {
	return float64(e.EndAt.UnixMilli())
}

type FinalizeOutcome string

const (
	FinalizedSold   FinalizeOutcome = "FINALIZED_SOLD"
	FinalizedUnsold FinalizeOutcome = "FINALIZED_UNSOLD"
	AlreadyFinal    FinalizeOutcome = "ALREADY_FINAL"
	NotDue          FinalizeOutcome = "NOT_DUE"
	// Deferred means accepted bids for the auction are still queued.
	Deferred FinalizeOutcome = "DEFERRED"
)

// Finalized reports whether this call performed the transition.
func (o FinalizeOutcome) Finalized() bool {
	return o == FinalizedSold || o == FinalizedUnsold
}

// CloseResult describes what a close attempt did to the durable record.
type CloseResult struct {
	Outcome   FinalizeOutcome
	AuctionID int64
	EndAt     time.Time
	WinnerID  int64
	BidID     int64
	Price     decimal.Decimal
	ClosedAt  time.Time

	// IndexStale is set when the deadline entry could not be removed or
	// moved after the attempt, so it is still due in the index.
	IndexStale bool
}

// BidUnitTier applies Unit to prices below UpTo. A zero UpTo matches everything.
type BidUnitTier struct {
	UpTo decimal.Decimal `json:"upTo"`
	Unit decimal.Decimal `json:"unit"`
}

type BidUnitRules struct {
	Tiers []BidUnitTier `json:"tiers"`
}
