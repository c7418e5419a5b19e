package services

import (
	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const maxRequestIDLength = 100

// Upper bound of the DECIMAL(20,8) price columns.
var maxBidAmount = decimal.New(1, 12)

type CacheLoader interface {
	EnsureLoaded(ctx context.Context, auctionID int64) error
}

type SubmitBidInput struct {
	AuctionID int64
	BidderID  int64
	BidPrice  string
	RequestID string
}

// BidService validates bid input and hands it to the atomic processor.
type BidService struct {
	processor domain.BidProcessor
	loader    CacheLoader
	log       logger.Logger
}

func NewBidService(processor domain.BidProcessor, loader CacheLoader, log logger.Logger) *BidService {
	return &BidService{
		processor: processor,
		loader:    loader,
		log:       log,
	}
}

func (s *BidService) SubmitBid(ctx context.Context, in SubmitBidInput) (*domain.BidResult, error) {
	req, err := parseBidInput(in)
	if err != nil {
		return nil, err
	}

	if err := s.loader.EnsureLoaded(ctx, req.AuctionID); err != nil {
		return nil, err
	}

	result, err := s.processor.SubmitBid(ctx, req)
	if err != nil {
		s.log.Error("Bid submission failed", "auction_id", req.AuctionID, "request_id", req.RequestID, "error", err)
		return nil, err
	}

	s.log.Info("Bid processed",
		"auction_id", req.AuctionID,
		"bidder_id", req.BidderID,
		"amount", req.Amount.String(),
		"code", result.Code,
		"current_price", result.CurrentPriceAfter)
	return result, nil
}

func parseBidInput(in SubmitBidInput) (domain.BidRequest, error) {
	requestID := strings.TrimSpace(in.RequestID)
	if requestID == "" || len(requestID) > maxRequestIDLength {
		return domain.BidRequest{}, domain.ErrMissingRequestID
	}
	if in.BidderID <= 0 {
		return domain.BidRequest{}, domain.ErrInvalidBidder
	}
	if in.AuctionID <= 0 {
		return domain.BidRequest{}, domain.ErrAuctionNotFound
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(in.BidPrice))
	if err != nil {
		return domain.BidRequest{}, fmt.Errorf("%w: %q", domain.ErrInvalidBidAmount, in.BidPrice)
	}
	if !amount.IsPositive() || amount.GreaterThanOrEqual(maxBidAmount) || !amount.Equal(amount.Truncate(8)) {
		return domain.BidRequest{}, fmt.Errorf("%w: %q", domain.ErrInvalidBidAmount, in.BidPrice)
	}

	return domain.BidRequest{
		AuctionID: in.AuctionID,
		BidderID:  in.BidderID,
		Amount:    amount,
		RequestID: requestID,
	}, nil
}
