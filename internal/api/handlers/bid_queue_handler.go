package handlers

import (
	"auction-engine/internal/domain"
	"auction-engine/internal/services"
	"auction-engine/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
)

const memberHeader = "X-Member-Id"

type BidSubmitter interface {
	SubmitBid(ctx context.Context, in services.SubmitBidInput) (*domain.BidResult, error)
}

type QueueBidRequest struct {
	BidPrice  string `json:"bidPrice"`
	RequestID string `json:"requestId"`
}

type QueueBidResponse struct {
	Status       string `json:"status"`
	AuctionID    int64  `json:"auctionId"`
	CurrentPrice string `json:"currentPrice,omitempty"`
	BidID        *int64 `json:"bidId"`
}

type BidQueueHandler struct {
	bids BidSubmitter
	log  logger.Logger
}

func NewBidQueueHandler(bids BidSubmitter, log logger.Logger) *BidQueueHandler {
	return &BidQueueHandler{bids: bids, log: log}
}

func (h *BidQueueHandler) Register(r *mux.Router) {
	r.HandleFunc("/api/v1/auctions/{auctionId}/bids/queue", h.QueueBid).Methods(http.MethodPost)
}

func (h *BidQueueHandler) QueueBid(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := parseID(mux.Vars(r)["auctionId"])
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_AUCTION_ID", "auction id must be a positive integer")
		return
	}
	memberID, ok := parseID(r.Header.Get(memberHeader))
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_MEMBER_ID", memberHeader+" header is required")
		return
	}

	var req QueueBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	result, err := h.bids.SubmitBid(r.Context(), services.SubmitBidInput{
		AuctionID: auctionID,
		BidderID:  memberID,
		BidPrice:  req.BidPrice,
		RequestID: req.RequestID,
	})
	if err != nil {
		h.writeSubmitError(w, auctionID, err)
		return
	}

	switch result.Code {
	case domain.BidOK:
		writeJSON(w, http.StatusOK, QueueBidResponse{Status: "QUEUED", AuctionID: auctionID, CurrentPrice: result.CurrentPriceAfter})
	case domain.BidDuplicate:
		writeJSON(w, http.StatusOK, QueueBidResponse{Status: "DUPLICATE", AuctionID: auctionID, CurrentPrice: result.CurrentPriceAfter})
	case domain.BidLowPrice:
		writeError(w, http.StatusConflict, "BID_PRICE_TOO_LOW", "bid must be at least current price plus bid unit")
	case domain.BidNotRunning, domain.BidMissing:
		writeError(w, http.StatusConflict, "AUCTION_NOT_RUNNING", "auction is not accepting bids")
	case domain.BidSelfBid:
		writeError(w, http.StatusForbidden, "SELF_BID_NOT_ALLOWED", "owners cannot bid on their own auction")
	default:
		h.log.Error("Unexpected bid result code", "auction_id", auctionID, "code", result.Code)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "")
	}
}

func (h *BidQueueHandler) writeSubmitError(w http.ResponseWriter, auctionID int64, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidBidAmount):
		writeError(w, http.StatusBadRequest, "INVALID_BID_PRICE", err.Error())
	case errors.Is(err, domain.ErrMissingRequestID):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST_ID", err.Error())
	case errors.Is(err, domain.ErrInvalidBidder):
		writeError(w, http.StatusBadRequest, "INVALID_MEMBER_ID", err.Error())
	case errors.Is(err, domain.ErrAuctionNotFound):
		writeError(w, http.StatusNotFound, "AUCTION_NOT_FOUND", "")
	default:
		h.log.Error("Bid queue request failed", "auction_id", auctionID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "BID_UNAVAILABLE", "bid could not be processed, retry with the same requestId")
	}
}
