package handlers

import (
	"auction-engine/internal/domain"
	"auction-engine/internal/infrastructure/live"
	"auction-engine/pkg/logger"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const maxListIDs = 100

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type SnapshotReader interface {
	Snapshot(ctx context.Context, auctionID int64) (*domain.AuctionCacheRecord, error)
}

type LiveHandler struct {
	hub       *live.Hub
	snapshots SnapshotReader
	timeout   time.Duration
	log       logger.Logger
}

func NewLiveHandler(hub *live.Hub, snapshots SnapshotReader, timeout time.Duration, log logger.Logger) *LiveHandler {
	return &LiveHandler{hub: hub, snapshots: snapshots, timeout: timeout, log: log}
}

func (h *LiveHandler) Register(r *mux.Router) {
	// select must be registered ahead of {auctionId}
	r.HandleFunc("/api/v1/auctions/live/select", h.StreamList).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/auctions/{auctionId}/live", h.StreamDetail).Methods(http.MethodGet)
	r.HandleFunc("/ws/auctions/{auctionId}", h.ServeWebSocket)
}

func (h *LiveHandler) StreamDetail(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := parseID(mux.Vars(r)["auctionId"])
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_AUCTION_ID", "")
		return
	}

	snap, status := h.snapshot(r.Context(), auctionID)
	if status != http.StatusOK {
		writeError(w, status, http.StatusText(status), "")
		return
	}

	sink, err := live.NewSSESink(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "")
		return
	}

	sub := h.hub.SubscribeDetail(auctionID, snap)
	h.log.Info("Detail stream opened", "auction_id", auctionID, "subscription_id", sub.ID())
	_ = h.hub.Serve(r.Context(), sub, sink, h.timeout)
	h.log.Info("Detail stream closed", "auction_id", auctionID, "subscription_id", sub.ID())
}

func (h *LiveHandler) StreamList(w http.ResponseWriter, r *http.Request) {
	ids := parseIDList(r.URL.Query().Get("ids"))
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "INVALID_AUCTION_IDS", "ids must list at least one auction id")
		return
	}

	snaps := make([]live.Snapshot, 0, len(ids))
	for _, id := range ids {
		if snap, status := h.snapshot(r.Context(), id); status == http.StatusOK {
			snaps = append(snaps, snap)
		}
	}

	sink, err := live.NewSSESink(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "")
		return
	}

	sub := h.hub.SubscribeList(ids, snaps)
	h.log.Info("List stream opened", "auctions", len(ids), "subscription_id", sub.ID())
	_ = h.hub.Serve(r.Context(), sub, sink, h.timeout)
	h.log.Info("List stream closed", "subscription_id", sub.ID())
}

func (h *LiveHandler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := parseID(mux.Vars(r)["auctionId"])
	if !ok {
		http.Error(w, "invalid auction id", http.StatusBadRequest)
		return
	}

	snap, status := h.snapshot(r.Context(), auctionID)
	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("WebSocket upgrade failed", "auction_id", auctionID, "error", err)
		return
	}
	sink := live.NewWebSocketSink(conn)
	defer sink.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go sink.ReadUntilClosed(cancel)

	sub := h.hub.SubscribeDetail(auctionID, snap)
	h.log.Info("WebSocket stream opened", "auction_id", auctionID, "subscription_id", sub.ID())
	_ = h.hub.Serve(ctx, sub, sink, h.timeout)
	h.log.Info("WebSocket stream closed", "auction_id", auctionID, "subscription_id", sub.ID())
}

func (h *LiveHandler) snapshot(ctx context.Context, auctionID int64) (live.Snapshot, int) {
	rec, err := h.snapshots.Snapshot(ctx, auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrAuctionNotFound) {
			return live.Snapshot{}, http.StatusNotFound
		}
		h.log.Error("Failed to load auction snapshot", "auction_id", auctionID, "error", err)
		return live.Snapshot{}, http.StatusServiceUnavailable
	}

	snap := live.Snapshot{
		AuctionID:    auctionID,
		CurrentPrice: rec.CurrentPrice.String(),
		EndTs:        rec.EndTs,
	}
	if rec.IsEnd {
		snap.IsEnd = 1
	}
	return snap, http.StatusOK
}

func parseIDList(raw string) []int64 {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		if id, ok := parseID(strings.TrimSpace(part)); ok {
			ids = append(ids, id)
			if len(ids) == maxListIDs {
				break
			}
		}
	}
	return ids
}
