package handlers

import (
	"auction-engine/internal/domain"
	"auction-engine/internal/services"
	"auction-engine/pkg/logger"
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

type DeadlineLister interface {
	Entries(ctx context.Context, until time.Time, limit int64) ([]domain.DeadlineEntry, error)
	Size(ctx context.Context) (int64, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context) (*services.SyncStats, error)
}

type DueEntryResponse struct {
	AuctionID int64     `json:"auction_id"`
	EndAt     time.Time `json:"end_at"`
}

type FinalizeResponse struct {
	AuctionID int64     `json:"auction_id"`
	Outcome   string    `json:"outcome"`
	EndAt     time.Time `json:"end_at"`
	WinnerID  int64     `json:"winner_id,omitempty"`
	BidID     int64     `json:"bid_id,omitempty"`
	Price     string    `json:"price,omitempty"`
}

// AdminHandler exposes operational endpoints of the auction service.
type AdminHandler struct {
	index      DeadlineLister
	reconciler Reconciler
	finalizer  services.Finalizer
	log        logger.Logger
}

func NewAdminHandler(index DeadlineLister, reconciler Reconciler, finalizer services.Finalizer,
	log logger.Logger) *AdminHandler {
	return &AdminHandler{
		index:      index,
		reconciler: reconciler,
		finalizer:  finalizer,
		log:        log,
	}
}

func (h *AdminHandler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)
	api := e.Group("/api/v1")
	api.GET("/deadlines/due", h.ListDue)
	api.POST("/deadlines/reconcile", h.Reconcile)
	api.POST("/auctions/:id/finalize", h.Finalize)
}

func (h *AdminHandler) Health(c echo.Context) error {
	size, err := h.index.Size(c.Request().Context())
	if err != nil {
		h.log.Error("Health check failed", "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "DOWN"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"status": "UP", "deadlines": size})
}

// ListDue shows index entries due at or before ?until (RFC3339, default now).
func (h *AdminHandler) ListDue(c echo.Context) error {
	until := time.Now()
	if raw := c.QueryParam("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "until must be RFC3339"})
		}
		until = t
	}
	limit := int64(100)
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 || n > 1000 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 1000"})
		}
		limit = n
	}

	entries, err := h.index.Entries(c.Request().Context(), until, limit)
	if err != nil {
		h.log.Error("Failed to list due deadlines", "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "deadline index unavailable"})
	}

	resp := make([]DueEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, DueEntryResponse{AuctionID: e.AuctionID, EndAt: e.EndAt})
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *AdminHandler) Reconcile(c echo.Context) error {
	h.log.Info("Manual reconcile requested", "remote_addr", c.RealIP())

	stats, err := h.reconciler.Reconcile(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "reconcile failed"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"upserted": stats.Loaded,
		"failed":   stats.Failed,
		"pruned":   stats.Pruned,
	})
}

func (h *AdminHandler) Finalize(c echo.Context) error {
	auctionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || auctionID <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid auction id"})
	}
	h.log.Info("Manual finalize requested", "auction_id", auctionID, "remote_addr", c.RealIP())

	result, err := h.finalizer.FinalizeIfDue(c.Request().Context(), auctionID, time.Now())
	switch {
	case errors.Is(err, domain.ErrAuctionNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "auction not found"})
	case errors.Is(err, domain.ErrAuctionCanceled):
		return c.JSON(http.StatusConflict, map[string]string{"error": "auction canceled"})
	case err != nil:
		h.log.Error("Manual finalize failed", "auction_id", auctionID, "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "finalize failed"})
	}

	resp := FinalizeResponse{
		AuctionID: auctionID,
		Outcome:   string(result.Outcome),
		EndAt:     result.EndAt,
		WinnerID:  result.WinnerID,
		BidID:     result.BidID,
	}
	if result.WinnerID != 0 {
		resp.Price = result.Price.String()
	}
	return c.JSON(http.StatusOK, resp)
}
