package services

import (
	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"
	"context"
	"time"
)

const syncChunk = 500

type SyncStats struct {
	Loaded int
	Failed int
	Pruned int64
}

// DeadlineSync rebuilds the deadline index from the durable store. Bootstrap
// runs once at startup and Reconcile on a schedule; both are idempotent.
type DeadlineSync struct {
	auctions domain.AuctionRepository
	index    domain.DeadlineIndex
	horizon  time.Duration
	prune    bool
	chunk    int
	log      logger.Logger
	now      func() time.Time
}

func NewDeadlineSync(auctions domain.AuctionRepository, index domain.DeadlineIndex, horizon time.Duration,
	prune bool, log logger.Logger) *DeadlineSync {
	return &DeadlineSync{
		auctions: auctions,
		index:    index,
		horizon:  horizon,
		prune:    prune,
		chunk:    syncChunk,
		log:      log,
		now:      time.Now,
	}
}

func (s *DeadlineSync) Bootstrap(ctx context.Context) (*SyncStats, error) {
	stats, err := s.sync(ctx)
	if err != nil {
		s.log.Error("Deadline bootstrap failed", "error", err)
		return nil, err
	}
	s.log.Info("Deadline index bootstrapped", "loaded", stats.Loaded, "failed", stats.Failed, "pruned", stats.Pruned)
	return stats, nil
}

func (s *DeadlineSync) Reconcile(ctx context.Context) (*SyncStats, error) {
	stats, err := s.sync(ctx)
	if err != nil {
		s.log.Error("Deadline reconcile failed", "error", err)
		return nil, err
	}
	s.log.Info("Deadline index reconciled", "upserted", stats.Loaded, "failed", stats.Failed, "pruned", stats.Pruned)
	return stats, nil
}

func (s *DeadlineSync) sync(ctx context.Context) (*SyncStats, error) {
	limit := s.now().Add(s.horizon)

	entries, err := s.auctions.FindOpenEndingBefore(ctx, limit)
	if err != nil {
		return nil, err
	}
	stats := &SyncStats{}
	for start := 0; start < len(entries); start += s.chunk {
		end := start + s.chunk
		if end > len(entries) {
			end = len(entries)
		}
		s.upsertChunk(ctx, entries[start:end], stats)
	}

	if s.prune {
		// Entries past the horizon come back once they move inside it.
		pruned, err := s.index.PruneAfter(ctx, limit)
		if err != nil {
			return nil, err
		}
		stats.Pruned = pruned
	}
	return stats, nil
}

// upsertChunk writes one batch and falls back to single upserts when the
// batch fails, so one bad entry only costs itself.
func (s *DeadlineSync) upsertChunk(ctx context.Context, entries []domain.DeadlineEntry, stats *SyncStats) {
	err := s.index.UpsertAll(ctx, entries)
	if err == nil {
		stats.Loaded += len(entries)
		return
	}
	s.log.Warn("Deadline batch upsert failed, retrying one by one", "entries", len(entries), "error", err)

	for _, e := range entries {
		if err := s.index.Upsert(ctx, e.AuctionID, e.EndAt); err != nil {
			s.log.Error("Failed to index auction deadline", "auction_id", e.AuctionID, "error", err)
			stats.Failed++
			continue
		}
		stats.Loaded++
	}
}
