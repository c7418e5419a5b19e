package services

import (
	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Finalizer interface {
	FinalizeIfDue(ctx context.Context, auctionID int64, now time.Time) (*domain.CloseResult, error)
}

type TickStats struct {
	Batches      int
	Finalized    int
	Deferred     int
	NotDue       int
	AlreadyFinal int
	Rejected     int
	Failed       int
	// OverBudget is set when the tick stopped on its time budget.
	OverBudget bool
}

// DeadlineWorker pulls due auction ids from the deadline index and finalizes
// them in time-boxed batches.
type DeadlineWorker struct {
	index       domain.DeadlineIndex
	finalizer   Finalizer
	batchSize   int64
	budget      time.Duration
	parallelism int
	log         logger.Logger
	now         func() time.Time
}

func NewDeadlineWorker(index domain.DeadlineIndex, finalizer Finalizer, batchSize int, budget time.Duration,
	parallelism int, log logger.Logger) *DeadlineWorker {
	if batchSize <= 0 {
		batchSize = 100
	}
	if parallelism <= 0 {
		parallelism = 1
	}
	return &DeadlineWorker{
		index:       index,
		finalizer:   finalizer,
		batchSize:   int64(batchSize),
		budget:      budget,
		parallelism: parallelism,
		log:         log,
		now:         time.Now,
	}
}

// itemResult tells the tick loop whether the id is still in the index.
type itemResult int

const (
	itemRemoved itemResult = iota
	itemKept
)

// Tick runs one FETCH_BATCH -> PROCESS loop. Items that stay in the index
// (deferred, failed or skipped) are paged past with an offset so a stuck
// auction cannot block the ones behind it.
func (w *DeadlineWorker) Tick(ctx context.Context) TickStats {
	var stats TickStats
	var mu sync.Mutex

	start := w.now()
	deadline := start.Add(w.budget)
	var offset int64

	for {
		if ctx.Err() != nil {
			break
		}
		if !w.now().Before(deadline) {
			stats.OverBudget = true
			break
		}

		ids, err := w.index.Due(ctx, start, offset, w.batchSize)
		if err != nil {
			w.log.Error("Failed to fetch due auctions", "error", err)
			break
		}
		if len(ids) == 0 {
			break
		}
		stats.Batches++

		var kept int64
		if w.parallelism <= 1 {
			kept = w.processSerial(ctx, ids, deadline, &stats, &mu)
		} else {
			var complete bool
			kept, complete = w.processParallel(ctx, ids, deadline, &stats, &mu)
			if !complete {
				mu.Lock()
				stats.OverBudget = true
				mu.Unlock()
				break
			}
		}

		if int64(len(ids)) < w.batchSize {
			break
		}
		offset += kept
	}

	mu.Lock()
	defer mu.Unlock()
	if stats.Batches > 0 {
		w.log.Info("Finalize tick finished",
			"batches", stats.Batches,
			"finalized", stats.Finalized,
			"deferred", stats.Deferred,
			"not_due", stats.NotDue,
			"already_final", stats.AlreadyFinal,
			"rejected", stats.Rejected,
			"failed", stats.Failed,
			"over_budget", stats.OverBudget,
			"elapsed", w.now().Sub(start).String())
	}
	return stats
}

func (w *DeadlineWorker) processSerial(ctx context.Context, ids []int64, deadline time.Time,
	stats *TickStats, mu *sync.Mutex) int64 {
	var kept int64
	for i, id := range ids {
		if ctx.Err() != nil || !w.now().Before(deadline) {
			mu.Lock()
			stats.OverBudget = true
			mu.Unlock()
			return kept + int64(len(ids)-i)
		}
		if w.process(ctx, id, stats, mu) == itemKept {
			kept++
		}
	}
	return kept
}

// processParallel fans the batch out to at most parallelism goroutines and
// waits for them until the budget runs out. Work still running after that is
// left to finish on its own.
func (w *DeadlineWorker) processParallel(ctx context.Context, ids []int64, deadline time.Time,
	stats *TickStats, mu *sync.Mutex) (int64, bool) {
	var g errgroup.Group
	g.SetLimit(w.parallelism)

	var kept int64
	var keptMu sync.Mutex
	addKept := func(n int64) {
		keptMu.Lock()
		kept += n
		keptMu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i, id := range ids {
			if ctx.Err() != nil || !w.now().Before(deadline) {
				addKept(int64(len(ids) - i))
				break
			}
			id := id
			g.Go(func() error {
				if w.process(ctx, id, stats, mu) == itemKept {
					addKept(1)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	wait := deadline.Sub(w.now())
	if wait < 0 {
		wait = 0
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-done:
		keptMu.Lock()
		defer keptMu.Unlock()
		return kept, true
	case <-timer.C:
		w.log.Warn("Finalize batch exceeded time budget, leaving remaining work to next tick", "batch", len(ids))
		return 0, false
	}
}

func (w *DeadlineWorker) process(ctx context.Context, auctionID int64, stats *TickStats, mu *sync.Mutex) itemResult {
	result, err := w.finalizer.FinalizeIfDue(ctx, auctionID, w.now())
	if err != nil {
		if errors.Is(err, domain.ErrAuctionCanceled) || errors.Is(err, domain.ErrAuctionNotFound) {
			w.log.Warn("Auction cannot be finalized, dropping deadline entry", "auction_id", auctionID, "error", err)
			count(mu, &stats.Rejected)
			if rmErr := w.index.Remove(ctx, auctionID); rmErr != nil {
				w.log.Warn("Failed to remove deadline entry", "auction_id", auctionID, "error", rmErr)
				return itemKept
			}
			return itemRemoved
		}
		w.log.Error("Failed to finalize auction", "auction_id", auctionID, "error", err)
		count(mu, &stats.Failed)
		return itemKept
	}

	switch result.Outcome {
	case domain.FinalizedSold, domain.FinalizedUnsold:
		count(mu, &stats.Finalized)
	case domain.AlreadyFinal:
		count(mu, &stats.AlreadyFinal)
	case domain.NotDue:
		count(mu, &stats.NotDue)
	case domain.Deferred:
		count(mu, &stats.Deferred)
		return itemKept
	}
	if result.IndexStale {
		// Still due in the index; skip past it for the rest of this tick.
		return itemKept
	}
	return itemRemoved
}

func count(mu *sync.Mutex, n *int) {
	mu.Lock()
	*n++
	mu.Unlock()
}
