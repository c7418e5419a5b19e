package mysql

import (
	"auction-engine/internal/domain"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

const auctionColumns = `id, owner_id, start_at, end_at, status, current_price, bid_unit,
        buy_now_flag, buy_now_price, extension_flag, winner_member_id, winner_bid_id,
        close_reason, closed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

type MySQLAuctionRepository struct {
	db *sql.DB
}

func NewMySQLAuctionRepository(db *sql.DB) *MySQLAuctionRepository {
	return &MySQLAuctionRepository{db: db}
}

func (r *MySQLAuctionRepository) GetAuction(ctx context.Context, auctionID int64) (*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = ?`
	return scanAuction(r.db.QueryRowContext(ctx, query, auctionID))
}

func (r *MySQLAuctionRepository) FindOpenEndingBefore(ctx context.Context, horizon time.Time) ([]domain.DeadlineEntry, error) {
	query := `
        SELECT id, end_at
        FROM auctions
        WHERE status = 'OPEN' AND end_at <= ?
        ORDER BY id ASC
    `

	rows, err := r.db.QueryContext(ctx, query, horizon)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.DeadlineEntry
	for rows.Next() {
		var e domain.DeadlineEntry
		if err := rows.Scan(&e.AuctionID, &e.EndAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *MySQLAuctionRepository) CloseIfDue(ctx context.Context, auctionID int64, now time.Time) (*domain.CloseResult, error) {
	result := &domain.CloseResult{AuctionID: auctionID}

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		auction, err := lockAuction(ctx, tx, auctionID)
		if err != nil {
			return err
		}
		result.EndAt = auction.EndAt

		switch auction.Status {
		case domain.AuctionClosed:
			result.Outcome = domain.AlreadyFinal
			return nil
		case domain.AuctionCanceled:
			return domain.ErrAuctionCanceled
		}
		if auction.EndAt.After(now) {
			result.Outcome = domain.NotDue
			return nil
		}

		winner, err := topValidBid(ctx, tx, auctionID)
		if err != nil {
			return err
		}

		var winnerMember, winnerBid sql.NullInt64
		if winner != nil {
			winnerMember = sql.NullInt64{Int64: winner.MemberID, Valid: true}
			winnerBid = sql.NullInt64{Int64: winner.ID, Valid: true}
		}

		res, err := tx.ExecContext(ctx, `
            UPDATE auctions
            SET status = 'CLOSED', close_reason = ?, closed_at = ?,
                winner_member_id = ?, winner_bid_id = ?, updated_at = ?
            WHERE id = ? AND status = 'OPEN' AND end_at <= ?
        `, string(domain.CloseTimeUp), now, winnerMember, winnerBid, now, auctionID, now)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected != 1 {
			result.Outcome = domain.AlreadyFinal
			return nil
		}

		settled := domain.AuctionSettled{
			AuctionID: auctionID,
			Reason:    domain.CloseTimeUp,
			ClosedAt:  now,
		}
		eventType := domain.EventAuctionUnsold
		result.Outcome = domain.FinalizedUnsold
		if winner != nil {
			eventType = domain.EventAuctionSold
			result.Outcome = domain.FinalizedSold
			result.WinnerID = winner.MemberID
			result.BidID = winner.ID
			result.Price = winner.Amount
			settled.WinnerID = winner.MemberID
			settled.WinnerBidID = winner.ID
			settled.FinalPrice = winner.Amount.String()
		}
		result.ClosedAt = now

		return insertOutboxEvent(ctx, tx, auctionID, eventType, settled, now)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func lockAuction(ctx context.Context, tx *sql.Tx, auctionID int64) (*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = ? FOR UPDATE`
	return scanAuction(tx.QueryRowContext(ctx, query, auctionID))
}

// topValidBid returns the highest VALID bid, earliest first on ties, or nil.
func topValidBid(ctx context.Context, tx *sql.Tx, auctionID int64) (*domain.Bid, error) {
	query := `
        SELECT id, member_id, amount, created_at
        FROM auction_bids
        WHERE auction_id = ? AND status = 'VALID'
        ORDER BY amount DESC, id ASC
        LIMIT 1
    `
	bid := domain.Bid{AuctionID: auctionID, Status: domain.BidValid}
	err := tx.QueryRowContext(ctx, query, auctionID).Scan(&bid.ID, &bid.MemberID, &bid.Amount, &bid.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &bid, nil
}

func scanAuction(row rowScanner) (*domain.Auction, error) {
	var (
		auction     domain.Auction
		status      string
		buyNowPrice decimal.NullDecimal
		winnerID    sql.NullInt64
		winnerBidID sql.NullInt64
		closeReason sql.NullString
		closedAt    sql.NullTime
	)

	err := row.Scan(
		&auction.ID, &auction.OwnerID, &auction.StartAt, &auction.EndAt, &status,
		&auction.CurrentPrice, &auction.BidUnit, &auction.BuyNowFlag, &buyNowPrice,
		&auction.ExtensionFlag, &winnerID, &winnerBidID, &closeReason, &closedAt,
		&auction.CreatedAt, &auction.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAuctionNotFound
		}
		return nil, err
	}

	if auction.Status, err = domain.ParseAuctionStatus(status); err != nil {
		return nil, fmt.Errorf("auction %d status %q: %w", auction.ID, status, err)
	}
	auction.BuyNowPrice = buyNowPrice
	auction.WinnerID = winnerID.Int64
	auction.WinnerBidID = winnerBidID.Int64
	auction.CloseReason = domain.CloseReason(closeReason.String)
	if closedAt.Valid {
		t := closedAt.Time
		auction.ClosedAt = &t
	}
	return &auction, nil
}
