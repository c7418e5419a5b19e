package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"auction-engine/internal/domain"

	"github.com/shopspring/decimal"
)

type MySQLBidRepository struct {
	db *sql.DB
}

func NewMySQLBidRepository(db *sql.DB) *MySQLBidRepository {
	return &MySQLBidRepository{db: db}
}

func (r *MySQLBidRepository) ApplyBidEvent(ctx context.Context, event *domain.BidOutcomeEvent,
	policy domain.ExtensionPolicy, now time.Time) (*domain.AppliedBid, error) {
	amount, err := event.AmountDecimal()
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q", domain.ErrMalformedEvent, event.Amount)
	}

	applied := &domain.AppliedBid{}
	err = withTx(ctx, r.db, func(tx *sql.Tx) error {
		seen, err := eventApplied(ctx, tx, event.EventID)
		if err != nil {
			return err
		}
		if seen {
			applied.Duplicate = true
			return nil
		}

		auction, err := lockAuction(ctx, tx, event.AuctionID)
		if err != nil {
			return err
		}
		applied.Auction = auction

		bid := &domain.Bid{
			AuctionID: event.AuctionID,
			MemberID:  event.MemberID,
			Amount:    amount,
			EventID:   event.EventID,
			CreatedAt: time.Unix(event.Ts, 0),
		}
		applied.Bid = bid

		if event.Intended == domain.IntentReject {
			bid.Status = domain.BidRejected
			bid.ReasonCode = event.Reason
			return insertBid(ctx, tx, bid)
		}

		// The cache accepted it but the durable record is no longer open.
		if auction.Status != domain.AuctionOpen {
			bid.Status = domain.BidRejected
			bid.ReasonCode = domain.BidNotRunning
			return insertBid(ctx, tx, bid)
		}

		bid.Status = domain.BidValid
		if event.BuyNow && auction.BuyNowFlag && auction.BuyNowPrice.Valid {
			bid.Amount = auction.BuyNowPrice.Decimal
			if err := insertBid(ctx, tx, bid); err != nil {
				return err
			}
			return closeByBuyNow(ctx, tx, auction, bid, now, applied)
		}

		if err := insertBid(ctx, tx, bid); err != nil {
			return err
		}

		newPrice := decimal.Max(auction.CurrentPrice, bid.Amount)
		newEnd := auction.EndAt
		if policy.Enabled && auction.ExtensionFlag {
			remaining := auction.EndAt.Sub(bid.CreatedAt)
			if remaining >= 0 && remaining <= policy.Threshold {
				newEnd = auction.EndAt.Add(policy.ExtendBy)
				applied.Extended = true
			}
		}

		_, err = tx.ExecContext(ctx, `
            UPDATE auctions SET current_price = ?, end_at = ?, updated_at = ? WHERE id = ?
        `, newPrice, newEnd, now, auction.ID)
		if err != nil {
			return err
		}
		auction.CurrentPrice = newPrice
		auction.EndAt = newEnd
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

func closeByBuyNow(ctx context.Context, tx *sql.Tx, auction *domain.Auction, bid *domain.Bid,
	now time.Time, applied *domain.AppliedBid) error {
	_, err := tx.ExecContext(ctx, `
        UPDATE auctions
        SET current_price = ?, status = 'CLOSED', close_reason = ?, closed_at = ?,
            winner_member_id = ?, winner_bid_id = ?, updated_at = ?
        WHERE id = ? AND status = 'OPEN'
    `, bid.Amount, string(domain.CloseBuyNow), now, bid.MemberID, bid.ID, now, auction.ID)
	if err != nil {
		return err
	}

	auction.CurrentPrice = bid.Amount
	auction.Status = domain.AuctionClosed
	auction.CloseReason = domain.CloseBuyNow
	auction.WinnerID = bid.MemberID
	auction.WinnerBidID = bid.ID
	auction.ClosedAt = &now
	applied.Closed = true

	return insertOutboxEvent(ctx, tx, auction.ID, domain.EventAuctionSold, domain.AuctionSettled{
		AuctionID:   auction.ID,
		Reason:      domain.CloseBuyNow,
		WinnerID:    bid.MemberID,
		WinnerBidID: bid.ID,
		FinalPrice:  bid.Amount.String(),
		ClosedAt:    now,
	}, now)
}

func eventApplied(ctx context.Context, tx *sql.Tx, eventID string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM auction_bids WHERE event_id = ? LIMIT 1`, eventID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func insertBid(ctx context.Context, tx *sql.Tx, bid *domain.Bid) error {
	var reason sql.NullString
	if bid.ReasonCode != "" {
		reason = sql.NullString{String: string(bid.ReasonCode), Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
        INSERT INTO auction_bids (auction_id, member_id, amount, status, reason_code, event_id, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `, bid.AuctionID, bid.MemberID, bid.Amount, string(bid.Status), reason, bid.EventID, bid.CreatedAt)
	if err != nil {
		return err
	}
	bid.ID, err = res.LastInsertId()
	return err
}
