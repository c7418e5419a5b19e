package mysql

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS auctions (
        id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
        owner_id BIGINT NOT NULL,
        start_at DATETIME(3) NOT NULL,
        end_at DATETIME(3) NOT NULL,
        status VARCHAR(16) NOT NULL,
        current_price DECIMAL(20,8) NOT NULL,
        bid_unit DECIMAL(20,8) NOT NULL,
        buy_now_flag TINYINT(1) NOT NULL DEFAULT 0,
        buy_now_price DECIMAL(20,8) NULL,
        extension_flag TINYINT(1) NOT NULL DEFAULT 0,
        winner_member_id BIGINT NULL,
        winner_bid_id BIGINT NULL,
        close_reason VARCHAR(16) NULL,
        closed_at DATETIME(3) NULL,
        created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
        updated_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
        KEY idx_auctions_status_end (status, end_at)
    )`,
	`CREATE TABLE IF NOT EXISTS auction_bids (
        id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
        auction_id BIGINT NOT NULL,
        member_id BIGINT NOT NULL,
        amount DECIMAL(20,8) NOT NULL,
        status VARCHAR(16) NOT NULL,
        reason_code VARCHAR(32) NULL,
        event_id VARCHAR(128) NOT NULL,
        created_at DATETIME(3) NOT NULL,
        UNIQUE KEY uk_auction_bids_event (event_id),
        KEY idx_auction_bids_winner (auction_id, status, amount)
    )`,
	`CREATE TABLE IF NOT EXISTS auction_event_outbox (
        id VARCHAR(64) NOT NULL PRIMARY KEY,
        auction_id BIGINT NOT NULL,
        event_type VARCHAR(32) NOT NULL,
        payload TEXT NOT NULL,
        status VARCHAR(16) NOT NULL,
        attempts INT NOT NULL DEFAULT 0,
        created_at DATETIME(3) NOT NULL,
        published_at DATETIME(3) NULL,
        KEY idx_outbox_status_created (status, created_at)
    )`,
}

// InitSchema creates the tables this engine owns if they do not exist.
func InitSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
