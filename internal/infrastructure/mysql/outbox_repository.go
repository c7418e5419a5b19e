package mysql

import (
	"auction-engine/internal/domain"
	"auction-engine/pkg/utils"
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

type MySQLOutboxRepository struct {
	db *sql.DB
}

func NewMySQLOutboxRepository(db *sql.DB) *MySQLOutboxRepository {
	return &MySQLOutboxRepository{db: db}
}

// insertOutboxEvent records a domain event inside the caller's transaction.
func insertOutboxEvent(ctx context.Context, tx *sql.Tx, auctionID int64, eventType domain.DomainEventType,
	payload interface{}, now time.Time) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO auction_event_outbox (id, auction_id, event_type, payload, status, attempts, created_at)
        VALUES (?, ?, ?, ?, ?, 0, ?)
    `
	_, err = tx.ExecContext(ctx, query,
		utils.GenerateID("evt"), auctionID, string(eventType),
		string(data), string(domain.OutboxPending), now)
	return err
}

func (r *MySQLOutboxRepository) GetPending(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	query := `
        SELECT id, auction_id, event_type, payload, status, attempts, created_at
        FROM auction_event_outbox
        WHERE status = 'pending'
        ORDER BY created_at ASC
        LIMIT ?
    `

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var event domain.OutboxEvent
		var eventType, status, payload string

		err := rows.Scan(&event.ID, &event.AuctionID, &eventType,
			&payload, &status, &event.Attempts, &event.CreatedAt)
		if err != nil {
			return nil, err
		}

		event.Type = domain.DomainEventType(eventType)
		event.Status = domain.OutboxStatus(status)
		event.Payload = []byte(payload)
		events = append(events, &event)
	}

	return events, rows.Err()
}

func (r *MySQLOutboxRepository) MarkPublished(ctx context.Context, eventID string, at time.Time) error {
	query := `UPDATE auction_event_outbox SET status = 'published', published_at = ? WHERE id = ? AND status = 'pending'`
	_, err := r.db.ExecContext(ctx, query, at, eventID)
	return err
}

func (r *MySQLOutboxRepository) MarkAttempted(ctx context.Context, eventID string) error {
	query := `UPDATE auction_event_outbox SET attempts = attempts + 1 WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, eventID)
	return err
}
