// Package sequence numbers the events published for each order so consumers
// can detect gaps and reordering. The partition key is the order id.
package sequence

import (
	"context"
	"database/sql"
	"fmt"
)

type Repository interface {
	NextSequence(ctx context.Context, orderID string) (int64, error)
}

const nextSequenceSQL = `INSERT INTO event_sequence (partition_key, last_sequence, updated_at)
         VALUES ($1, 1, NOW())
         ON CONFLICT (partition_key)
         DO UPDATE SET last_sequence = event_sequence.last_sequence + 1, updated_at = NOW()
         RETURNING last_sequence`

type orderSequences struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &orderSequences{db: db}
}

// NextSequence reserves the next number for orderID: OrderCreated gets 1,
// OrderPaid 2. A reserved number is not returned when the publish later fails.
func (s *orderSequences) NextSequence(ctx context.Context, orderID string) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, nextSequenceSQL, orderID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("reserve sequence for order %s: %w", orderID, err)
	}
	return seq, nil
}
