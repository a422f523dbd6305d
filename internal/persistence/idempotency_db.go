package persistence

import (
	"context"
	"database/sql"
	"time"
)

// PostgresIdempotencyChecker is the second dedup tier behind the
// core's in-memory LRU. It probes the event log directly, so it stays
// correct across restarts and LRU evictions.
type PostgresIdempotencyChecker struct {
	db *sql.DB
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{db: db}
}

// IsDuplicate reports whether an event with the same type and
// idempotency key is already in the event log. The probe is bounded at
// 500ms; a slow or failing database surfaces as an error rather than a
// silent re-apply.
func (pic *PostgresIdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	// Served by idx_events_idem from the event_log migration
	var exists int
	err := pic.db.QueryRowContext(ctx,
		`SELECT 1 FROM event_log.events WHERE event_type = $1 AND idempotency_key = $2 LIMIT 1`,
		eventType, idempotencyKey,
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
