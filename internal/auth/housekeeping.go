package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Housekeeping backs the scheduled cleanup job.
type Housekeeping struct {
	db     *sql.DB
	ledger *PostgresLedger
}

func NewHousekeeping(db *sql.DB, ledger *PostgresLedger) *Housekeeping {
	return &Housekeeping{db: db, ledger: ledger}
}

// PruneRateLimits deletes at most batchSize windows untouched since before cutoff.
func (h *Housekeeping) PruneRateLimits(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := h.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT key
			FROM auth_rate_limits
			WHERE updated_at < $1
			ORDER BY updated_at ASC
			LIMIT $2
		)
		DELETE FROM auth_rate_limits t
		USING stale
		WHERE t.key = stale.key
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale rate limits: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale rate limits rows affected: %w", err)
	}
	return affected, nil
}

// CountExpiredRefreshTokens only counts; ledger rows are kept as an audit trail.
func (h *Housekeeping) CountExpiredRefreshTokens(ctx context.Context) (int64, error) {
	return h.ledger.CountExpiredActive(ctx)
}
