package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tournaments-backend/internal/db"
)

type PostgresLedger struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresLedger(database *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: database, now: time.Now}
}

func (l *PostgresLedger) WithClock(fn func() time.Time) *PostgresLedger {
	if fn != nil {
		l.now = fn
	}
	return l
}

func (l *PostgresLedger) Record(ctx context.Context, record RefreshTokenRecord) error {
	return insertRefreshToken(ctx, l.db, record, l.now().UTC())
}

func insertRefreshToken(ctx context.Context, q db.DBTX, record RefreshTokenRecord, now time.Time) error {
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO refresh_tokens (jti, user_id, created_at, expires_at, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, record.JTI, record.UserID, createdAt.UTC(), record.ExpiresAt.UTC(), record.IP, record.UserAgent)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Find(ctx context.Context, jti string) (RefreshTokenRecord, error) {
	var (
		record     RefreshTokenRecord
		revokedAt  sql.NullTime
		replacedBy sql.NullString
		ip         sql.NullString
		userAgent  sql.NullString
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT jti, user_id, created_at, expires_at, revoked, revoked_at, replaced_by_jti, ip, user_agent
		FROM refresh_tokens
		WHERE jti = $1
	`, jti).Scan(&record.JTI, &record.UserID, &record.CreatedAt, &record.ExpiresAt, &record.Revoked, &revokedAt, &replacedBy, &ip, &userAgent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RefreshTokenRecord{}, ErrNotFound
		}
		return RefreshTokenRecord{}, fmt.Errorf("query refresh token: %w", err)
	}

	if revokedAt.Valid {
		value := revokedAt.Time.UTC()
		record.RevokedAt = &value
	}
	record.ReplacedByJTI = nullStringPtr(replacedBy)
	record.IP = nullStringPtr(ip)
	record.UserAgent = nullStringPtr(userAgent)
	return record, nil
}

// IsValid reports whether jti exists, is not revoked and has not expired.
func (l *PostgresLedger) IsValid(ctx context.Context, jti string) (bool, error) {
	record, err := l.Find(ctx, jti)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return record.ValidAt(l.now().UTC()), nil
}

// Revoke is idempotent: already revoked or unknown jtis are left untouched.
func (l *PostgresLedger) Revoke(ctx context.Context, jti string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2
		WHERE jti = $1 AND revoked = FALSE
	`, jti, l.now().UTC())
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (l *PostgresLedger) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	res, err := l.db.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2
		WHERE user_id = $1 AND revoked = FALSE
	`, userID, l.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens rows affected: %w", err)
	}
	return affected, nil
}

func (l *PostgresLedger) Rotate(ctx context.Context, oldJTI, userID string, next RefreshTokenRecord) error {
	now := l.now().UTC()

	return db.WithTx(ctx, l.db, nil, func(ctx context.Context, tx db.DBTX) error {
		var (
			ownerID    string
			expiresAt  time.Time
			revoked    bool
			replacedBy sql.NullString
		)
		err := tx.QueryRowContext(ctx, `
			SELECT user_id, expires_at, revoked, replaced_by_jti
			FROM refresh_tokens
			WHERE jti = $1
			FOR UPDATE
		`, oldJTI).Scan(&ownerID, &expiresAt, &revoked, &replacedBy)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrRefreshInvalid
			}
			return fmt.Errorf("lock refresh token: %w", err)
		}

		if ownerID != userID {
			return ErrRefreshInvalid
		}
		if revoked {
			if replacedBy.Valid {
				return ErrRefreshReused
			}
			return ErrRefreshInvalid
		}
		if !now.Before(expiresAt.UTC()) {
			return ErrRefreshInvalid
		}

		next.UserID = userID
		if err := insertRefreshToken(ctx, tx, next, now); err != nil {
			return fmt.Errorf("insert rotated refresh token: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE refresh_tokens
			SET revoked = TRUE, revoked_at = $2, replaced_by_jti = $3
			WHERE jti = $1 AND revoked = FALSE
		`, oldJTI, now, next.JTI)
		if err != nil {
			return fmt.Errorf("revoke rotated refresh token: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("revoke rotated refresh token rows affected: %w", err)
		}
		if affected != 1 {
			return ErrRefreshInvalid
		}
		return nil
	})
}

// RevokeChain revokes jti and every successor reachable through replaced_by_jti.
func (l *PostgresLedger) RevokeChain(ctx context.Context, jti string) (int64, error) {
	res, err := l.db.ExecContext(ctx, `
		WITH RECURSIVE chain AS (
			SELECT jti, replaced_by_jti
			FROM refresh_tokens
			WHERE jti = $1
			UNION ALL
			SELECT t.jti, t.replaced_by_jti
			FROM refresh_tokens t
			JOIN chain c ON t.jti = c.replaced_by_jti
		)
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2
		WHERE jti IN (SELECT jti FROM chain) AND revoked = FALSE
	`, jti, l.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("revoke refresh token chain: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke refresh token chain rows affected: %w", err)
	}
	return affected, nil
}

// CountExpiredActive reports ledger rows past expiry that were never revoked.
func (l *PostgresLedger) CountExpiredActive(ctx context.Context) (int64, error) {
	var count int64
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM refresh_tokens
		WHERE revoked = FALSE AND expires_at <= $1
	`, l.now().UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count expired refresh tokens: %w", err)
	}
	return count, nil
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	out := value.String
	return &out
}
