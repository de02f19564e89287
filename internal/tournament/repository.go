package tournament

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tournaments-backend/internal/db"
)

const columns = `id, name, description, status, start_at, end_at, price_client, price_player, is_active, created_at, updated_at`

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// List returns active tournaments, newest first.
func (r *Repository) List(ctx context.Context, page Page) ([]Tournament, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+columns+`
		FROM tournaments
		WHERE is_active = TRUE
		ORDER BY created_at DESC
		OFFSET $1 LIMIT $2
	`, page.Skip, page.Limit)
	if err != nil {
		return nil, fmt.Errorf("query tournaments: %w", err)
	}
	defer rows.Close()

	tournaments := make([]Tournament, 0)
	for rows.Next() {
		t, err := scanTournament(rows)
		if err != nil {
			return nil, err
		}
		tournaments = append(tournaments, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tournaments: %w", err)
	}

	return tournaments, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Tournament, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+columns+`
		FROM tournaments
		WHERE id = $1 AND is_active = TRUE
	`, id)
	return scanTournament(row)
}

func (r *Repository) Create(ctx context.Context, input CreateInput) (Tournament, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Tournament{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	active := true
	if input.IsActive != nil {
		active = *input.IsActive
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO tournaments (id, name, description, status, start_at, end_at, price_client, price_player, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING `+columns,
		id.String(), input.Name, input.Description, input.Status, input.StartAt, input.EndAt,
		input.PriceClient, input.PricePlayer, active, r.now().UTC(),
	)
	t, err := scanTournament(row)
	if err != nil {
		if isDatesViolation(err) {
			return Tournament{}, ErrInvalidDates
		}
		return Tournament{}, fmt.Errorf("insert tournament: %w", err)
	}
	return t, nil
}

func (r *Repository) Update(ctx context.Context, id string, input UpdateInput) (Tournament, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE tournaments
		SET
			name = COALESCE($2, name),
			description = COALESCE($3, description),
			status = COALESCE($4, status),
			start_at = COALESCE($5, start_at),
			end_at = COALESCE($6, end_at),
			price_client = COALESCE($7, price_client),
			price_player = COALESCE($8, price_player),
			is_active = COALESCE($9, is_active),
			updated_at = $10
		WHERE id = $1
		RETURNING `+columns,
		id, input.Name, input.Description, input.Status, input.StartAt, input.EndAt,
		input.PriceClient, input.PricePlayer, input.IsActive, r.now().UTC(),
	)
	t, err := scanTournament(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Tournament{}, err
		}
		if isDatesViolation(err) {
			return Tournament{}, ErrInvalidDates
		}
		return Tournament{}, fmt.Errorf("update tournament: %w", err)
	}
	return t, nil
}

// Deactivate hides the tournament from public listings. Rows are kept.
func (r *Repository) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tournaments
		SET is_active = FALSE, updated_at = $2
		WHERE id = $1 AND is_active = TRUE
	`, id, r.now().UTC())
	if err != nil {
		return fmt.Errorf("deactivate tournament: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// End marks the tournament finished and hides it. Ending twice is not an error.
func (r *Repository) End(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tournaments
		SET status = $2, is_active = FALSE, updated_at = $3
		WHERE id = $1
	`, id, FinishedStatus, r.now().UTC())
	if err != nil {
		return fmt.Errorf("end tournament: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func isDatesViolation(err error) bool {
	return db.IsCheckViolation(err) && db.ConstraintName(err) == "tournaments_dates_check"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTournament(row rowScanner) (Tournament, error) {
	var t Tournament
	var startAt, endAt sql.NullTime
	err := row.Scan(
		&t.ID, &t.Name, &t.Description, &t.Status, &startAt, &endAt,
		&t.PriceClient, &t.PricePlayer, &t.IsActive, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tournament{}, ErrNotFound
		}
		return Tournament{}, fmt.Errorf("scan tournament: %w", err)
	}
	if startAt.Valid {
		t.StartAt = &startAt.Time
	}
	if endAt.Valid {
		t.EndAt = &endAt.Time
	}
	return t, nil
}
