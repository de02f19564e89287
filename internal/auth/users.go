package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tournaments-backend/internal/db"
)

const userColumns = `id, email, password_hash, role, is_active, avatar_url, created_at, updated_at`

type PostgresUserStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresUserStore(database *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: database, now: time.Now}
}

// Create inserts the user and its role profile in one transaction.
func (r *PostgresUserStore) Create(ctx context.Context, input NewUser) (User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := r.now().UTC()
	user := User{
		ID:           id.String(),
		Email:        input.Email,
		PasswordHash: input.PasswordHash,
		Role:         input.Role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = db.WithTx(ctx, r.db, nil, func(ctx context.Context, tx db.DBTX) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, email, password_hash, role, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, TRUE, $5, $5)
		`, user.ID, user.Email, user.PasswordHash, string(user.Role), now); err != nil {
			if db.IsUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("insert user: %w", err)
		}

		return insertProfile(ctx, tx, user.ID, user.Role, input.Nickname)
	})
	if err != nil {
		return User{}, err
	}

	return user, nil
}

func insertProfile(ctx context.Context, tx db.DBTX, userID string, role Role, nickname *string) error {
	var err error
	switch role {
	case RolePlayer:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO player_profiles (user_id, nickname)
			VALUES ($1, $2)
		`, userID, nickname)
	case RoleCoach:
		_, err = tx.ExecContext(ctx, `INSERT INTO coach_profiles (user_id) VALUES ($1)`, userID)
	case RoleAdmin:
		_, err = tx.ExecContext(ctx, `INSERT INTO admin_profiles (user_id) VALUES ($1)`, userID)
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalid, role)
	}
	if err != nil {
		return fmt.Errorf("insert %s profile: %w", role, err)
	}
	return nil
}

func (r *PostgresUserStore) FindByEmail(ctx context.Context, email string) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1
	`, email)
	return scanUser(row, "query user by email")
}

func (r *PostgresUserStore) FindByID(ctx context.Context, id string) (User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return User{}, ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row, "query user by id")
}

func (r *PostgresUserStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, id, passwordHash, r.now().UTC())
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresUserStore) SetAvatarURL(ctx context.Context, id, avatarURL string) (User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return User{}, ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET avatar_url = $2, updated_at = $3
		WHERE id = $1 AND is_active = TRUE
		RETURNING `+userColumns, id, avatarURL, r.now().UTC())
	return scanUser(row, "update avatar url")
}

// EnsureAdmin creates the bootstrap admin or resets its password and role.
func (r *PostgresUserStore) EnsureAdmin(ctx context.Context, email, passwordHash string) error {
	now := r.now().UTC()

	return db.WithTx(ctx, r.db, nil, func(ctx context.Context, tx db.DBTX) error {
		var existingID string
		err := tx.QueryRowContext(ctx, `
			SELECT id
			FROM users
			WHERE email = $1
			FOR UPDATE
		`, email).Scan(&existingID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			id, err := uuid.NewV7()
			if err != nil {
				return fmt.Errorf("generate uuid v7: %w", err)
			}
			existingID = id.String()
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO users (id, email, password_hash, role, is_active, created_at, updated_at)
				VALUES ($1, $2, $3, 'admin', TRUE, $4, $4)
			`, existingID, email, passwordHash, now); err != nil {
				return fmt.Errorf("insert admin user: %w", err)
			}
		case err != nil:
			return fmt.Errorf("select admin user: %w", err)
		default:
			if _, err := tx.ExecContext(ctx, `
				UPDATE users
				SET password_hash = $2, role = 'admin', is_active = TRUE, updated_at = $3
				WHERE id = $1
			`, existingID, passwordHash, now); err != nil {
				return fmt.Errorf("update admin user: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO admin_profiles (user_id)
			VALUES ($1)
			ON CONFLICT (user_id) DO NOTHING
		`, existingID); err != nil {
			return fmt.Errorf("insert admin profile: %w", err)
		}
		return nil
	})
}

func scanUser(row *sql.Row, action string) (User, error) {
	var (
		user      User
		role      string
		avatarURL sql.NullString
	)
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &role, &user.IsActive, &avatarURL, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("%s: %w", action, err)
	}

	user.Role = Role(role)
	if avatarURL.Valid {
		value := avatarURL.String
		user.AvatarURL = &value
	}
	return user, nil
}
