package tournament

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tournamentID = "0195f3a0-bbbb-7000-8000-000000000001"

var rowColumns = []string{"id", "name", "description", "status", "start_at", "end_at", "price_client", "price_player", "is_active", "created_at", "updated_at"}

func newRepoWithMock(t *testing.T) (*Repository, sqlmock.Sqlmock, time.Time) {
	t.Helper()
	database, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	repo := NewRepository(database)
	repo.now = func() time.Time { return now }
	return repo, mock, now
}

func TestRepository_ListPagesActiveOnly(t *testing.T) {
	repo, mock, now := newRepoWithMock(t)
	start := now.Add(24 * time.Hour)

	mock.ExpectQuery(`FROM tournaments\s+WHERE is_active = TRUE\s+ORDER BY created_at DESC\s+OFFSET \$1 LIMIT \$2`).
		WithArgs(10, 5).
		WillReturnRows(sqlmock.NewRows(rowColumns).
			AddRow(tournamentID, "Spring Cup", "", "draft", start, nil, 10.5, 0.0, true, now, now))

	tournaments, err := repo.List(context.Background(), Page{Skip: 10, Limit: 5})
	require.NoError(t, err)
	require.Len(t, tournaments, 1)
	assert.Equal(t, "Spring Cup", tournaments[0].Name)
	require.NotNil(t, tournaments[0].StartAt)
	assert.Equal(t, start, *tournaments[0].StartAt)
	assert.Nil(t, tournaments[0].EndAt)
	assert.Equal(t, 10.5, tournaments[0].PriceClient)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetNotFound(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectQuery("FROM tournaments").WithArgs(tournamentID).WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), tournamentID)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_CreateDefaultsActive(t *testing.T) {
	repo, mock, now := newRepoWithMock(t)

	mock.ExpectQuery(`INSERT INTO tournaments .* RETURNING`).
		WithArgs(sqlmock.AnyArg(), "Spring Cup", "desc", "draft", nil, nil, 0.0, 5.0, true, now).
		WillReturnRows(sqlmock.NewRows(rowColumns).
			AddRow(tournamentID, "Spring Cup", "desc", "draft", nil, nil, 0.0, 5.0, true, now, now))

	tournament, err := repo.Create(context.Background(), CreateInput{
		Name: "Spring Cup", Description: "desc", Status: "draft", PricePlayer: 5,
	})
	require.NoError(t, err)
	assert.True(t, tournament.IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_UpdateKeepsUnsetFields(t *testing.T) {
	repo, mock, now := newRepoWithMock(t)
	status := "open"

	mock.ExpectQuery(`name = COALESCE\(\$2, name\)`).
		WithArgs(tournamentID, nil, nil, &status, nil, nil, nil, nil, nil, now).
		WillReturnRows(sqlmock.NewRows(rowColumns).
			AddRow(tournamentID, "Spring Cup", "", "open", nil, nil, 0.0, 0.0, true, now, now))

	tournament, err := repo.Update(context.Background(), tournamentID, UpdateInput{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, "open", tournament.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_UpdateMissing(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectQuery("UPDATE tournaments").WillReturnError(sql.ErrNoRows)

	_, err := repo.Update(context.Background(), tournamentID, UpdateInput{})
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Deactivate(t *testing.T) {
	repo, mock, now := newRepoWithMock(t)

	mock.ExpectExec(`SET is_active = FALSE, updated_at = \$2\s+WHERE id = \$1 AND is_active = TRUE`).
		WithArgs(tournamentID, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET is_active = FALSE").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Deactivate(context.Background(), tournamentID))
	require.ErrorIs(t, repo.Deactivate(context.Background(), tournamentID), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_UpdateRejectsEndBeforeStoredStart(t *testing.T) {
	repo, mock, now := newRepoWithMock(t)
	end := now.Add(-48 * time.Hour)

	mock.ExpectQuery("UPDATE tournaments").
		WithArgs(tournamentID, nil, nil, nil, nil, end, nil, nil, nil, now).
		WillReturnError(&pgconn.PgError{Code: "23514", ConstraintName: "tournaments_dates_check"})

	_, err := repo.Update(context.Background(), tournamentID, UpdateInput{EndAt: &end})
	require.ErrorIs(t, err, ErrInvalidDates)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_CreateOtherCheckIsNotDates(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectQuery("INSERT INTO tournaments").
		WillReturnError(&pgconn.PgError{Code: "23514", ConstraintName: "tournaments_prices_check"})

	_, err := repo.Create(context.Background(), CreateInput{Name: "Cup", Status: "draft", PriceClient: -1})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidDates)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_End(t *testing.T) {
	repo, mock, now := newRepoWithMock(t)

	mock.ExpectExec(`SET status = \$2, is_active = FALSE, updated_at = \$3\s+WHERE id = \$1`).
		WithArgs(tournamentID, FinishedStatus, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.End(context.Background(), tournamentID))
	require.ErrorIs(t, repo.End(context.Background(), tournamentID), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
