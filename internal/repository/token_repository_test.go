package repository

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/resident-gate/internal/model"
)

func setupMockTokenDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *TokenRepo) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewTokenRepo(db, zap.NewNop())
}

var tokenRowColumns = []string{
	"token_hash", "issuer_id", "kind", "expires_at", "uses_remaining", "max_uses", "revoked", "created_at",
}

func TestTokenRepoRedeem_Success(t *testing.T) {
	db, mock, repo := setupMockTokenDB(t)
	defer db.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM access_tokens WHERE token_hash = \? FOR UPDATE`).
		WithArgs("h1").
		WillReturnRows(sqlmock.NewRows(tokenRowColumns).
			AddRow("h1", int64(7), "GUEST", now.Add(time.Hour), int64(2), int64(2), false, now.Add(-time.Minute)))
	mock.ExpectExec(`UPDATE access_tokens SET uses_remaining = uses_remaining - 1 WHERE token_hash = \?`).
		WithArgs("h1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tok, err := repo.Redeem(context.Background(), "h1", now)
	require.NoError(t, err)
	assert.Equal(t, 1, tok.UsesRemaining)
	assert.Equal(t, uint64(7), tok.IssuerID)
	assert.Equal(t, model.TokenGuest, tok.Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepoRedeem_PriorityOrder(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name      string
		expiresAt time.Time
		uses      int64
		revoked   bool
		want      error
	}{
		{"revoked beats expired and exhausted", now.Add(-time.Hour), 0, true, ErrRevoked},
		{"expired beats exhausted", now.Add(-time.Second), 0, false, ErrExpired},
		{"expired with uses left", now.Add(-time.Second), 3, false, ErrExpired},
		{"exhausted", now.Add(time.Hour), 0, false, ErrExhausted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, mock, repo := setupMockTokenDB(t)
			defer db.Close()

			mock.ExpectBegin()
			mock.ExpectQuery(`FOR UPDATE`).
				WithArgs("h").
				WillReturnRows(sqlmock.NewRows(tokenRowColumns).
					AddRow("h", int64(1), "GUEST", tc.expiresAt, tc.uses, int64(3), tc.revoked, now.Add(-2*time.Hour)))
			mock.ExpectRollback()

			_, err := repo.Redeem(context.Background(), "h", now)
			assert.ErrorIs(t, err, tc.want)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestTokenRepoRedeem_NotFound(t *testing.T) {
	db, mock, repo := setupMockTokenDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("missing").WillReturnRows(sqlmock.NewRows(tokenRowColumns))
	mock.ExpectRollback()

	_, err := repo.Redeem(context.Background(), "missing", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepoDeleteExpired(t *testing.T) {
	db, mock, repo := setupMockTokenDB(t)
	defer db.Close()

	before := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM access_tokens WHERE expires_at < \?`).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.DeleteExpired(context.Background(), before)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryTokenRepo_RedeemLastUseRace(t *testing.T) {
	repo := NewMemoryTokenRepo()
	now := time.Now().UTC()
	require.NoError(t, repo.Create(context.Background(), model.AccessToken{
		Hash: "h", IssuerID: 1, Kind: model.TokenGuest,
		ExpiresAt: now.Add(time.Hour), UsesRemaining: 1, MaxUses: 1, CreatedAt: now,
	}))

	const racers = 16
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make(chan error, racers)
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := repo.Redeem(context.Background(), "h", now)
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var ok, exhausted int
	for err := range results {
		switch err {
		case nil:
			ok++
		case ErrExhausted:
			exhausted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, racers-1, exhausted)

	tok, err := repo.GetByHash(context.Background(), "h")
	require.NoError(t, err)
	assert.Equal(t, 0, tok.UsesRemaining)
}

func TestMemoryTokenRepo_RefundCapsAtMaxUses(t *testing.T) {
	repo := NewMemoryTokenRepo()
	now := time.Now().UTC()
	require.NoError(t, repo.Create(context.Background(), model.AccessToken{
		Hash: "h", ExpiresAt: now.Add(time.Hour), UsesRemaining: 2, MaxUses: 2, CreatedAt: now,
	}))
	require.NoError(t, repo.Refund(context.Background(), "h"))
	tok, err := repo.GetByHash(context.Background(), "h")
	require.NoError(t, err)
	assert.Equal(t, 2, tok.UsesRemaining)
}
