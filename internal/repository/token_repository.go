package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/resident-gate/internal/model"
)

// TokenRepo persists access tokens keyed by the SHA-256 hash of the raw id.
type TokenRepo struct {
	db  *sql.DB
	log *zap.Logger
}

func NewTokenRepo(db *sql.DB, log *zap.Logger) *TokenRepo { return &TokenRepo{db: db, log: log} }

const tokenColumns = `token_hash, issuer_id, kind, expires_at, uses_remaining, max_uses, revoked, created_at`

// Create inserts a new token row.
func (r *TokenRepo) Create(ctx context.Context, t model.AccessToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO access_tokens (`+tokenColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Hash, t.IssuerID, t.Kind.String(), t.ExpiresAt.UTC(), t.UsesRemaining, t.MaxUses, t.Revoked, t.CreatedAt.UTC())
	if err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// GetByHash loads a token regardless of its state.
func (r *TokenRepo) GetByHash(ctx context.Context, hash string) (model.AccessToken, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM access_tokens WHERE token_hash = ? LIMIT 1`, hash)
	return scanToken(row)
}

// Redeem consumes one use of the token identified by hash. The row is
// locked with SELECT ... FOR UPDATE for the whole check-and-decrement, so
// two transactions racing on the last use serialize: the second one reads
// uses_remaining = 0 and gets ErrExhausted. Checks run in the order
// not found, revoked, expired, exhausted. The returned token reflects the
// state after the decrement.
func (r *TokenRepo) Redeem(ctx context.Context, hash string, now time.Time) (model.AccessToken, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.AccessToken{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM access_tokens WHERE token_hash = ? FOR UPDATE`, hash)
	t, err := scanToken(row)
	if err != nil {
		return model.AccessToken{}, err
	}
	if err := usable(t, now); err != nil {
		return model.AccessToken{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE access_tokens SET uses_remaining = uses_remaining - 1 WHERE token_hash = ?`, hash); err != nil {
		return model.AccessToken{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.AccessToken{}, err
	}
	committed = true
	t.UsesRemaining--
	return t, nil
}

// Refund gives back one use, capped at max_uses. It compensates a
// redemption whose door signal never went out.
func (r *TokenRepo) Refund(ctx context.Context, hash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE access_tokens SET uses_remaining = LEAST(uses_remaining + 1, max_uses) WHERE token_hash = ?`, hash)
	return err
}

// Revoke marks a token as revoked. Revoking twice is harmless.
func (r *TokenRepo) Revoke(ctx context.Context, hash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE access_tokens SET revoked = 1 WHERE token_hash = ? AND revoked = 0`, hash)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		if _, err := r.GetByHash(ctx, hash); err != nil {
			return err
		}
	}
	return nil
}

// DeleteExpired removes tokens that expired before the given instant and
// returns how many rows went away.
func (r *TokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM access_tokens WHERE expires_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListActiveByIssuer lists tokens of one issuer that can still be redeemed.
func (r *TokenRepo) ListActiveByIssuer(ctx context.Context, issuerID uint64, now time.Time) ([]model.AccessToken, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM access_tokens
		 WHERE issuer_id = ? AND revoked = 0 AND uses_remaining > 0 AND expires_at >= ?
		 ORDER BY created_at`, issuerID, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AccessToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// usable applies the redemption checks in priority order. A token is
// expired only strictly after expires_at.
func usable(t model.AccessToken, now time.Time) error {
	switch {
	case t.Revoked:
		return ErrRevoked
	case now.After(t.ExpiresAt):
		return ErrExpired
	case t.UsesRemaining <= 0:
		return ErrExhausted
	}
	return nil
}

func scanToken(row rowScanner) (model.AccessToken, error) {
	var (
		t    model.AccessToken
		kind string
	)
	err := row.Scan(&t.Hash, &t.IssuerID, &kind, &t.ExpiresAt, &t.UsesRemaining, &t.MaxUses, &t.Revoked, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AccessToken{}, ErrNotFound
	}
	if err != nil {
		return model.AccessToken{}, err
	}
	t.Kind = model.ParseTokenKind(kind)
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}
