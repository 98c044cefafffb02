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

// IdentityRepo persists residents together with the records they own:
// network identifiers and ssh keys. Uniqueness of telegram ids and of
// addresses is enforced by unique keys, so concurrent writers serialize in
// the database rather than in process memory.
type IdentityRepo struct {
	db  *sql.DB
	log *zap.Logger
}

// NewIdentityRepo returns an IdentityRepo bound to the provided database.
func NewIdentityRepo(db *sql.DB, log *zap.Logger) *IdentityRepo {
	return &IdentityRepo{db: db, log: log}
}

const residentColumns = `id, telegram_id, directory_username, role, created_at`

// CreateResident inserts r and populates its ID. A duplicate telegram id
// yields ErrConflict.
func (r *IdentityRepo) CreateResident(ctx context.Context, res *model.Resident) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO residents (telegram_id, directory_username, role, created_at) VALUES (?, ?, ?, ?)`,
		res.TelegramID, res.DirectoryUsername, res.Role.String(), res.CreatedAt.UTC())
	if err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert resident: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	return nil
}

// ResidentByID fetches a resident by primary key.
func (r *IdentityRepo) ResidentByID(ctx context.Context, id uint64) (model.Resident, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+residentColumns+` FROM residents WHERE id = ? LIMIT 1`, id)
	return scanResident(row)
}

// ResidentByTelegramID fetches a resident by chat identity.
func (r *IdentityRepo) ResidentByTelegramID(ctx context.Context, telegramID int64) (model.Resident, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+residentColumns+` FROM residents WHERE telegram_id = ? LIMIT 1`, telegramID)
	return scanResident(row)
}

// ListResidents returns all residents, newest first.
func (r *IdentityRepo) ListResidents(ctx context.Context) ([]model.Resident, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+residentColumns+` FROM residents ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Resident
	for rows.Next() {
		res, err := scanResident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// SetRole changes a resident's role.
func (r *IdentityRepo) SetRole(ctx context.Context, id uint64, role model.Role) error {
	result, err := r.db.ExecContext(ctx, `UPDATE residents SET role = ? WHERE id = ?`, role.String(), id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// MySQL reports zero changed rows when the role is already set, so
		// confirm the row exists before calling it missing.
		if _, err := r.ResidentByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResident(row rowScanner) (model.Resident, error) {
	var (
		res       model.Resident
		role      string
		createdAt time.Time
	)
	err := row.Scan(&res.ID, &res.TelegramID, &res.DirectoryUsername, &role, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Resident{}, ErrNotFound
	}
	if err != nil {
		return model.Resident{}, err
	}
	parsed, ok := model.ParseRole(role)
	if !ok {
		return model.Resident{}, fmt.Errorf("resident %d: unknown role %q", res.ID, role)
	}
	res.Role = parsed
	res.CreatedAt = createdAt.UTC()
	return res, nil
}
