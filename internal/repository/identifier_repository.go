package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/resident-gate/internal/model"
)

// AddIdentifier claims address for residentID. The address is the primary
// key of network_identifiers, so two residents racing for the same address
// cannot both win. Claiming an address already owned by the same resident
// is a no-op and returns created=false.
func (r *IdentityRepo) AddIdentifier(ctx context.Context, residentID uint64, address string, at time.Time) (bool, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO network_identifiers (address, resident_id, added_at) VALUES (?, ?, ?)`,
		address, residentID, at.UTC())
	if err == nil {
		return true, nil
	}
	if !isDuplicate(err) {
		return false, fmt.Errorf("insert identifier: %w", err)
	}
	var owner uint64
	err = r.db.QueryRowContext(ctx,
		`SELECT resident_id FROM network_identifiers WHERE address = ? LIMIT 1`, address).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		// Removed between our insert and this read; report it as taken
		// rather than retrying against a moving target.
		return false, ErrConflict
	}
	if err != nil {
		return false, err
	}
	if owner != residentID {
		r.log.Info("identifier claim rejected",
			zap.String("address", address),
			zap.Uint64("resident_id", residentID),
		)
		return false, ErrConflict
	}
	return false, nil
}

// RemoveIdentifier releases address. It returns ErrNotFound unless the
// address is owned by residentID.
func (r *IdentityRepo) RemoveIdentifier(ctx context.Context, residentID uint64, address string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM network_identifiers WHERE address = ? AND resident_id = ?`, address, residentID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IdentifiersByResident lists the addresses owned by one resident.
func (r *IdentityRepo) IdentifiersByResident(ctx context.Context, residentID uint64) ([]model.NetworkIdentifier, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT address, resident_id, added_at FROM network_identifiers WHERE resident_id = ? ORDER BY added_at, address`,
		residentID)
	if err != nil {
		return nil, err
	}
	return scanIdentifiers(rows)
}

// AllIdentifiers lists every claimed address. The presence tracker builds
// its owner index from this.
func (r *IdentityRepo) AllIdentifiers(ctx context.Context) ([]model.NetworkIdentifier, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT address, resident_id, added_at FROM network_identifiers ORDER BY resident_id, address`)
	if err != nil {
		return nil, err
	}
	return scanIdentifiers(rows)
}

func scanIdentifiers(rows *sql.Rows) ([]model.NetworkIdentifier, error) {
	defer rows.Close()
	var out []model.NetworkIdentifier
	for rows.Next() {
		var ni model.NetworkIdentifier
		if err := rows.Scan(&ni.Address, &ni.ResidentID, &ni.AddedAt); err != nil {
			return nil, err
		}
		ni.AddedAt = ni.AddedAt.UTC()
		out = append(out, ni)
	}
	return out, rows.Err()
}

// AddSSHKey stores a normalized key for a resident. The (resident_id,
// key_hash) unique key makes repeated adds a no-op with created=false.
func (r *IdentityRepo) AddSSHKey(ctx context.Context, key model.SSHKey) (bool, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO ssh_keys (resident_id, key_hash, key_material, added_at) VALUES (?, ?, ?, ?)`,
		key.ResidentID, sshKeyHash(key.KeyMaterial), key.KeyMaterial, key.AddedAt.UTC())
	if err != nil {
		if isDuplicate(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert ssh key: %w", err)
	}
	return true, nil
}

// SSHKeysByResident lists a resident's keys in the order they were added.
func (r *IdentityRepo) SSHKeysByResident(ctx context.Context, residentID uint64) ([]model.SSHKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT resident_id, key_material, added_at FROM ssh_keys WHERE resident_id = ? ORDER BY id`, residentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SSHKey
	for rows.Next() {
		var k model.SSHKey
		if err := rows.Scan(&k.ResidentID, &k.KeyMaterial, &k.AddedAt); err != nil {
			return nil, err
		}
		k.AddedAt = k.AddedAt.UTC()
		out = append(out, k)
	}
	return out, rows.Err()
}

func sshKeyHash(material string) string {
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}
