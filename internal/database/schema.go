package database

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// schema is applied in order on startup. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS residents (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		telegram_id BIGINT NOT NULL,
		directory_username VARCHAR(32) NOT NULL DEFAULT '',
		role ENUM('RESIDENT','ADMIN') NOT NULL DEFAULT 'RESIDENT',
		created_at DATETIME NOT NULL,
		UNIQUE KEY uq_residents_telegram (telegram_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS network_identifiers (
		address CHAR(17) NOT NULL PRIMARY KEY,
		resident_id BIGINT UNSIGNED NOT NULL,
		added_at DATETIME NOT NULL,
		KEY idx_identifiers_resident (resident_id),
		CONSTRAINT fk_identifiers_resident FOREIGN KEY (resident_id) REFERENCES residents (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS ssh_keys (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		resident_id BIGINT UNSIGNED NOT NULL,
		key_hash CHAR(64) NOT NULL,
		key_material TEXT NOT NULL,
		added_at DATETIME NOT NULL,
		UNIQUE KEY uq_ssh_keys_resident_key (resident_id, key_hash),
		CONSTRAINT fk_ssh_keys_resident FOREIGN KEY (resident_id) REFERENCES residents (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS presence_events (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		resident_id BIGINT UNSIGNED NOT NULL,
		status ENUM('ONLINE','OFFLINE') NOT NULL,
		at DATETIME(3) NOT NULL,
		KEY idx_presence_resident_at (resident_id, at, id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS access_tokens (
		token_hash CHAR(64) NOT NULL PRIMARY KEY,
		issuer_id BIGINT UNSIGNED NOT NULL,
		kind ENUM('RESIDENT_IMMEDIATE','GUEST') NOT NULL,
		expires_at DATETIME(3) NOT NULL,
		uses_remaining INT NOT NULL,
		max_uses INT NOT NULL,
		revoked TINYINT(1) NOT NULL DEFAULT 0,
		created_at DATETIME(3) NOT NULL,
		KEY idx_tokens_issuer (issuer_id, expires_at),
		KEY idx_tokens_expires (expires_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	// widens tables created with second precision; a no-op afterwards
	`ALTER TABLE access_tokens
		MODIFY expires_at DATETIME(3) NOT NULL,
		MODIFY created_at DATETIME(3) NOT NULL`,
}

// Migrate creates any missing tables.
func Migrate(ctx context.Context, db *sql.DB, log *zap.Logger) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	log.Info("database schema ready", zap.Int("tables", len(schema)))
	return nil
}
