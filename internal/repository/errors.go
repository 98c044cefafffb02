// Package repository defines the persistence layer for residents, their
// network identifiers and keys, presence events and access tokens. Two
// implementations share one contract: MySQL-backed repos for production and
// memory-backed repos for tests and database-less runs.
//
// The sentinel values below let the service layer distinguish failure
// scenarios without inspecting driver errors.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the addressed record does not exist, or
// exists but is not owned by the caller (identifier removal).
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a uniqueness rule would be violated, such
// as a second resident with the same telegram id or an address already
// claimed by someone else.
var ErrConflict = errors.New("conflict")

// ErrRevoked, ErrExpired and ErrExhausted are returned by token redemption
// in that priority order.
var (
	ErrRevoked   = errors.New("token revoked")
	ErrExpired   = errors.New("token expired")
	ErrExhausted = errors.New("token exhausted")
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
