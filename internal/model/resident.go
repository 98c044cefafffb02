package model

import (
	"strings"
	"time"
)

// Role is the stored role of a resident. Roles are ordered: every
// capability of RoleResident is also held by RoleAdmin.
type Role uint8

const (
	RoleResident Role = iota + 1
	RoleAdmin
)

// String returns the value stored in residents.role.
func (r Role) String() string {
	switch r {
	case RoleResident:
		return "RESIDENT"
	case RoleAdmin:
		return "ADMIN"
	}
	return "UNKNOWN"
}

// Level maps a role onto the permission order.
func (r Role) Level() Level {
	switch r {
	case RoleAdmin:
		return LevelAdmin
	case RoleResident:
		return LevelResident
	}
	return LevelPublic
}

// ParseRole accepts the stored form case-insensitively.
func ParseRole(s string) (Role, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RESIDENT":
		return RoleResident, true
	case "ADMIN":
		return RoleAdmin, true
	}
	return 0, false
}

// Level is the authorization tier used by the permission gate.
// The zero value is LevelPublic, so an unresolved caller never gains access.
type Level uint8

const (
	LevelPublic Level = iota
	LevelResident
	LevelAdmin
)

func (l Level) String() string {
	switch l {
	case LevelResident:
		return "resident"
	case LevelAdmin:
		return "admin"
	}
	return "public"
}

// AtLeast reports whether l grants everything min grants.
func (l Level) AtLeast(min Level) bool { return l >= min }

// Resident represents a row in the `residents` table.
//
// Fields:
//
//	ID                – primary key identifier.
//	TelegramID        – chat identity; unique across residents.
//	DirectoryUsername – account name in the directory service.
//	Role              – RESIDENT or ADMIN.
//	CreatedAt         – timestamp of registration.
type Resident struct {
	ID                uint64    // residents.id
	TelegramID        int64     // residents.telegram_id
	DirectoryUsername string    // residents.directory_username
	Role              Role      // residents.role
	CreatedAt         time.Time // residents.created_at
}
