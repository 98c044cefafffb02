package model

import "time"

// TokenKind distinguishes resident door opens from guest capabilities.
type TokenKind uint8

const (
	TokenResidentImmediate TokenKind = iota + 1
	TokenGuest
)

func (k TokenKind) String() string {
	switch k {
	case TokenResidentImmediate:
		return "RESIDENT_IMMEDIATE"
	case TokenGuest:
		return "GUEST"
	}
	return "UNKNOWN"
}

// ParseTokenKind reads the value stored in access_tokens.kind.
func ParseTokenKind(s string) TokenKind {
	switch s {
	case "RESIDENT_IMMEDIATE":
		return TokenResidentImmediate
	case "GUEST":
		return TokenGuest
	}
	return 0
}

// AccessToken models an entry in the `access_tokens` table. The raw token
// id is never stored; rows are keyed by the SHA-256 hash of it. ID is only
// populated on the value returned at issuance.
//
// Fields:
//
//	ID            – raw token id handed to the issuer (not persisted).
//	Hash          – hex SHA-256 of ID, primary key.
//	IssuerID      – resident who issued the token.
//	Kind          – GUEST for issued tokens.
//	ExpiresAt     – redemption fails after this instant.
//	UsesRemaining – redemptions left; never negative.
//	MaxUses       – uses granted at issuance.
//	Revoked       – set by RevokeToken; blocks future redemptions only.
//	CreatedAt     – timestamp of issuance.
type AccessToken struct {
	ID            string
	Hash          string
	IssuerID      uint64
	Kind          TokenKind
	ExpiresAt     time.Time
	UsesRemaining int
	MaxUses       int
	Revoked       bool
	CreatedAt     time.Time
}

// Outcome of a door-open attempt recorded in the audit log.
type Outcome string

const (
	OutcomeOpened   Outcome = "OPENED"
	OutcomeFailed   Outcome = "FAILED"
	OutcomeRejected Outcome = "REJECTED"
)

// DoorOpenRequest is an ephemeral record of one door-open attempt. It is
// only written to the audit stream, never to the primary store. Exactly one
// of ActorResidentID and ActorTokenHash is set.
type DoorOpenRequest struct {
	RequestID       string    `json:"request_id"`
	ActorResidentID uint64    `json:"actor_resident_id,omitempty"`
	ActorTokenHash  string    `json:"actor_token_hash,omitempty"`
	At              time.Time `json:"at"`
	Outcome         Outcome   `json:"outcome"`
	Reason          string    `json:"reason,omitempty"`
}
