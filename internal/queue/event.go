// Package queue defines message payloads exchanged over the message broker,
// the publisher used by the services and the audit log consumer.
package queue

// Routing keys double as durable queue names on the default exchange.
const (
	RoutingPresenceTransitions = "presence.transitions"
	RoutingAccessEvents        = "access.events"
	RoutingAccessAudit         = "access.audit"
)

// PresenceTransitionEvent is published once per status change after the
// tick that produced it has been persisted.
type PresenceTransitionEvent struct {
	Seq        uint64 `json:"seq"`
	ResidentID uint64 `json:"resident_id"`
	Status     string `json:"status"`
	At         string `json:"at"`
}

// Token lifecycle operations carried by TokenEvent.Op.
const (
	TokenIssued   = "issued"
	TokenRedeemed = "redeemed"
	TokenRevoked  = "revoked"
)

// TokenEvent describes a guest token lifecycle step. Only a short prefix of
// the token hash is included; the raw id never leaves the access service.
type TokenEvent struct {
	Op            string `json:"op"`
	HashPrefix    string `json:"hash_prefix"`
	IssuerID      uint64 `json:"issuer_id"`
	ActorID       uint64 `json:"actor_id,omitempty"`
	Kind          string `json:"kind"`
	UsesRemaining int    `json:"uses_remaining"`
	ExpiresAt     string `json:"expires_at"`
	At            string `json:"at"`
}
