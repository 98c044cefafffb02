package model

import (
	"errors"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// NetworkIdentifier is a hardware address claimed by one resident. An
// address can be owned by at most one resident at a time.
type NetworkIdentifier struct {
	Address    string    // network_identifiers.address, AA:BB:CC:DD:EE:FF
	ResidentID uint64    // network_identifiers.resident_id
	AddedAt    time.Time // network_identifiers.added_at
}

// SSHKey is a public key registered by a resident. Only the key type and
// base64 body are kept; comments are dropped on normalization.
type SSHKey struct {
	ResidentID  uint64
	KeyMaterial string
	AddedAt     time.Time
}

var (
	ErrInvalidMAC    = errors.New("not a 6-octet hardware address")
	ErrInvalidSSHKey = errors.New("not a recognized public key encoding")
)

// ParseMAC validates a 6-octet hardware address and returns it in upper-case
// colon form. EUI-64 and InfiniBand addresses accepted by net.ParseMAC are
// rejected.
func ParseMAC(raw string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(raw))
	if err != nil || len(hw) != 6 {
		return "", ErrInvalidMAC
	}
	return strings.ToUpper(hw.String()), nil
}

// NormalizeSSHKey parses one authorized_keys line and returns "<type> <base64>".
func NormalizeSSHKey(raw string) (string, error) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.ContainsAny(line, "\r\n") {
		return "", ErrInvalidSSHKey
	}
	pub, _, options, _, err := ssh.ParseAuthorizedKey([]byte(line))
	if err != nil || len(options) > 0 {
		return "", ErrInvalidSSHKey
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub))), nil
}
