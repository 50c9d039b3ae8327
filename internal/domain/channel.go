package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"time"
)

// ChannelStatus tracks the channel lifecycle.
type ChannelStatus string

const (
	ChannelOpening ChannelStatus = "OPENING"
	ChannelOpen    ChannelStatus = "OPEN"
	ChannelClosing ChannelStatus = "CLOSING"
	ChannelClosed  ChannelStatus = "CLOSED"
)

// Channel is a bilateral off-chain ledger between two parties.
// Invariant: LockedA + LockedB never changes while the channel lives;
// updates only move value between BalanceA and BalanceB.
type Channel struct {
	ID           string        `json:"id"`
	ParticipantA string        `json:"participant_a"` // Hex ed25519 public key
	ParticipantB string        `json:"participant_b"`
	LockedA      int64         `json:"locked_a"` // Milli-credits escrowed on the ledger
	LockedB      int64         `json:"locked_b"`
	Version      uint64        `json:"version"` // Strictly increasing, never resets
	BalanceA     int64         `json:"balance_a"`
	BalanceB     int64         `json:"balance_b"`
	Status       ChannelStatus `json:"status"`
	OpenedAt     time.Time     `json:"opened_at"`
	ClosedAt     time.Time     `json:"closed_at,omitempty"`
}

// TotalLocked returns the escrowed sum the conservation invariant protects.
func (c *Channel) TotalLocked() int64 {
	return c.LockedA + c.LockedB
}

// SignedState is one dual-signed snapshot of a channel's balances.
// The highest version carrying both valid signatures is authoritative.
// Both parties hold every state they co-signed; an old one resurfacing
// at close time is what fraud proofs punish.
type SignedState struct {
	ChannelID string `json:"channel_id"`
	Version   uint64 `json:"version"`
	BalanceA  int64  `json:"balance_a"`
	BalanceB  int64  `json:"balance_b"`
	SigA      []byte `json:"sig_a"`
	SigB      []byte `json:"sig_b"`
}

// Digest returns the canonical bytes both parties sign: a SHA-256 over
// big-endian fixed-width fields. Balances are encoded as uint64 bit
// patterns; they are validated non-negative before signing.
func (s *SignedState) Digest() []byte {
	h := sha256.New()
	h.Write([]byte(s.ChannelID))

	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], s.Version)
	binary.BigEndian.PutUint64(buf[8:16], uint64(s.BalanceA))
	binary.BigEndian.PutUint64(buf[16:24], uint64(s.BalanceB))
	h.Write(buf[:])

	sum := h.Sum(nil)
	return sum
}
