// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const MaxPeerIDLen = 64

var (
	ErrPeerIDEmpty   = errors.New("peer id empty")
	ErrPeerIDTooLong = errors.New("peer id too long")
)

// PeerID is the opaque endpoint identifier issued by the rendezvous service.
// A reconnect yields a fresh value; the old one is dead the moment the
// registration lapses.
type PeerID string

// ParsePeerID trims and validates a user-supplied remote identifier.
func ParsePeerID(raw string) (PeerID, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrPeerIDEmpty
	}
	if len(s) > MaxPeerIDLen {
		return "", ErrPeerIDTooLong
	}
	return PeerID(s), nil
}

// Direction tells which side opened the call.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}
