package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestParsePeerIDTrims(t *testing.T) {
	id, err := ParsePeerID("  bob \n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != "bob" {
		t.Fatalf("expected bob, got %q", id)
	}
}

func TestParsePeerIDRejectsBlank(t *testing.T) {
	if _, err := ParsePeerID("   "); !errors.Is(err, ErrPeerIDEmpty) {
		t.Fatalf("expected ErrPeerIDEmpty, got %v", err)
	}
}

func TestParsePeerIDRejectsOverlong(t *testing.T) {
	raw := strings.Repeat("x", MaxPeerIDLen+1)
	if _, err := ParsePeerID(raw); !errors.Is(err, ErrPeerIDTooLong) {
		t.Fatalf("expected ErrPeerIDTooLong, got %v", err)
	}
}
