package bridgeapi

import (
	"testing"
	"time"
)

func TestClientSessionRegistryValidatesOwner(t *testing.T) {
	reg := newClientSessionRegistry(time.Hour)
	id := reg.Allocate(1)

	if !reg.Validate(id, 1) {
		t.Fatal("expected the issuing user to validate its own session")
	}
	if reg.Validate(id, 2) {
		t.Fatal("a session must not validate for a different user")
	}
	if reg.Validate("nonexistent", 1) {
		t.Fatal("an unknown session id must not validate")
	}
}

func TestClientSessionRegistryExpiresIdleSessions(t *testing.T) {
	reg := newClientSessionRegistry(10 * time.Millisecond)
	id := reg.Allocate(1)

	time.Sleep(20 * time.Millisecond)
	if reg.Validate(id, 1) {
		t.Fatal("expected an idle session past the TTL to be rejected")
	}
}
