package core

import (
	"context"

	"github.com/dkeye/Duet/internal/domain"
)

// Signaler is the app-facing contract of the rendezvous connection.
// Owned by the adapter; the adapter must Shutdown() it.
//
// All callbacks fire on the adapter's delivery goroutine. OnError and
// OnDisconnected may both fire for the same root cause, in either order.
type Signaler interface {
	// Register connects to the rendezvous service and returns the identity
	// it issued. Fails with domain.ErrSignalingUnavailable when the service
	// is unreachable and domain.ErrTransportUnsupported when the required
	// transport capability is absent.
	Register(ctx context.Context) (domain.PeerID, error)

	// Reconnect resumes a lapsed registration. Idempotent when already
	// registered. The service issues a fresh PeerID.
	Reconnect(ctx context.Context) error

	// Initiate opens an outbound negotiation towards remote, sending src.
	Initiate(remote domain.PeerID, src MediaSource) (Negotiation, error)

	// Shutdown releases the registration and any outstanding negotiation
	// handles. Safe to call multiple times.
	Shutdown()

	// OnIncomingCall fires exactly once per inbound negotiation attempt
	// while registered.
	OnIncomingCall(func(Negotiation, domain.PeerID))
	// OnRegistered fires after every successful registration, initial or
	// resumed, with the issued identity.
	OnRegistered(func(domain.PeerID))
	OnDisconnected(func())
	OnClosed(func())
	OnError(func(domain.SignalErrorKind))
}
