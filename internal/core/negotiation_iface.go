package core

// Connectivity is the underlying transport state of one negotiation.
type Connectivity int

const (
	ConnectivityNew Connectivity = iota
	ConnectivityConnecting
	ConnectivityConnected
	ConnectivityDisconnected
	ConnectivityFailed
	ConnectivityClosed
)

func (c Connectivity) String() string {
	switch c {
	case ConnectivityConnecting:
		return "connecting"
	case ConnectivityConnected:
		return "connected"
	case ConnectivityDisconnected:
		return "disconnected"
	case ConnectivityFailed:
		return "failed"
	case ConnectivityClosed:
		return "closed"
	default:
		return "new"
	}
}

// Negotiation is one attempted or established peer media connection.
// Owned by the adapter that created it; Close is idempotent.
type Negotiation interface {
	// Answer accepts an inbound negotiation, sending src back.
	Answer(src MediaSource) error
	// ReplaceTrack swaps the outbound track of the given kind in place.
	// Returns domain.ErrTransportUnsupported when the transport cannot
	// replace without renegotiating.
	ReplaceTrack(kind TrackKind, t Track) error
	// SetTrackEnabled gates outbound media of one kind on the live
	// transport: disabling detaches the payload from its sender so no RTP
	// leaves the box, enabling reattaches t. Returns
	// domain.ErrTransportUnsupported when there is no sender for the kind.
	SetTrackEnabled(kind TrackKind, t Track, enabled bool) error
	Connectivity() Connectivity
	Close()

	// OnRemoteStream fires when remote media starts arriving; a stream that
	// arrived before the callback was bound is replayed on bind. The
	// receiver owns the stream and must Close it when done.
	OnRemoteStream(func(RemoteStream))
	OnClose(func())
	OnError(func(error))
}

// RemoteStream is the inbound media of one call. Packets and Bytes report
// how much RTP arrived so far, across all tracks of the stream.
type RemoteStream interface {
	ID() string
	Packets() uint64
	Bytes() uint64
	Close()
}
