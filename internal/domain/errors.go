package domain

import "errors"

// Failure taxonomy shared by the app layer and the adapters. Media and
// registration failures abort startup; everything else degrades the current
// call, never the process.
var (
	ErrPermissionDenied     = errors.New("media permission denied")
	ErrDeviceNotFound       = errors.New("capture device not found")
	ErrSignalingUnavailable = errors.New("signaling service unavailable")
	ErrTransportUnsupported = errors.New("transport capability unsupported")
	ErrInitiationFailed     = errors.New("call initiation failed")
	ErrSessionBusy          = errors.New("another call is active")
	ErrTimeout              = errors.New("connection establishment timed out")
	ErrTransportFailed      = errors.New("media transport failed")
	ErrReconnectExhausted   = errors.New("signaling reconnect attempts exhausted")
	ErrNoTrackOfKind        = errors.New("no track of requested kind")
)

// SignalErrorKind classifies asynchronous errors raised by the signaling
// connection. Both OnError and OnDisconnected may fire for one root cause,
// in either order.
type SignalErrorKind int

const (
	KindUnknown SignalErrorKind = iota
	KindPeerUnavailable
	KindNetwork
	KindServer
	KindUnsupported
	KindSocket
	KindSocketClosed
)

func (k SignalErrorKind) String() string {
	switch k {
	case KindPeerUnavailable:
		return "peer_unavailable"
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindUnsupported:
		return "unsupported"
	case KindSocket:
		return "socket"
	case KindSocketClosed:
		return "socket_closed"
	default:
		return "unknown"
	}
}

// Err maps an asynchronous kind onto the sentinel taxonomy so callers can
// errors.Is against one vocabulary.
func (k SignalErrorKind) Err() error {
	switch k {
	case KindPeerUnavailable:
		return ErrInitiationFailed
	case KindNetwork, KindSocket, KindSocketClosed:
		return ErrSignalingUnavailable
	case KindServer:
		return ErrSignalingUnavailable
	case KindUnsupported:
		return ErrTransportUnsupported
	default:
		return ErrSignalingUnavailable
	}
}
