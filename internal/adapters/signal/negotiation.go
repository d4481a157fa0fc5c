package signal

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Duet/internal/adapters/rtc"
	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
)

// negotiation is one call attempt bound to a remote peer: the rtc connection
// plus the websocket legs that carry its SDP and candidates.
type negotiation struct {
	client *Client
	callID string
	remote domain.PeerID
	pc     *rtc.Conn

	mu             sync.Mutex
	offerSDP       string // inbound only, consumed by Answer
	closed         bool
	byeSent        bool
	pendingStreams []core.RemoteStream
	onRemote       func(core.RemoteStream)
	onClose        func()
	onError        func(error)
}

func newNegotiation(c *Client, callID string, remote domain.PeerID, pc *rtc.Conn, offerSDP string) *negotiation {
	n := &negotiation{
		client:   c,
		callID:   callID,
		remote:   remote,
		pc:       pc,
		offerSDP: offerSDP,
	}
	n.bind()
	return n
}

func (n *negotiation) bind() {
	n.pc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		msg := message{
			Type:      msgCandidate,
			To:        string(n.remote),
			CallID:    n.callID,
			Candidate: ci.Candidate,
		}
		if ci.SDPMid != nil {
			msg.SDPMid = *ci.SDPMid
		}
		if ci.SDPMLineIndex != nil {
			msg.SDPMLineIndex = *ci.SDPMLineIndex
		}
		n.client.send(msg)
	})

	n.pc.OnRemoteStream(n.deliverRemoteStream)

	n.pc.OnClose(func() {
		n.mu.Lock()
		fn := n.onClose
		n.mu.Unlock()
		if fn != nil {
			fn()
		}
	})

	n.pc.OnError(func(err error) {
		n.fail(err)
	})
}

// Answer attaches the local source, installs the buffered offer and relays a
// gathered answer back to the caller.
func (n *negotiation) Answer(src core.MediaSource) error {
	n.mu.Lock()
	offer := n.offerSDP
	n.offerSDP = ""
	n.mu.Unlock()
	if offer == "" {
		return fmt.Errorf("%w: nothing to answer", domain.ErrInitiationFailed)
	}

	if err := n.pc.AddSource(src); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInitiationFailed, err)
	}
	answer, err := n.pc.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInitiationFailed, err)
	}

	n.client.send(message{Type: msgAnswer, To: string(n.remote), CallID: n.callID, SDP: answer})
	log.Info().Str("module", "signal").Str("call", n.callID).Str("to", string(n.remote)).Msg("answer relayed")
	return nil
}

// deliverRemoteStream hands inbound media to the owner, buffering it while
// no callback is bound yet: the call layer binds after Initiate returns, and
// a fast remote can land media inside that window.
func (n *negotiation) deliverRemoteStream(rs core.RemoteStream) {
	n.mu.Lock()
	fn := n.onRemote
	if fn == nil {
		n.pendingStreams = append(n.pendingStreams, rs)
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()
	fn(rs)
}

func (n *negotiation) ReplaceTrack(kind core.TrackKind, t core.Track) error {
	return n.pc.ReplaceTrack(kind, t)
}

func (n *negotiation) SetTrackEnabled(kind core.TrackKind, t core.Track, enabled bool) error {
	return n.pc.SetTrackEnabled(kind, t, enabled)
}

func (n *negotiation) Connectivity() core.Connectivity {
	return n.pc.Connectivity()
}

func (n *negotiation) OnRemoteStream(fn func(core.RemoteStream)) {
	n.mu.Lock()
	n.onRemote = fn
	pending := n.pendingStreams
	n.pendingStreams = nil
	n.mu.Unlock()
	for _, rs := range pending {
		fn(rs)
	}
}

func (n *negotiation) OnClose(fn func()) {
	n.mu.Lock()
	n.onClose = fn
	n.mu.Unlock()
}

func (n *negotiation) OnError(fn func(error)) {
	n.mu.Lock()
	n.onError = fn
	n.mu.Unlock()
}

// Close tells the peer we are done and releases the transport. Idempotent.
func (n *negotiation) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	sendBye := !n.byeSent
	n.byeSent = true
	n.mu.Unlock()

	if sendBye {
		n.client.send(message{Type: msgBye, To: string(n.remote), CallID: n.callID})
	}
	n.client.removeCall(n.callID)
	n.pc.Close()
}

// applyAnswer installs the remote answer relayed by the service.
func (n *negotiation) applyAnswer(sdp string) {
	if err := n.pc.ApplyAnswer(sdp); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("call", n.callID).Msg("apply answer")
		n.fail(fmt.Errorf("%w: %v", domain.ErrTransportFailed, err))
	}
}

// addCandidate applies a trickled remote candidate.
func (n *negotiation) addCandidate(msg message) {
	mid := msg.SDPMid
	idx := msg.SDPMLineIndex
	ci := webrtc.ICECandidateInit{
		Candidate:     msg.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
	if err := n.pc.AddICECandidate(ci); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("call", n.callID).Msg("add candidate")
	}
}

// remoteBye is the peer hanging up: tear down without echoing a bye back.
func (n *negotiation) remoteBye() {
	n.mu.Lock()
	n.byeSent = true
	fn := n.onClose
	n.mu.Unlock()

	log.Info().Str("module", "signal").Str("call", n.callID).Msg("remote bye")
	if fn != nil {
		fn()
	}
	n.Close()
}

func (n *negotiation) fail(err error) {
	n.mu.Lock()
	fn := n.onError
	n.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
