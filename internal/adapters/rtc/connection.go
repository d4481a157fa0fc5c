package rtc

import (
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
)

// Config carries the transport knobs for one peer connection.
type Config struct {
	STUNServers []string
}

func webrtcConfig(cfg Config) webrtc.Configuration {
	servers := cfg.STUNServers
	if len(servers) == 0 {
		servers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: servers}},
	}
}

// Conn wraps a Pion PeerConnection as one negotiation attempt: local tracks
// out, at most one remote stream in.
type Conn struct {
	pc *webrtc.PeerConnection
	id string

	mu             sync.Mutex
	senders        map[core.TrackKind]*webrtc.RTPSender
	streams        map[string]*remoteStream
	pendingCs      []webrtc.ICECandidateInit
	pendingStreams []*remoteStream
	closed         bool

	onICE          func(webrtc.ICECandidateInit)
	onRemoteStream func(core.RemoteStream)
	onClose        func()
	onError        func(error)
}

// New builds a PeerConnection with the default codec set and interceptors.
func New(cfg Config, id string) (*Conn, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
	)

	pc, err := api.NewPeerConnection(webrtcConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	c := &Conn{
		pc:      pc,
		id:      id,
		senders: make(map[core.TrackKind]*webrtc.RTPSender),
		streams: make(map[string]*remoteStream),
	}
	c.bind()
	return c, nil
}

func (c *Conn) bind() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("call", c.id).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.handleConnectionState(s)
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.handleTrack(track)
	})
}

// handleConnectionState surfaces terminal transport transitions. Failed is
// fatal for the negotiation and Pion never moves Failed to Closed on its
// own, so the owner must hear about it here.
func (c *Conn) handleConnectionState(state webrtc.PeerConnectionState) {
	log.Info().Str("module", "rtc").Str("call", c.id).Str("peer_state", state.String()).Msg("peer state")
	switch state {
	case webrtc.PeerConnectionStateFailed:
		c.mu.Lock()
		fn := c.onError
		c.mu.Unlock()
		if fn != nil {
			fn(fmt.Errorf("%w: peer connection failed", domain.ErrTransportFailed))
		}
	case webrtc.PeerConnectionStateClosed:
		c.mu.Lock()
		fn := c.onClose
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	}
}

func (c *Conn) handleTrack(track *webrtc.TrackRemote) {
	log.Info().
		Str("module", "rtc").
		Str("call", c.id).
		Str("kind", track.Kind().String()).
		Str("stream_id", track.StreamID()).
		Msg("remote track")

	c.mu.Lock()
	rs, known := c.streams[track.StreamID()]
	if !known {
		rs = newRemoteStream(track.StreamID())
		c.streams[track.StreamID()] = rs
	}
	c.mu.Unlock()

	go rs.drain(track)
	if !known {
		c.deliverRemoteStream(rs)
	}
}

// deliverRemoteStream hands rs to the owner, buffering it while no callback
// is bound yet so a stream arriving before the owner wires up is not lost.
func (c *Conn) deliverRemoteStream(rs *remoteStream) {
	c.mu.Lock()
	fn := c.onRemoteStream
	if fn == nil {
		c.pendingStreams = append(c.pendingStreams, rs)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn(rs)
}

// AddSource attaches every transport-backed track of src for sending.
func (c *Conn) AddSource(src core.MediaSource) error {
	for _, t := range src.Tracks() {
		local := t.Local()
		if local == nil {
			continue
		}
		sender, err := c.pc.AddTrack(local)
		if err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		// A track muted before the call started must not leak media once
		// the transport comes up.
		if !t.Enabled() {
			if err := sender.ReplaceTrack(nil); err != nil {
				return fmt.Errorf("pause %s track: %w", t.Kind(), err)
			}
		}
		c.mu.Lock()
		c.senders[t.Kind()] = sender
		c.mu.Unlock()
	}
	return nil
}

// ReplaceTrack swaps the outbound track of the given kind without
// renegotiating. domain.ErrTransportUnsupported when there is no sender for
// the kind or the track carries no transport-level payload.
func (c *Conn) ReplaceTrack(kind core.TrackKind, t core.Track) error {
	c.mu.Lock()
	sender := c.senders[kind]
	c.mu.Unlock()
	if sender == nil {
		return fmt.Errorf("%w: no %s sender", domain.ErrTransportUnsupported, kind)
	}
	local := t.Local()
	if local == nil {
		return fmt.Errorf("%w: track has no transport payload", domain.ErrTransportUnsupported)
	}
	if err := sender.ReplaceTrack(local); err != nil {
		return fmt.Errorf("replace %s track: %w", kind, err)
	}
	return nil
}

// SetTrackEnabled pauses or resumes sending of the given kind without
// renegotiating. Disabling swaps the sender payload for nil, which stops the
// encoder and all outbound RTP of that kind; enabling restores t.
func (c *Conn) SetTrackEnabled(kind core.TrackKind, t core.Track, enabled bool) error {
	c.mu.Lock()
	sender := c.senders[kind]
	c.mu.Unlock()
	if sender == nil {
		return fmt.Errorf("%w: no %s sender", domain.ErrTransportUnsupported, kind)
	}
	if !enabled {
		if err := sender.ReplaceTrack(nil); err != nil {
			return fmt.Errorf("pause %s track: %w", kind, err)
		}
		return nil
	}
	local := t.Local()
	if local == nil {
		return fmt.Errorf("%w: track has no transport payload", domain.ErrTransportUnsupported)
	}
	if err := sender.ReplaceTrack(local); err != nil {
		return fmt.Errorf("resume %s track: %w", kind, err)
	}
	return nil
}

// CreateOffer produces the local SDP offer and installs it.
func (c *Conn) CreateOffer() (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return offer.SDP, nil
}

// ApplyAnswer installs the remote answer and flushes candidates that arrived
// before it.
func (c *Conn) ApplyAnswer(sdp string) error {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	c.flushCandidates()
	return nil
}

// ApplyOfferAndCreateAnswer installs the remote offer and returns a complete
// answer, waiting for ICE gathering so the SDP carries all candidates.
func (c *Conn) ApplyOfferAndCreateAnswer(sdp string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	c.flushCandidates()

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	<-gatherComplete

	return c.pc.LocalDescription().SDP, nil
}

// AddICECandidate applies a remote candidate, buffering it when the remote
// description is not in place yet.
func (c *Conn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if c.pc.RemoteDescription() == nil {
		c.pendingCs = append(c.pendingCs, ci)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(ci)
}

func (c *Conn) flushCandidates() {
	c.mu.Lock()
	pending := c.pendingCs
	c.pendingCs = nil
	c.mu.Unlock()
	for _, ci := range pending {
		if err := c.pc.AddICECandidate(ci); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("call", c.id).Msg("apply buffered candidate")
		}
	}
}

// Connectivity maps the Pion connection state onto the core enum.
func (c *Conn) Connectivity() core.Connectivity {
	switch c.pc.ConnectionState() {
	case webrtc.PeerConnectionStateNew:
		return core.ConnectivityNew
	case webrtc.PeerConnectionStateConnecting:
		return core.ConnectivityConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.ConnectivityConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.ConnectivityDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.ConnectivityFailed
	default:
		return core.ConnectivityClosed
	}
}

func (c *Conn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *Conn) OnRemoteStream(fn func(core.RemoteStream)) {
	c.mu.Lock()
	c.onRemoteStream = fn
	pending := c.pendingStreams
	c.pendingStreams = nil
	c.mu.Unlock()
	for _, rs := range pending {
		fn(rs)
	}
}

func (c *Conn) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *Conn) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Close stops every remote stream and the PeerConnection. Idempotent.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	streams := c.streams
	c.streams = make(map[string]*remoteStream)
	c.mu.Unlock()

	for _, rs := range streams {
		rs.Close()
	}
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("call", c.id).Msg("close error")
	} else {
		log.Info().Str("module", "rtc").Str("call", c.id).Msg("closed")
	}
}
