package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
)

// State is the lifecycle position of one call session.
type State int

const (
	StateIdle State = iota
	StateDialing
	StatePending
	StateConnected
	StateStalled
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDialing:
		return "dialing"
	case StatePending:
		return "pending"
	case StateConnected:
		return "connected"
	case StateStalled:
		return "stalled"
	case StateClosed:
		return "closed"
	default:
		return "idle"
	}
}

// CloseReason records why a session reached StateClosed.
type CloseReason int

const (
	ReasonNone CloseReason = iota
	ReasonHangup
	ReasonTimeout
	ReasonRemoteClosed
	ReasonTransportFailed
	ReasonUnreachable
	ReasonReplaced
)

func (r CloseReason) String() string {
	switch r {
	case ReasonHangup:
		return "hangup"
	case ReasonTimeout:
		return "timeout"
	case ReasonRemoteClosed:
		return "remote_closed"
	case ReasonTransportFailed:
		return "transport_failed"
	case ReasonUnreachable:
		return "unreachable"
	case ReasonReplaced:
		return "replaced"
	default:
		return ""
	}
}

// sessionHooks connect a session to its owner. All three are mandatory.
type sessionHooks struct {
	status func(domain.StatusCategory, string)
	notify func(domain.Severity, string)
	closed func(*Session)
}

// Session is the state machine for a single logical call.
//
// Every transition runs under mu. Timers and negotiation callbacks carry the
// epoch that was current when they were armed; the epoch moves forward each
// time the authoritative negotiation handle changes and once more on close,
// so anything late fired by a superseded handle or a stale timer is
// discarded instead of corrupting the current call.
type Session struct {
	ID        string
	remote    domain.PeerID
	direction domain.Direction
	createdAt time.Time

	sig     core.Signaler
	timings Timings
	hooks   sessionHooks

	mu           sync.Mutex
	state        State
	epoch        uint64
	neg          core.Negotiation
	remoteStream core.RemoteStream
	source       core.MediaSource // borrowed from the media manager
	dialedAt     time.Time
	redialed     bool
	reason       CloseReason
	connectTimer *time.Timer
	healthStop   chan struct{}
}

func newSession(remote domain.PeerID, dir domain.Direction, sig core.Signaler, src core.MediaSource, timings Timings, hooks sessionHooks) *Session {
	return &Session{
		ID:        uuid.NewString(),
		remote:    remote,
		direction: dir,
		createdAt: time.Now(),
		sig:       sig,
		source:    src,
		timings:   timings,
		hooks:     hooks,
		state:     StateIdle,
	}
}

func (s *Session) Remote() domain.PeerID { return s.remote }

func (s *Session) Direction() domain.Direction { return s.direction }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Reason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// SessionSnapshot is the read-only view handed to the control surface.
type SessionSnapshot struct {
	ID            string    `json:"id"`
	Remote        string    `json:"remote"`
	Direction     string    `json:"direction"`
	State         string    `json:"state"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	RemoteMedia   bool      `json:"remote_media"`
	RemotePackets uint64    `json:"remote_packets,omitempty"`
	RemoteBytes   uint64    `json:"remote_bytes,omitempty"`
}

func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := SessionSnapshot{
		ID:        s.ID,
		Remote:    string(s.remote),
		Direction: s.direction.String(),
		State:     s.state.String(),
		Reason:    s.reason.String(),
		CreatedAt: s.createdAt,
	}
	if s.remoteStream != nil {
		snap.RemoteMedia = true
		snap.RemotePackets = s.remoteStream.Packets()
		snap.RemoteBytes = s.remoteStream.Bytes()
	}
	return snap
}

// dial is the Idle → Dialing transition: open an outbound negotiation and
// start the establishment timeout and stall detector.
func (s *Session) dial() error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return domain.ErrSessionBusy
	}
	s.state = StateDialing
	s.dialedAt = time.Now()
	epoch := s.epoch
	src := s.source
	s.mu.Unlock()

	s.hooks.status(domain.StatusConnecting, "calling "+string(s.remote))
	log.Info().Str("module", "app.session").Str("session", s.ID).Str("remote", string(s.remote)).Msg("dialing")

	neg, err := s.sig.Initiate(s.remote, src)
	if err != nil {
		s.hooks.notify(domain.SeverityError, "could not start the call")
		s.close(ReasonTransportFailed)
		return fmt.Errorf("initiate call: %w", err)
	}
	s.adopt(epoch, neg)
	return nil
}

// answer is the Idle → Pending transition for an inbound negotiation.
func (s *Session) answer(neg core.Negotiation) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		neg.Close()
		return domain.ErrSessionBusy
	}
	s.state = StatePending
	s.dialedAt = time.Now()
	epoch := s.epoch
	src := s.source
	s.mu.Unlock()

	s.hooks.status(domain.StatusConnecting, "answering "+string(s.remote))
	log.Info().Str("module", "app.session").Str("session", s.ID).Str("remote", string(s.remote)).Msg("answering")

	if !s.adopt(epoch, neg) {
		return domain.ErrSessionBusy
	}
	if err := neg.Answer(src); err != nil {
		s.hooks.notify(domain.SeverityError, "could not answer the call")
		s.close(ReasonTransportFailed)
		return fmt.Errorf("answer call: %w", err)
	}
	return nil
}

// adopt installs neg as the authoritative negotiation handle and rebinds all
// monitors to it. When the session was closed or superseded while the handle
// was being created, the handle is closed and discarded instead.
func (s *Session) adopt(prevEpoch uint64, neg core.Negotiation) bool {
	s.mu.Lock()
	if s.state == StateClosed || s.epoch != prevEpoch {
		s.mu.Unlock()
		neg.Close()
		return false
	}
	s.epoch++
	epoch := s.epoch
	old := s.neg
	s.neg = neg
	oldStream := s.remoteStream
	s.remoteStream = nil
	s.mu.Unlock()

	// Media from the superseded handle is gone with it.
	if oldStream != nil {
		oldStream.Close()
	}
	if old != nil {
		old.Close()
	}

	neg.OnRemoteStream(func(rs core.RemoteStream) { s.handleRemoteStream(epoch, rs) })
	neg.OnClose(func() { s.handleNegotiationClosed(epoch) })
	neg.OnError(func(err error) { s.handleNegotiationError(epoch, err) })

	s.armConnectTimer(epoch)
	s.ensureHealthLoop()
	return true
}

// armConnectTimer (re)arms the single establishment timeout. Exactly one may
// be live per session.
func (s *Session) armConnectTimer(epoch uint64) {
	s.mu.Lock()
	if s.state == StateClosed || s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	if s.connectTimer != nil {
		s.connectTimer.Stop()
	}
	s.connectTimer = time.AfterFunc(s.timings.ConnectTimeout, func() { s.handleConnectTimeout(epoch) })
	s.mu.Unlock()
}

func (s *Session) handleConnectTimeout(epoch uint64) {
	s.mu.Lock()
	if s.state == StateClosed || s.epoch != epoch || s.remoteStream != nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.hooks.notify(domain.SeverityError, "call setup timed out")
	s.close(ReasonTimeout)
}

// ensureHealthLoop starts the single recurring stall check for the session.
func (s *Session) ensureHealthLoop() {
	s.mu.Lock()
	if s.healthStop != nil || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.healthStop = stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.timings.HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.healthTick()
			}
		}
	}()
}

// healthTick detects a stalled call: no remote media after the grace period
// while the transport reports failure. At most one automatic re-dial per
// session; a second stall closes the call through the establishment timeout.
func (s *Session) healthTick() {
	s.mu.Lock()
	if s.state == StateClosed || s.remoteStream != nil || s.redialed || s.neg == nil {
		s.mu.Unlock()
		return
	}
	if time.Since(s.dialedAt) <= s.timings.StallGrace {
		s.mu.Unlock()
		return
	}
	neg := s.neg
	s.mu.Unlock()

	if neg.Connectivity() != core.ConnectivityFailed {
		return
	}

	s.mu.Lock()
	if s.state == StateClosed || s.redialed {
		s.mu.Unlock()
		return
	}
	s.redialed = true
	s.state = StateStalled
	epoch := s.epoch
	src := s.source
	s.mu.Unlock()

	log.Warn().Str("module", "app.session").Str("session", s.ID).Msg("call stalled, redialing")
	s.hooks.status(domain.StatusConnecting, "connection stalled, retrying")
	s.hooks.notify(domain.SeverityError, "connection stalled, redialing "+string(s.remote))
	s.redial(epoch, src)
}

// redial opens a fresh negotiation to the same remote. If the session was
// closed or superseded while the handle was in flight, the result is closed
// and discarded by adopt.
func (s *Session) redial(epoch uint64, src core.MediaSource) {
	neg, err := s.sig.Initiate(s.remote, src)
	if err != nil {
		s.hooks.notify(domain.SeverityError, "redial failed")
		s.close(ReasonTransportFailed)
		return
	}
	s.mu.Lock()
	s.dialedAt = time.Now()
	s.mu.Unlock()
	s.adopt(epoch, neg)
}

// handleRemoteStream is the Dialing/Pending/Stalled → Connected transition.
// A stream landing after close, or delivered by a superseded handle, is
// released immediately and never resurrects the session.
func (s *Session) handleRemoteStream(epoch uint64, rs core.RemoteStream) {
	s.mu.Lock()
	if s.state == StateClosed || s.epoch != epoch {
		s.mu.Unlock()
		rs.Close()
		return
	}
	old := s.remoteStream
	s.remoteStream = rs
	s.state = StateConnected
	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
	s.mu.Unlock()

	if old != nil && old != rs {
		old.Close()
	}

	log.Info().Str("module", "app.session").Str("session", s.ID).Str("stream", rs.ID()).Msg("remote stream arrived")
	s.hooks.status(domain.StatusConnected, "in call with "+string(s.remote))
	s.hooks.notify(domain.SeveritySuccess, "call connected")
}

func (s *Session) handleNegotiationClosed(epoch uint64) {
	if s.stale(epoch) {
		return
	}
	s.hooks.notify(domain.SeverityInfo, "remote ended the call")
	s.close(ReasonRemoteClosed)
}

func (s *Session) handleNegotiationError(epoch uint64, err error) {
	if s.stale(epoch) {
		return
	}
	log.Error().Err(err).Str("module", "app.session").Str("session", s.ID).Msg("negotiation error")
	s.hooks.notify(domain.SeverityError, "call failed: "+err.Error())
	s.close(ReasonTransportFailed)
}

func (s *Session) stale(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateClosed || s.epoch != epoch
}

// switchSource swaps the outbound media of a live call. In-place track
// replacement on the current handle is attempted first; when the transport
// cannot replace, the session falls back to one re-dial carrying the new
// source. The same supersede rule as the stall re-dial applies.
func (s *Session) switchSource(src core.MediaSource) {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	neg := s.neg
	epoch := s.epoch
	s.source = src
	s.mu.Unlock()
	if neg == nil {
		return
	}

	if err := replaceOutbound(neg, src); err != nil {
		log.Warn().Err(err).Str("module", "app.session").Str("session", s.ID).Msg("in-place replace failed, renegotiating")
		s.hooks.notify(domain.SeverityInfo, "renegotiating with the new source")
		s.redial(epoch, src)
		return
	}
	log.Info().Str("module", "app.session").Str("session", s.ID).Str("source", src.Kind().String()).Msg("outbound tracks replaced")
	s.hooks.notify(domain.SeveritySuccess, "now sending "+src.Kind().String())
}

// setTrackEnabled propagates a mute toggle to the live transport so a
// disabled track stops leaving the box. Without a handle the soft flag alone
// suffices: the next negotiation attaches the source in its current state.
func (s *Session) setTrackEnabled(kind core.TrackKind, enabled bool) {
	s.mu.Lock()
	neg := s.neg
	src := s.source
	closed := s.state == StateClosed
	s.mu.Unlock()
	if closed || neg == nil || src == nil {
		return
	}

	var t core.Track
	var ok bool
	if kind == core.TrackAudio {
		t, ok = src.AudioTrack()
	} else {
		t, ok = src.VideoTrack()
	}
	if !ok {
		return
	}
	if err := neg.SetTrackEnabled(kind, t, enabled); err != nil {
		log.Warn().Err(err).Str("module", "app.session").Str("session", s.ID).Str("kind", kind.String()).Msg("transport gate failed")
	}
}

func replaceOutbound(neg core.Negotiation, src core.MediaSource) error {
	if t, ok := src.VideoTrack(); ok {
		if err := neg.ReplaceTrack(core.TrackVideo, t); err != nil {
			return err
		}
	}
	if t, ok := src.AudioTrack(); ok {
		if err := neg.ReplaceTrack(core.TrackAudio, t); err != nil {
			return err
		}
	}
	return nil
}

// Close is the terminal transition, reachable from any state. Idempotent.
func (s *Session) Close() { s.close(ReasonHangup) }

func (s *Session) close(reason CloseReason) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.reason = reason
	s.epoch++ // anything still in flight for an older epoch is now stale
	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
	if s.healthStop != nil {
		close(s.healthStop)
		s.healthStop = nil
	}
	rs := s.remoteStream
	s.remoteStream = nil
	neg := s.neg
	s.neg = nil
	s.mu.Unlock()

	if rs != nil {
		rs.Close()
	}
	if neg != nil {
		// Best-effort teardown; never block the closing path on transport
		// confirmation.
		go neg.Close()
	}

	log.Info().Str("module", "app.session").Str("session", s.ID).Str("reason", reason.String()).Msg("session closed")
	s.hooks.status(domain.StatusDisconnected, "call ended")
	if s.hooks.closed != nil {
		s.hooks.closed(s)
	}
}
