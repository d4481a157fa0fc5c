package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
)

// Manager owns the process-wide current call and wires the signaling handle,
// the media manager and the reconnect policy together. Only the manager and
// its sessions ever mutate the current-call reference; everything else reads
// it through Snapshot.
type Manager struct {
	sig     core.Signaler
	media   *MediaManager
	notify  Notifier
	bus     *EventBus
	timings Timings

	reconnect *ReconnectPolicy

	mu         sync.Mutex
	current    *Session
	self       domain.PeerID
	lastStatus domain.Status
}

func NewManager(sig core.Signaler, media *MediaManager, notify Notifier, bus *EventBus, timings Timings) *Manager {
	m := &Manager{
		sig:     sig,
		media:   media,
		notify:  notify,
		bus:     bus,
		timings: timings,
		lastStatus: domain.Status{
			Category: domain.StatusDisconnected,
			Message:  "not registered",
		},
	}
	m.reconnect = NewReconnectPolicy(sig, timings.ReconnectDelay, timings.MaxReconnects, m.reconnectExhausted)

	sig.OnRegistered(m.handleRegistered)
	sig.OnIncomingCall(m.handleIncoming)
	sig.OnDisconnected(m.handleDisconnected)
	sig.OnClosed(m.handleSignalClosed)
	sig.OnError(m.handleSignalError)
	media.OnSwitch(m.handleSourceSwitch)
	return m
}

// Start acquires the camera and registers with the rendezvous service. Both
// failures are fatal to startup; the process is only usable after a retry.
func (m *Manager) Start(ctx context.Context) error {
	if _, err := m.media.AcquireCamera(); err != nil {
		return fmt.Errorf("acquire camera: %w", err)
	}
	id, err := m.sig.Register(ctx)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	m.mu.Lock()
	m.self = id
	m.mu.Unlock()
	m.status(domain.StatusDisconnected, "ready, your id is "+string(id))
	return nil
}

// Self is the identity the rendezvous service currently knows us by.
func (m *Manager) Self() domain.PeerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.self
}

// Dial places an outbound call. An existing non-terminal session is closed
// first: busy resolves by replacing, keeping the single-session invariant.
func (m *Manager) Dial(raw string) error {
	remote, err := domain.ParsePeerID(raw)
	if err != nil {
		m.notify.Notify(domain.SeverityError, "enter the id of the peer to call")
		return err
	}

	m.mu.Lock()
	self := m.self
	m.mu.Unlock()
	if self == "" {
		m.notify.Notify(domain.SeverityError, "not registered with the signaling service")
		return domain.ErrSignalingUnavailable
	}
	if remote == self {
		m.notify.Notify(domain.SeverityError, "that is your own id")
		return domain.ErrInitiationFailed
	}

	src := m.media.Active()
	if src == nil {
		m.notify.Notify(domain.SeverityError, "no media source available")
		return domain.ErrDeviceNotFound
	}

	m.replaceCurrent(nil)
	s := m.newSession(remote, domain.Outbound, src)
	m.setCurrent(s)
	return s.dial()
}

// Hangup ends the current call. A no-op without one.
func (m *Manager) Hangup() {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur == nil || cur.State() == StateClosed {
		m.notify.Notify(domain.SeverityInfo, "no active call")
		return
	}
	cur.Close()
}

// ToggleAudio flips the microphone; reports when no audio track exists.
func (m *Manager) ToggleAudio() (bool, error) {
	on, err := m.media.ToggleAudio()
	if err != nil {
		if errors.Is(err, domain.ErrNoTrackOfKind) {
			m.notify.Notify(domain.SeverityError, "no audio track to toggle")
		}
		return false, err
	}
	m.gateCurrent(core.TrackAudio, on)
	return on, nil
}

// ToggleVideo flips the camera; reports when no video track exists.
func (m *Manager) ToggleVideo() (bool, error) {
	on, err := m.media.ToggleVideo()
	if err != nil {
		if errors.Is(err, domain.ErrNoTrackOfKind) {
			m.notify.Notify(domain.SeverityError, "no video track to toggle")
		}
		return false, err
	}
	m.gateCurrent(core.TrackVideo, on)
	return on, nil
}

// gateCurrent pushes a mute toggle down to the live call, if any.
func (m *Manager) gateCurrent(kind core.TrackKind, enabled bool) {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur == nil || cur.State() == StateClosed {
		return
	}
	cur.setTrackEnabled(kind, enabled)
}

// ToggleScreen flips between camera and screen sharing. A live call picks up
// the new source through the media manager's switch callback.
func (m *Manager) ToggleScreen() (bool, error) {
	sharing, err := m.media.ToggleScreen()
	if err != nil {
		m.notify.Notify(domain.SeverityError, "screen sharing unavailable")
		return sharing, err
	}
	return sharing, nil
}

// Snapshot is the full state view served by the control surface.
type Snapshot struct {
	Self    string           `json:"self"`
	Status  domain.Status    `json:"status"`
	Source  string           `json:"source,omitempty"`
	Session *SessionSnapshot `json:"session,omitempty"`
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	cur := m.current
	self := m.self
	status := m.lastStatus
	m.mu.Unlock()

	snap := Snapshot{Self: string(self), Status: status}
	if src := m.media.Active(); src != nil {
		snap.Source = src.Kind().String()
	}
	if cur != nil {
		s := cur.Snapshot()
		snap.Session = &s
	}
	return snap
}

// Bus exposes the event stream for the control surface.
func (m *Manager) Bus() *EventBus { return m.bus }

// Shutdown tears down the current call, the policy and the registration.
func (m *Manager) Shutdown() {
	m.reconnect.Stop()
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur != nil {
		cur.Close()
	}
	m.sig.Shutdown()
	m.media.Close()
}

func (m *Manager) newSession(remote domain.PeerID, dir domain.Direction, src core.MediaSource) *Session {
	return newSession(remote, dir, m.sig, src, m.timings, sessionHooks{
		status: m.status,
		notify: m.notify.Notify,
		closed: m.sessionClosed,
	})
}

func (m *Manager) setCurrent(s *Session) {
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
}

// replaceCurrent closes any non-terminal session before next takes over.
func (m *Manager) replaceCurrent(next *Session) {
	m.mu.Lock()
	cur := m.current
	m.current = next
	m.mu.Unlock()
	if cur != nil && cur.State() != StateClosed {
		log.Info().Str("module", "app.manager").Str("session", cur.ID).Msg("replacing active session")
		cur.close(ReasonReplaced)
	}
}

func (m *Manager) sessionClosed(s *Session) {
	// The terminal session stays referenced so the UI can show why the call
	// ended; the next Dial or incoming call replaces it.
}

func (m *Manager) handleRegistered(id domain.PeerID) {
	m.mu.Lock()
	m.self = id
	m.mu.Unlock()
	m.reconnect.HandleRegistered()
	log.Info().Str("module", "app.manager").Str("peer_id", string(id)).Msg("registered")
	m.notify.Notify(domain.SeveritySuccess, "registered as "+string(id))
	m.status(domain.StatusDisconnected, "ready, your id is "+string(id))
}

func (m *Manager) handleIncoming(neg core.Negotiation, from domain.PeerID) {
	log.Info().Str("module", "app.manager").Str("from", string(from)).Msg("incoming call")
	src := m.media.Active()
	if src == nil {
		m.notify.Notify(domain.SeverityError, "incoming call but no media source")
		neg.Close()
		return
	}

	m.replaceCurrent(nil)
	s := m.newSession(from, domain.Inbound, src)
	m.setCurrent(s)
	m.notify.Notify(domain.SeverityInfo, "incoming call from "+string(from))
	if err := s.answer(neg); err != nil {
		log.Error().Err(err).Str("module", "app.manager").Msg("answer failed")
	}
}

func (m *Manager) handleDisconnected() {
	m.status(domain.StatusDisconnected, "signaling connection lost, reconnecting")
	m.reconnect.HandleDisconnect()
}

func (m *Manager) handleSignalClosed() {
	// Terminal close from the service; no auto-recovery.
	m.reconnect.Stop()
	m.status(domain.StatusDisconnected, "signaling connection closed")
}

func (m *Manager) handleSignalError(kind domain.SignalErrorKind) {
	log.Error().Str("module", "app.manager").Str("kind", kind.String()).Msg("signaling error")
	m.notify.Notify(domain.SeverityError, "signaling error: "+kind.String())

	if kind != domain.KindPeerUnavailable {
		return
	}
	// The callee cannot be reached: give up on the pending dial.
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur != nil {
		switch cur.State() {
		case StateDialing, StatePending, StateStalled:
			cur.close(ReasonUnreachable)
		}
	}
}

func (m *Manager) handleSourceSwitch(src core.MediaSource) {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur == nil || cur.State() == StateClosed {
		return
	}
	cur.switchSource(src)
}

func (m *Manager) reconnectExhausted() {
	m.notify.Notify(domain.SeverityError, "could not reach the signaling service, giving up")
	m.status(domain.StatusDisconnected, "signaling unreachable")
}

func (m *Manager) status(cat domain.StatusCategory, msg string) {
	m.mu.Lock()
	m.lastStatus = domain.Status{Category: cat, Message: msg}
	m.mu.Unlock()
	log.Info().Str("module", "app.manager").Str("category", string(cat)).Msg(msg)
	m.bus.Publish(Event{Status: &domain.Status{Category: cat, Message: msg}})
}
