// Package signal owns the websocket connection to the rendezvous service:
// registration, incoming-call delivery, reconnects and error classification.
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Duet/internal/adapters/rtc"
	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
)

// Config for the signaling client.
type Config struct {
	// URL of the rendezvous websocket endpoint (ws:// or wss://).
	URL string
	// STUNServers handed to every negotiation this client creates.
	STUNServers []string
	// PingPeriod between websocket keepalive pings.
	PingPeriod time.Duration
}

// Client implements core.Signaler over a gorilla websocket connection.
// Each (re)connect bumps the connection generation; loops and read errors of
// a superseded generation are ignored.
type Client struct {
	cfg Config

	writeMu sync.Mutex // serializes frame writes

	mu         sync.Mutex
	conn       *websocket.Conn
	gen        int
	self       domain.PeerID
	registered bool
	shutdown   bool
	calls      map[string]*negotiation
	regCh      chan domain.PeerID

	onIncoming     func(core.Negotiation, domain.PeerID)
	onRegistered   func(domain.PeerID)
	onDisconnected func()
	onClosed       func()
	onError        func(domain.SignalErrorKind)
}

func New(cfg Config) *Client {
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = 30 * time.Second
	}
	return &Client{
		cfg:   cfg,
		calls: make(map[string]*negotiation),
	}
}

func (c *Client) OnIncomingCall(fn func(core.Negotiation, domain.PeerID)) {
	c.mu.Lock()
	c.onIncoming = fn
	c.mu.Unlock()
}

func (c *Client) OnRegistered(fn func(domain.PeerID)) {
	c.mu.Lock()
	c.onRegistered = fn
	c.mu.Unlock()
}

func (c *Client) OnDisconnected(fn func()) {
	c.mu.Lock()
	c.onDisconnected = fn
	c.mu.Unlock()
}

func (c *Client) OnClosed(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

func (c *Client) OnError(fn func(domain.SignalErrorKind)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Register dials the rendezvous service and waits for the identity it
// issues.
func (c *Client) Register(ctx context.Context) (domain.PeerID, error) {
	return c.connect(ctx)
}

// Reconnect resumes a lapsed registration. Idempotent while registered. The
// service issues a fresh identity; OnRegistered delivers it.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.registered {
		c.mu.Unlock()
		return nil
	}
	if c.shutdown {
		c.mu.Unlock()
		return fmt.Errorf("%w: client shut down", domain.ErrSignalingUnavailable)
	}
	c.mu.Unlock()

	_, err := c.connect(ctx)
	return err
}

func (c *Client) connect(ctx context.Context) (domain.PeerID, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("%w: parse url: %v", domain.ErrSignalingUnavailable, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("%w: scheme %q", domain.ErrTransportUnsupported, u.Scheme)
	}

	log.Info().Str("module", "signal").Str("url", u.String()).Msg("connecting")
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: dial: %v", domain.ErrSignalingUnavailable, err)
	}

	regCh := make(chan domain.PeerID, 1)
	c.mu.Lock()
	c.gen++
	gen := c.gen
	old := c.conn
	c.conn = conn
	c.registered = false
	c.regCh = regCh
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	go c.readLoop(conn, gen)
	go c.pingLoop(conn, gen)

	c.send(message{Type: msgRegister})

	timeout := time.NewTimer(10 * time.Second)
	defer timeout.Stop()
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", domain.ErrSignalingUnavailable, ctx.Err())
	case <-timeout.C:
		return "", fmt.Errorf("%w: registration timed out", domain.ErrSignalingUnavailable)
	case id := <-regCh:
		return id, nil
	}
}

// Initiate opens an outbound negotiation towards remote and relays its offer.
func (c *Client) Initiate(remote domain.PeerID, src core.MediaSource) (core.Negotiation, error) {
	c.mu.Lock()
	if !c.registered {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: not registered", domain.ErrInitiationFailed)
	}
	c.mu.Unlock()

	callID := uuid.NewString()
	pc, err := rtc.New(rtc.Config{STUNServers: c.cfg.STUNServers}, callID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInitiationFailed, err)
	}
	if err := pc.AddSource(src); err != nil {
		pc.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrInitiationFailed, err)
	}

	n := newNegotiation(c, callID, remote, pc, "")
	offer, err := pc.CreateOffer()
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrInitiationFailed, err)
	}

	c.addCall(n)
	c.send(message{Type: msgCall, To: string(remote), CallID: callID, SDP: offer})
	log.Info().Str("module", "signal").Str("call", callID).Str("to", string(remote)).Msg("offer relayed")
	return n, nil
}

// Shutdown releases the registration and every outstanding negotiation.
// Safe to call multiple times.
func (c *Client) Shutdown() {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	c.shutdown = true
	c.registered = false
	conn := c.conn
	c.conn = nil
	calls := c.calls
	c.calls = make(map[string]*negotiation)
	c.mu.Unlock()

	for _, n := range calls {
		n.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
	log.Info().Str("module", "signal").Msg("shut down")
}

func (c *Client) addCall(n *negotiation) {
	c.mu.Lock()
	c.calls[n.callID] = n
	c.mu.Unlock()
}

func (c *Client) removeCall(callID string) {
	c.mu.Lock()
	delete(c.calls, callID)
	c.mu.Unlock()
}

func (c *Client) call(callID string) (*negotiation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.calls[callID]
	return n, ok
}

func (c *Client) send(msg message) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal")
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("set write deadline")
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("write error")
	}
}

func (c *Client) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(gen, err)
			return
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad json")
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) handleReadError(gen int, err error) {
	c.mu.Lock()
	if c.shutdown || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.registered = false
	onErr := c.onError
	onDisc := c.onDisconnected
	onClosed := c.onClosed
	c.mu.Unlock()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		// Deliberate close by the service: terminal, no auto-recovery.
		log.Warn().Str("module", "signal").Msg("service closed the connection")
		if onErr != nil {
			onErr(domain.KindSocketClosed)
		}
		if onClosed != nil {
			onClosed()
		}
		return
	}

	log.Error().Err(err).Str("module", "signal").Msg("read error")
	if onErr != nil {
		onErr(domain.KindSocket)
	}
	if onDisc != nil {
		onDisc()
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, gen int) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		stale := c.shutdown || gen != c.gen
		c.mu.Unlock()
		if stale {
			return
		}
		c.writeMu.Lock()
		err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		c.writeMu.Unlock()
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("ping error")
			return
		}
	}
}

func (c *Client) dispatch(msg message) {
	switch msg.Type {
	case msgRegistered:
		c.handleRegistered(msg)

	case msgCall:
		c.handleCall(msg)

	case msgAnswer:
		if n, ok := c.call(msg.CallID); ok {
			n.applyAnswer(msg.SDP)
		} else {
			log.Warn().Str("module", "signal").Str("call", msg.CallID).Msg("answer for unknown call")
		}

	case msgCandidate:
		if n, ok := c.call(msg.CallID); ok {
			n.addCandidate(msg)
		}

	case msgBye:
		if n, ok := c.call(msg.CallID); ok {
			n.remoteBye()
		}

	case msgPeerUnavailable:
		log.Warn().Str("module", "signal").Str("call", msg.CallID).Msg("peer unavailable")
		if n, ok := c.call(msg.CallID); ok {
			n.fail(domain.ErrInitiationFailed)
		}
		c.fireError(domain.KindPeerUnavailable)

	case msgError:
		log.Error().Str("module", "signal").Int("code", msg.Code).Str("error", msg.Error).Msg("service error")
		c.fireError(classifyCode(msg.Code))

	default:
		log.Warn().Str("module", "signal").Str("type", msg.Type).Msg("unknown message")
	}
}

func (c *Client) handleRegistered(msg message) {
	id := domain.PeerID(msg.PeerID)
	c.mu.Lock()
	c.self = id
	c.registered = true
	regCh := c.regCh
	c.regCh = nil
	fn := c.onRegistered
	c.mu.Unlock()

	log.Info().Str("module", "signal").Str("peer_id", string(id)).Msg("registered")
	if regCh != nil {
		regCh <- id
	}
	if fn != nil {
		fn(id)
	}
}

func (c *Client) handleCall(msg message) {
	from := domain.PeerID(msg.From)
	pc, err := rtc.New(rtc.Config{STUNServers: c.cfg.STUNServers}, msg.CallID)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("call", msg.CallID).Msg("inbound negotiation setup")
		c.send(message{Type: msgBye, To: msg.From, CallID: msg.CallID})
		return
	}
	n := newNegotiation(c, msg.CallID, from, pc, msg.SDP)
	c.addCall(n)

	c.mu.Lock()
	fn := c.onIncoming
	c.mu.Unlock()
	log.Info().Str("module", "signal").Str("call", msg.CallID).Str("from", msg.From).Msg("incoming call")
	if fn != nil {
		fn(n, from)
	} else {
		n.Close()
	}
}

func (c *Client) fireError(kind domain.SignalErrorKind) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(kind)
	}
}

func classifyCode(code int) domain.SignalErrorKind {
	switch {
	case code >= codeServerFault:
		return domain.KindServer
	case code >= codeBadRequest:
		return domain.KindNetwork
	default:
		return domain.KindUnknown
	}
}
