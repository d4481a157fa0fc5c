package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
)

// fakeTrack records toggle and lifecycle calls for verification.
type fakeTrack struct {
	kind core.TrackKind

	mu      sync.Mutex
	enabled bool
	closed  bool
	onEnded func()
}

func newFakeTrack(kind core.TrackKind) *fakeTrack {
	return &fakeTrack{kind: kind, enabled: true}
}

func (f *fakeTrack) Kind() core.TrackKind { return f.kind }

func (f *fakeTrack) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakeTrack) SetEnabled(on bool) {
	f.mu.Lock()
	f.enabled = on
	f.mu.Unlock()
}

func (f *fakeTrack) Local() webrtc.TrackLocal { return nil }

func (f *fakeTrack) OnEnded(fn func()) {
	f.mu.Lock()
	f.onEnded = fn
	f.mu.Unlock()
}

func (f *fakeTrack) fireEnded() {
	f.mu.Lock()
	fn := f.onEnded
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeTrack) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeTrack) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeSource bundles fake tracks as a media source.
type fakeSource struct {
	kind   core.SourceKind
	tracks []core.Track

	mu     sync.Mutex
	closed bool
}

func newFakeCamera() *fakeSource {
	return &fakeSource{
		kind:   core.SourceCamera,
		tracks: []core.Track{newFakeTrack(core.TrackAudio), newFakeTrack(core.TrackVideo)},
	}
}

func newFakeScreen() *fakeSource {
	return &fakeSource{
		kind:   core.SourceScreen,
		tracks: []core.Track{newFakeTrack(core.TrackVideo)},
	}
}

func (f *fakeSource) Kind() core.SourceKind { return f.kind }

func (f *fakeSource) Tracks() []core.Track { return f.tracks }

func (f *fakeSource) AudioTrack() (core.Track, bool) { return f.find(core.TrackAudio) }

func (f *fakeSource) VideoTrack() (core.Track, bool) { return f.find(core.TrackVideo) }

func (f *fakeSource) find(kind core.TrackKind) (core.Track, bool) {
	for _, t := range f.tracks {
		if t.Kind() == kind {
			return t, true
		}
	}
	return nil, false
}

func (f *fakeSource) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	for _, t := range f.tracks {
		t.Close()
	}
}

func (f *fakeSource) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeDevices hands out fresh fake sources and counts acquisitions.
type fakeDevices struct {
	mu        sync.Mutex
	camErr    error
	screenErr error
	cameras   []*fakeSource
	screens   []*fakeSource
}

func (f *fakeDevices) AcquireCamera() (core.MediaSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.camErr != nil {
		return nil, f.camErr
	}
	src := newFakeCamera()
	f.cameras = append(f.cameras, src)
	return src, nil
}

func (f *fakeDevices) AcquireScreen() (core.MediaSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.screenErr != nil {
		return nil, f.screenErr
	}
	src := newFakeScreen()
	f.screens = append(f.screens, src)
	return src, nil
}

// fakeStream is a remote stream whose release is observable.
type fakeStream struct {
	id      string
	packets uint64
	bytes   uint64

	mu     sync.Mutex
	closed bool
}

func (f *fakeStream) ID() string { return f.id }

func (f *fakeStream) Packets() uint64 { return f.packets }

func (f *fakeStream) Bytes() uint64 { return f.bytes }

func (f *fakeStream) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeNegotiation records calls and lets tests drive the callbacks.
type fakeNegotiation struct {
	mu           sync.Mutex
	answered     core.MediaSource
	replaced     []core.TrackKind
	replaceErr   error
	gated        map[core.TrackKind]bool
	gateErr      error
	connectivity core.Connectivity
	closed       bool

	onRemoteStream func(core.RemoteStream)
	onClose        func()
	onError        func(error)
}

func (f *fakeNegotiation) Answer(src core.MediaSource) error {
	f.mu.Lock()
	f.answered = src
	f.mu.Unlock()
	return nil
}

func (f *fakeNegotiation) ReplaceTrack(kind core.TrackKind, _ core.Track) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.replaced = append(f.replaced, kind)
	return nil
}

func (f *fakeNegotiation) SetTrackEnabled(kind core.TrackKind, _ core.Track, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gateErr != nil {
		return f.gateErr
	}
	if f.gated == nil {
		f.gated = make(map[core.TrackKind]bool)
	}
	f.gated[kind] = enabled
	return nil
}

func (f *fakeNegotiation) gatedState(kind core.TrackKind) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	on, ok := f.gated[kind]
	return on, ok
}

func (f *fakeNegotiation) Connectivity() core.Connectivity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectivity
}

func (f *fakeNegotiation) setConnectivity(c core.Connectivity) {
	f.mu.Lock()
	f.connectivity = c
	f.mu.Unlock()
}

func (f *fakeNegotiation) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeNegotiation) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeNegotiation) replacedKinds() []core.TrackKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.TrackKind, len(f.replaced))
	copy(out, f.replaced)
	return out
}

func (f *fakeNegotiation) OnRemoteStream(fn func(core.RemoteStream)) {
	f.mu.Lock()
	f.onRemoteStream = fn
	f.mu.Unlock()
}

func (f *fakeNegotiation) OnClose(fn func()) {
	f.mu.Lock()
	f.onClose = fn
	f.mu.Unlock()
}

func (f *fakeNegotiation) OnError(fn func(error)) {
	f.mu.Lock()
	f.onError = fn
	f.mu.Unlock()
}

func (f *fakeNegotiation) fireRemoteStream(rs core.RemoteStream) {
	f.mu.Lock()
	fn := f.onRemoteStream
	f.mu.Unlock()
	if fn != nil {
		fn(rs)
	}
}

func (f *fakeNegotiation) fireClose() {
	f.mu.Lock()
	fn := f.onClose
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeNegotiation) fireError(err error) {
	f.mu.Lock()
	fn := f.onError
	f.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// fakeSignaler hands out fake negotiations and exposes its callbacks so tests
// can act as the rendezvous service.
type fakeSignaler struct {
	mu           sync.Mutex
	self         domain.PeerID
	initiated    []*fakeNegotiation
	initiateErr  error
	reconnectErr error
	reconnects   int
	shutdowns    int

	onIncoming     func(core.Negotiation, domain.PeerID)
	onRegistered   func(domain.PeerID)
	onDisconnected func()
	onClosed       func()
	onError        func(domain.SignalErrorKind)
}

func newFakeSignaler(self domain.PeerID) *fakeSignaler {
	return &fakeSignaler{self: self}
}

func (f *fakeSignaler) Register(context.Context) (domain.PeerID, error) {
	return f.self, nil
}

func (f *fakeSignaler) Reconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	return f.reconnectErr
}

func (f *fakeSignaler) reconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnects
}

func (f *fakeSignaler) Initiate(domain.PeerID, core.MediaSource) (core.Negotiation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initiateErr != nil {
		return nil, f.initiateErr
	}
	n := &fakeNegotiation{}
	f.initiated = append(f.initiated, n)
	return n, nil
}

func (f *fakeSignaler) negotiation(i int) *fakeNegotiation {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.initiated) {
		return nil
	}
	return f.initiated[i]
}

func (f *fakeSignaler) initiatedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.initiated)
}

func (f *fakeSignaler) Shutdown() {
	f.mu.Lock()
	f.shutdowns++
	f.mu.Unlock()
}

func (f *fakeSignaler) OnIncomingCall(fn func(core.Negotiation, domain.PeerID)) {
	f.mu.Lock()
	f.onIncoming = fn
	f.mu.Unlock()
}

func (f *fakeSignaler) OnRegistered(fn func(domain.PeerID)) {
	f.mu.Lock()
	f.onRegistered = fn
	f.mu.Unlock()
}

func (f *fakeSignaler) OnDisconnected(fn func()) {
	f.mu.Lock()
	f.onDisconnected = fn
	f.mu.Unlock()
}

func (f *fakeSignaler) OnClosed(fn func()) {
	f.mu.Lock()
	f.onClosed = fn
	f.mu.Unlock()
}

func (f *fakeSignaler) OnError(fn func(domain.SignalErrorKind)) {
	f.mu.Lock()
	f.onError = fn
	f.mu.Unlock()
}

func (f *fakeSignaler) fireIncoming(n core.Negotiation, from domain.PeerID) {
	f.mu.Lock()
	fn := f.onIncoming
	f.mu.Unlock()
	if fn != nil {
		fn(n, from)
	}
}

func (f *fakeSignaler) fireSignalError(kind domain.SignalErrorKind) {
	f.mu.Lock()
	fn := f.onError
	f.mu.Unlock()
	if fn != nil {
		fn(kind)
	}
}

// recordingNotifier collects notifications for assertion.
type recordingNotifier struct {
	mu    sync.Mutex
	items []string
}

func (r *recordingNotifier) Notify(_ domain.Severity, msg string) {
	r.mu.Lock()
	r.items = append(r.items, msg)
	r.mu.Unlock()
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// testTimings keeps every real timer far away so tests drive the handlers
// directly.
func testTimings() Timings {
	return Timings{
		ConnectTimeout: time.Hour,
		HealthInterval: time.Hour,
		StallGrace:     0,
		ReconnectDelay: time.Millisecond,
		MaxReconnects:  3,
	}
}

func testHooks() (sessionHooks, *recordingNotifier) {
	rec := &recordingNotifier{}
	return sessionHooks{
		status: func(domain.StatusCategory, string) {},
		notify: rec.Notify,
		closed: func(*Session) {},
	}, rec
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}
