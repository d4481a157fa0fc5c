package rtc

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
)

// staticTrack backs tests with a real transport payload so AddTrack and
// ReplaceTrack run against an actual PeerConnection.
type staticTrack struct {
	kind    core.TrackKind
	local   webrtc.TrackLocal
	enabled bool
}

func (s *staticTrack) Kind() core.TrackKind     { return s.kind }
func (s *staticTrack) Enabled() bool            { return s.enabled }
func (s *staticTrack) SetEnabled(on bool)       { s.enabled = on }
func (s *staticTrack) Local() webrtc.TrackLocal { return s.local }
func (s *staticTrack) OnEnded(func())           {}
func (s *staticTrack) Close()                   {}

type staticSource struct{ tracks []core.Track }

func (s *staticSource) Kind() core.SourceKind { return core.SourceCamera }
func (s *staticSource) Tracks() []core.Track  { return s.tracks }

func (s *staticSource) AudioTrack() (core.Track, bool) { return s.find(core.TrackAudio) }
func (s *staticSource) VideoTrack() (core.Track, bool) { return s.find(core.TrackVideo) }

func (s *staticSource) find(kind core.TrackKind) (core.Track, bool) {
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t, true
		}
	}
	return nil, false
}

func (s *staticSource) Close() {}

func newVideoTrack(t *testing.T) *staticTrack {
	t.Helper()
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "duet",
	)
	if err != nil {
		t.Fatalf("create local track: %v", err)
	}
	return &staticTrack{kind: core.TrackVideo, local: local, enabled: true}
}

func newConn(t *testing.T) *Conn {
	t.Helper()
	c, err := New(Config{}, "test-call")
	if err != nil {
		t.Fatalf("create connection: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestFailedStateReachesErrorCallback(t *testing.T) {
	c := newConn(t)

	var got error
	c.OnError(func(err error) { got = err })
	c.handleConnectionState(webrtc.PeerConnectionStateFailed)

	if got == nil {
		t.Fatal("expected the failure to be surfaced")
	}
	if !errors.Is(got, domain.ErrTransportFailed) {
		t.Fatalf("expected ErrTransportFailed, got %v", got)
	}
}

func TestClosedStateFiresOnClose(t *testing.T) {
	c := newConn(t)

	var closed bool
	c.OnClose(func() { closed = true })
	c.handleConnectionState(webrtc.PeerConnectionStateClosed)

	if !closed {
		t.Fatal("expected the close callback to fire")
	}
}

func TestIntermediateStatesStayQuiet(t *testing.T) {
	c := newConn(t)

	var fired bool
	c.OnError(func(error) { fired = true })
	c.OnClose(func() { fired = true })

	for _, s := range []webrtc.PeerConnectionState{
		webrtc.PeerConnectionStateNew,
		webrtc.PeerConnectionStateConnecting,
		webrtc.PeerConnectionStateConnected,
		webrtc.PeerConnectionStateDisconnected,
	} {
		c.handleConnectionState(s)
	}
	if fired {
		t.Fatal("non-terminal states must not fire callbacks")
	}
}

func TestStreamBeforeBindIsReplayed(t *testing.T) {
	c := newConn(t)

	c.deliverRemoteStream(newRemoteStream("early"))

	var got core.RemoteStream
	c.OnRemoteStream(func(rs core.RemoteStream) { got = rs })

	if got == nil {
		t.Fatal("expected the buffered stream to be replayed on bind")
	}
	if got.ID() != "early" {
		t.Fatalf("expected stream early, got %s", got.ID())
	}
}

func TestSetTrackEnabledWithoutSender(t *testing.T) {
	c := newConn(t)
	tr := newVideoTrack(t)

	err := c.SetTrackEnabled(core.TrackVideo, tr, false)
	if !errors.Is(err, domain.ErrTransportUnsupported) {
		t.Fatalf("expected ErrTransportUnsupported, got %v", err)
	}
}

func TestSetTrackEnabledGatesSender(t *testing.T) {
	c := newConn(t)
	tr := newVideoTrack(t)

	if err := c.AddSource(&staticSource{tracks: []core.Track{tr}}); err != nil {
		t.Fatalf("add source: %v", err)
	}
	if err := c.SetTrackEnabled(core.TrackVideo, tr, false); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if err := c.SetTrackEnabled(core.TrackVideo, tr, true); err != nil {
		t.Fatalf("unmute: %v", err)
	}
}

func TestAddSourceHonorsMutedTrack(t *testing.T) {
	c := newConn(t)
	tr := newVideoTrack(t)
	tr.SetEnabled(false)

	if err := c.AddSource(&staticSource{tracks: []core.Track{tr}}); err != nil {
		t.Fatalf("add source with muted track: %v", err)
	}
	// The sender exists and can be resumed later.
	if err := c.SetTrackEnabled(core.TrackVideo, tr, true); err != nil {
		t.Fatalf("resume: %v", err)
	}
}

func TestReplaceTrackWithoutSender(t *testing.T) {
	c := newConn(t)
	tr := newVideoTrack(t)

	err := c.ReplaceTrack(core.TrackAudio, tr)
	if !errors.Is(err, domain.ErrTransportUnsupported) {
		t.Fatalf("expected ErrTransportUnsupported, got %v", err)
	}
}
