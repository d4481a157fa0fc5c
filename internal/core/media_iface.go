package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Duet/internal/domain"
)

type TrackKind int

const (
	TrackAudio TrackKind = iota
	TrackVideo
)

func (k TrackKind) String() string {
	if k == TrackVideo {
		return "video"
	}
	return "audio"
}

type SourceKind int

const (
	SourceCamera SourceKind = iota
	SourceScreen
)

func (k SourceKind) String() string {
	if k == SourceScreen {
		return "screen"
	}
	return "camera"
}

// Track is one local capture track. Enable state is a soft mute: a disabled
// track stays attached to the negotiation but stops producing content.
type Track interface {
	Kind() TrackKind
	Enabled() bool
	SetEnabled(bool)
	// Local exposes the transport-level track for attach/replace. Nil for
	// test fakes.
	Local() webrtc.TrackLocal
	// OnEnded fires when the capture stops outside our control, e.g. the
	// OS-level "stop sharing" button.
	OnEnded(func())
	Close()
}

// MediaSource bundles zero-or-more audio tracks and zero-or-one video track.
// The media manager exclusively owns every source it creates; the call
// session only borrows a reference for the duration of a send.
type MediaSource interface {
	Kind() SourceKind
	Tracks() []Track
	AudioTrack() (Track, bool)
	VideoTrack() (Track, bool)
	Close()
}

// MediaDevices acquires capture sources from the host.
type MediaDevices interface {
	// AcquireCamera opens camera+microphone. Fails with
	// domain.ErrPermissionDenied or domain.ErrDeviceNotFound.
	AcquireCamera() (MediaSource, error)
	// AcquireScreen opens a screen capture (video only). Fails with
	// domain.ErrPermissionDenied.
	AcquireScreen() (MediaSource, error)
}

// SetTrackEnabled flips the named track kind on src. Returns
// domain.ErrNoTrackOfKind when the source has no such track.
func SetTrackEnabled(src MediaSource, kind TrackKind, enabled bool) error {
	if src == nil {
		return domain.ErrNoTrackOfKind
	}
	var t Track
	var ok bool
	if kind == TrackAudio {
		t, ok = src.AudioTrack()
	} else {
		t, ok = src.VideoTrack()
	}
	if !ok {
		return domain.ErrNoTrackOfKind
	}
	t.SetEnabled(enabled)
	return nil
}
