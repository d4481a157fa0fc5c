package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
)

// MediaManager exclusively owns the locally captured sources: the active one
// plus the most recent camera source, retained for audio grafting and for
// falling back when screen sharing ends. The call session only ever borrows
// the active source.
type MediaManager struct {
	devices core.MediaDevices
	notify  Notifier

	mu         sync.Mutex
	active     core.MediaSource
	lastCamera core.MediaSource
	onSwitch   func(core.MediaSource)
}

func NewMediaManager(devices core.MediaDevices, notify Notifier) *MediaManager {
	return &MediaManager{devices: devices, notify: notify}
}

// OnSwitch registers the callback fired whenever the active source changes,
// including the automatic camera fallback when the OS stops a screen share.
func (m *MediaManager) OnSwitch(fn func(core.MediaSource)) {
	m.mu.Lock()
	m.onSwitch = fn
	m.mu.Unlock()
}

// Active returns the source currently bound to preview and outbound calls.
func (m *MediaManager) Active() core.MediaSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// AcquireCamera opens camera+microphone and makes it the active source.
func (m *MediaManager) AcquireCamera() (core.MediaSource, error) {
	src, err := m.devices.AcquireCamera()
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "app.media").Msg("camera source acquired")
	m.SwitchTo(src)
	return src, nil
}

// AcquireScreen opens a screen capture and makes it active. The microphone
// track of the current camera source is grafted on so the far side keeps
// hearing audio. The share observes the OS-level "stop sharing" control and
// falls back to the camera when it fires.
func (m *MediaManager) AcquireScreen() (core.MediaSource, error) {
	screen, err := m.devices.AcquireScreen()
	if err != nil {
		return nil, err
	}

	var audio core.Track
	if cam := m.currentCamera(); cam != nil {
		if t, ok := cam.AudioTrack(); ok {
			audio = t
		}
	}
	share := newScreenShare(screen, audio)
	if vt, ok := share.VideoTrack(); ok {
		vt.OnEnded(func() { m.screenEnded(share) })
	}
	log.Info().Str("module", "app.media").Bool("grafted_audio", audio != nil).Msg("screen source acquired")
	m.SwitchTo(share)
	return share, nil
}

// SwitchTo makes src active. A previous camera source is retained as "last
// camera"; a superseded screen share is discarded.
func (m *MediaManager) SwitchTo(src core.MediaSource) {
	m.mu.Lock()
	prev := m.active
	m.active = src
	var discard core.MediaSource
	if prev != nil && prev != src {
		if prev.Kind() == core.SourceCamera {
			m.lastCamera = prev
		} else {
			discard = prev
		}
	}
	fn := m.onSwitch
	m.mu.Unlock()

	if discard != nil {
		discard.Close()
	}
	log.Info().Str("module", "app.media").Str("source", src.Kind().String()).Msg("active source switched")
	if fn != nil {
		fn(src)
	}
}

// ToggleScreen flips between camera and screen sharing. Returns whether the
// screen is now being shared.
func (m *MediaManager) ToggleScreen() (bool, error) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	if active != nil && active.Kind() == core.SourceScreen {
		cam := m.currentCamera()
		if cam == nil {
			var err error
			if cam, err = m.devices.AcquireCamera(); err != nil {
				return true, err
			}
		}
		m.SwitchTo(cam)
		return false, nil
	}
	if _, err := m.AcquireScreen(); err != nil {
		return false, err
	}
	return true, nil
}

// ToggleAudio flips the active source's audio track and returns the new
// enabled state.
func (m *MediaManager) ToggleAudio() (bool, error) {
	return m.toggle(core.TrackAudio)
}

// ToggleVideo flips the active source's video track and returns the new
// enabled state.
func (m *MediaManager) ToggleVideo() (bool, error) {
	return m.toggle(core.TrackVideo)
}

func (m *MediaManager) toggle(kind core.TrackKind) (bool, error) {
	m.mu.Lock()
	src := m.active
	m.mu.Unlock()
	if src == nil {
		return false, domain.ErrNoTrackOfKind
	}
	var t core.Track
	var ok bool
	if kind == core.TrackAudio {
		t, ok = src.AudioTrack()
	} else {
		t, ok = src.VideoTrack()
	}
	if !ok {
		return false, domain.ErrNoTrackOfKind
	}
	next := !t.Enabled()
	if err := core.SetTrackEnabled(src, kind, next); err != nil {
		return false, err
	}
	log.Info().Str("module", "app.media").Str("kind", kind.String()).Bool("enabled", next).Msg("track toggled")
	return next, nil
}

// Close releases every owned source.
func (m *MediaManager) Close() {
	m.mu.Lock()
	active := m.active
	last := m.lastCamera
	m.active = nil
	m.lastCamera = nil
	m.mu.Unlock()

	if active != nil {
		active.Close()
	}
	if last != nil && last != active {
		last.Close()
	}
}

// currentCamera is the most recent camera source: the active one if it is a
// camera, otherwise the retained one.
func (m *MediaManager) currentCamera() core.MediaSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && m.active.Kind() == core.SourceCamera {
		return m.active
	}
	return m.lastCamera
}

// screenEnded handles the user stopping the share through the OS surface.
func (m *MediaManager) screenEnded(share core.MediaSource) {
	m.mu.Lock()
	stale := m.active != share
	cam := m.lastCamera
	m.mu.Unlock()
	if stale {
		return
	}

	m.notify.Notify(domain.SeverityInfo, "screen sharing stopped")
	if cam == nil {
		return
	}
	m.SwitchTo(cam)
}

// screenShare combines a screen capture with the microphone track borrowed
// from the camera source. Close releases only the screen capture; the camera
// keeps ownership of its audio track.
type screenShare struct {
	screen core.MediaSource
	audio  core.Track
}

func newScreenShare(screen core.MediaSource, audio core.Track) *screenShare {
	return &screenShare{screen: screen, audio: audio}
}

func (s *screenShare) Kind() core.SourceKind { return core.SourceScreen }

func (s *screenShare) Tracks() []core.Track {
	out := s.screen.Tracks()
	if s.audio != nil {
		out = append(out, s.audio)
	}
	return out
}

func (s *screenShare) AudioTrack() (core.Track, bool) {
	if s.audio != nil {
		return s.audio, true
	}
	return nil, false
}

func (s *screenShare) VideoTrack() (core.Track, bool) {
	return s.screen.VideoTrack()
}

func (s *screenShare) Close() { s.screen.Close() }
