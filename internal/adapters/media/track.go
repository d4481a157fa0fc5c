package media

import (
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Duet/internal/core"
)

// track adapts a mediadevices capture track to core.Track. The enabled flag
// is a soft mute: the capture keeps running so re-enabling is instant.
type track struct {
	inner mediadevices.Track
	kind  core.TrackKind

	mu      sync.Mutex
	enabled bool
	closed  bool
	onEnded func()
}

func newTrack(inner mediadevices.Track) *track {
	t := &track{inner: inner, kind: trackKind(inner), enabled: true}
	inner.OnEnded(func(err error) {
		if err != nil {
			log.Warn().Err(err).Str("module", "media").Str("kind", t.kind.String()).Msg("track ended")
		}
		t.mu.Lock()
		fn := t.onEnded
		t.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	return t
}

func (t *track) Kind() core.TrackKind { return t.kind }

func (t *track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *track) SetEnabled(on bool) {
	t.mu.Lock()
	t.enabled = on
	t.mu.Unlock()
	log.Info().Str("module", "media").Str("kind", t.kind.String()).Bool("enabled", on).Msg("track toggled")
}

// Local exposes the transport payload; mediadevices tracks implement
// webrtc.TrackLocal directly.
func (t *track) Local() webrtc.TrackLocal { return t.inner }

func (t *track) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

func (t *track) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()
	if err := t.inner.Close(); err != nil {
		log.Warn().Err(err).Str("module", "media").Str("kind", t.kind.String()).Msg("close track")
	}
}
