package media

import (
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Duet/internal/core"
)

// source is a captured mediadevices stream presented as a core.MediaSource.
type source struct {
	kind   core.SourceKind
	tracks []core.Track
}

func newSource(kind core.SourceKind, stream mediadevices.MediaStream) *source {
	s := &source{kind: kind}
	for _, t := range stream.GetTracks() {
		s.tracks = append(s.tracks, newTrack(t))
	}
	return s
}

func (s *source) Kind() core.SourceKind { return s.kind }

func (s *source) Tracks() []core.Track { return s.tracks }

func (s *source) AudioTrack() (core.Track, bool) { return s.find(core.TrackAudio) }

func (s *source) VideoTrack() (core.Track, bool) { return s.find(core.TrackVideo) }

func (s *source) find(kind core.TrackKind) (core.Track, bool) {
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t, true
		}
	}
	return nil, false
}

func (s *source) Close() {
	for _, t := range s.tracks {
		t.Close()
	}
	log.Info().Str("module", "media").Str("kind", s.kind.String()).Msg("source released")
}

func trackKind(t mediadevices.Track) core.TrackKind {
	if t.Kind() == webrtc.RTPCodecTypeAudio {
		return core.TrackAudio
	}
	return core.TrackVideo
}
