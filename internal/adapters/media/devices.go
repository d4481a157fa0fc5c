// Package media captures local audio and video through pion/mediadevices and
// exposes them as sources the call layer can attach and swap.
package media

import (
	"fmt"
	"strings"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
)

// Devices opens capture hardware with a fixed VP8+Opus encoder pipeline.
type Devices struct {
	selector *mediadevices.CodecSelector
}

// NewDevices configures the encoders once; every acquired source reuses them.
func NewDevices() (*Devices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)
	return &Devices{selector: selector}, nil
}

// AcquireCamera opens the camera and microphone. A missing or busy mic must
// not block the camera (and vice versa), so capture falls back to single-kind
// attempts before giving up.
func (d *Devices) AcquireCamera() (core.MediaSource, error) {
	attempts := []struct {
		video bool
		audio bool
		label string
	}{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	}

	var lastErr error
	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Raw formats only: MJPEG camera nodes can feed the VP8
				// encoder malformed frames.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 1280}
				c.Height = prop.IntRanged{Max: 720}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Warn().Err(err).Str("module", "media").Str("attempt", a.label).Msg("capture failed")
			lastErr = err
			continue
		}
		log.Info().Str("module", "media").Str("attempt", a.label).Msg("camera acquired")
		return newSource(core.SourceCamera, stream), nil
	}
	return nil, classify(lastErr)
}

// AcquireScreen opens a screen capture. Screen audio is not captured; the
// call layer grafts the microphone track from the camera source instead.
func (d *Devices) AcquireScreen() (core.MediaSource, error) {
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: d.selector,
		Video: func(_ *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "media").Msg("screen capture failed")
		return nil, classify(err)
	}
	log.Info().Str("module", "media").Msg("screen acquired")
	return newSource(core.SourceScreen, stream), nil
}

// classify maps capture failures onto the domain errors the call layer
// distinguishes.
func classify(err error) error {
	if err == nil {
		return domain.ErrDeviceNotFound
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "denied"):
		return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	case strings.Contains(msg, "not found") || strings.Contains(msg, "failed to find"):
		return fmt.Errorf("%w: %v", domain.ErrDeviceNotFound, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrDeviceNotFound, err)
	}
}
