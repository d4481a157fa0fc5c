package rtc

import (
	"context"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// remoteStream is the inbound media of one negotiation. Its tracks are
// drained continuously so RTCP feedback keeps flowing; Close cancels every
// drain loop.
type remoteStream struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	packets atomic.Uint64
	bytes   atomic.Uint64
}

func newRemoteStream(id string) *remoteStream {
	ctx, cancel := context.WithCancel(context.Background())
	return &remoteStream{id: id, ctx: ctx, cancel: cancel}
}

func (r *remoteStream) ID() string { return r.id }

func (r *remoteStream) Close() { r.cancel() }

// Packets reports how many RTP packets arrived so far, across all tracks.
func (r *remoteStream) Packets() uint64 { return r.packets.Load() }

// Bytes reports the RTP payload volume received so far.
func (r *remoteStream) Bytes() uint64 { return r.bytes.Load() }

func (r *remoteStream) drain(track *webrtc.TrackRemote) {
	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("module", "rtc").Str("stream", r.id).Str("kind", track.Kind().String()).Msg("track drained")
			return
		}
		r.account(pkt)
	}
}

func (r *remoteStream) account(pkt *rtp.Packet) {
	r.packets.Add(1)
	r.bytes.Add(uint64(len(pkt.Payload)))
}
