package media

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"media-coordinator/pkg/log"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/pkg/errors"
)

// Source yields encoded samples in playback order; io.EOF ends the track.
type Source interface {
	Next() (pionmedia.Sample, error)
	Close() error
}

// RemoteTrack is the part of *webrtc.TrackRemote the coordinator consumes.
type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Sink consumes remote media for a peer.
type Sink interface {
	OnRemoteTrack(peerID string, track RemoteTrack)
}

// Track is one outbound local track. Disabling it mutes the track: samples
// keep being consumed from the source but are not written.
type Track struct {
	kind  webrtc.RTPCodecType
	local *webrtc.TrackLocalStaticSample

	enabled atomic.Bool

	source   Source
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

const streamID = "media-coordinator"

// NewTrack starts pumping samples from source into a new local track.
func NewTrack(kind webrtc.RTPCodecType, mimeType string, source Source) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mimeType}, kind.String(), streamID)
	if err != nil {
		return nil, errors.Wrap(err, "local track")
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &Track{
		kind:   kind,
		local:  local,
		source: source,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.enabled.Store(true)

	go t.pump(ctx)

	return t, nil
}

func (t *Track) Kind() webrtc.RTPCodecType {
	return t.kind
}

func (t *Track) Local() webrtc.TrackLocal {
	return t.local
}

func (t *Track) Enabled() bool {
	return t.enabled.Load()
}

func (t *Track) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

// Toggle flips the enabled flag and returns the new value.
func (t *Track) Toggle() bool {
	for {
		old := t.enabled.Load()
		if t.enabled.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Stop ends the pump and releases the source. Safe to call more than once.
func (t *Track) Stop() {
	t.stopOnce.Do(func() {
		t.cancel()
		<-t.done

		if err := t.source.Close(); err != nil {
			log.Error(errors.Wrap(err, "close media source"))
		}
	})
}

func (t *Track) pump(ctx context.Context) {
	defer close(t.done)

	for {
		sample, err := t.source.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Error(errors.Wrapf(err, "%s source", t.kind))
			}

			return
		}

		if t.Enabled() {
			if err := t.local.WriteSample(sample); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				log.Error(errors.Wrapf(err, "%s write", t.kind))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(sample.Duration):
		}
	}
}
