package room

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"media-coordinator/pkg/media"
	"media-coordinator/pkg/peer"
	"media-coordinator/pkg/signal"

	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
)

const testSDP = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\n"

// fakeTransport asks for negotiation whenever a track is added, like a
// PeerConnection does.
type fakeTransport struct {
	mx sync.Mutex

	candidates []string
	tracks     int
	closed     int

	onNeg func()
}

func (f *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP}, nil
}

func (f *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testSDP}, nil
}

func (f *fakeTransport) SetLocalDescription(webrtc.SessionDescription) error  { return nil }
func (f *fakeTransport) SetRemoteDescription(webrtc.SessionDescription) error { return nil }

func (f *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mx.Lock()
	defer f.mx.Unlock()

	f.candidates = append(f.candidates, c.Candidate)

	return nil
}

func (f *fakeTransport) Rollback() error { return nil }

func (f *fakeTransport) AddTrack(webrtc.TrackLocal) error {
	f.mx.Lock()
	f.tracks++
	onNeg := f.onNeg
	f.mx.Unlock()

	if onNeg != nil {
		onNeg()
	}

	return nil
}

func (f *fakeTransport) RemoveTracks() error {
	f.mx.Lock()
	defer f.mx.Unlock()

	f.tracks = 0

	return nil
}

func (f *fakeTransport) Close() error {
	f.mx.Lock()
	defer f.mx.Unlock()

	f.closed++

	return nil
}

func (f *fakeTransport) OnICECandidate(func(webrtc.ICECandidateInit)) {}
func (f *fakeTransport) OnTrack(func(media.RemoteTrack))              {}

func (f *fakeTransport) OnNegotiationNeeded(fn func()) {
	f.mx.Lock()
	defer f.mx.Unlock()

	f.onNeg = fn
}

func (f *fakeTransport) OnConnectionStateChange(func(webrtc.PeerConnectionState)) {}

func (f *fakeTransport) trackCount() int {
	f.mx.Lock()
	defer f.mx.Unlock()

	return f.tracks
}

func (f *fakeTransport) snapshot() (candidates []string, closed int) {
	f.mx.Lock()
	defer f.mx.Unlock()

	return append([]string(nil), f.candidates...), f.closed
}

type fakeSignal struct {
	mx   sync.Mutex
	sent []*signal.Message
}

func (f *fakeSignal) Send(msg *signal.Message) error {
	f.mx.Lock()
	defer f.mx.Unlock()

	f.sent = append(f.sent, msg)

	return nil
}

func (f *fakeSignal) count(kind signal.Kind) int {
	f.mx.Lock()
	defer f.mx.Unlock()

	n := 0

	for _, m := range f.sent {
		if m.Kind == kind {
			n++
		}
	}

	return n
}

// eofSource ends immediately; Track only needs it to be closable.
type eofSource struct {
	mx     sync.Mutex
	closed bool
}

func (s *eofSource) Next() (pionmedia.Sample, error) {
	return pionmedia.Sample{}, io.EOF
}

func (s *eofSource) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()

	s.closed = true

	return nil
}

type fakeCapability struct {
	audioErr error
	videoErr error
}

func (c *fakeCapability) AcquireAudio() (*media.Track, error) {
	if c.audioErr != nil {
		return nil, c.audioErr
	}

	return media.NewTrack(webrtc.RTPCodecTypeAudio, webrtc.MimeTypeOpus, &eofSource{})
}

func (c *fakeCapability) AcquireVideo() (*media.Track, error) {
	if c.videoErr != nil {
		return nil, c.videoErr
	}

	return media.NewTrack(webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8, &eofSource{})
}

type harness struct {
	coordinator *Coordinator
	signal      *fakeSignal

	mx         sync.Mutex
	transports map[string]*fakeTransport
	left       []string

	cancel context.CancelFunc
	done   chan struct{}
}

func newHarness(t *testing.T, capability media.Capability, withVideo bool) *harness {
	t.Helper()

	h := &harness{
		signal:     &fakeSignal{},
		transports: make(map[string]*fakeTransport),
		done:       make(chan struct{}),
	}

	h.coordinator = New(Config{
		Signal: h.signal,
		Transports: func(peerID string) (peer.Transport, error) {
			h.mx.Lock()
			defer h.mx.Unlock()

			ft := &fakeTransport{}
			h.transports[peerID] = ft

			return ft, nil
		},
		Capability: capability,
		WithVideo:  withVideo,
		OnPeerLeft: func(peerID string) {
			h.mx.Lock()
			defer h.mx.Unlock()

			h.left = append(h.left, peerID)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	go func() {
		defer close(h.done)

		h.coordinator.Run(ctx)
	}()

	t.Cleanup(h.stop)

	h.coordinator.Dispatch(&signal.Message{Kind: signal.KindWelcome, To: "self"})

	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.done
}

func (h *harness) transport(peerID string) *fakeTransport {
	h.mx.Lock()
	defer h.mx.Unlock()

	return h.transports[peerID]
}

func (h *harness) peersLeft() []string {
	h.mx.Lock()
	defer h.mx.Unlock()

	return append([]string(nil), h.left...)
}

func (h *harness) from(kind signal.Kind, peerID string) *signal.Message {
	return &signal.Message{Kind: kind, Room: "r1", From: peerID, To: "self"}
}

// connect brings a session with peerID to stable: the remote joins, the
// local offer goes out and the remote answers it.
func (h *harness) connect(t *testing.T, ctx context.Context, peerID string) {
	t.Helper()

	offers := h.signal.count(signal.KindOffer)

	h.coordinator.Dispatch(h.from(signal.KindJoined, peerID))

	eventually(t, "offer to "+peerID, func() bool { return h.signal.count(signal.KindOffer) == offers+1 })

	msg := h.from(signal.KindAnswer, peerID)
	msg.Description = &signal.Description{Type: "answer", SDP: testSDP}
	h.coordinator.Dispatch(msg)

	phase, _, err := h.coordinator.Phase(ctx, peerID)
	if err != nil || phase != peer.PhaseStable {
		t.Fatalf("Phase(%s) = %s, %v; want %s", peerID, phase, err, peer.PhaseStable)
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)

	return ctx
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)

	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}

		time.Sleep(5 * time.Millisecond)
	}
}
