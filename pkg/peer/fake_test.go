package peer

import (
	"sync"
	"testing"
	"time"

	"media-coordinator/pkg/media"
	"media-coordinator/pkg/signal"

	"github.com/pion/webrtc/v3"
)

const (
	testSDP = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\n"

	// remoteSDP stands for the remote offer in collisions, so tests can tell
	// which offer got applied.
	remoteSDP = "v=0\r\no=remote 1 1 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\nm=video 9 UDP/TLS/RTP/SAVPF 96\r\n"
)

// fakeTransport records every call. CreateOffer blocks on offerGate when it
// is set and fails with the queued offerErrs first.
type fakeTransport struct {
	mx sync.Mutex

	offerGate chan struct{}
	offerErrs []error
	offers    int

	remoteErr error
	rollbacks int

	local      []webrtc.SessionDescription
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	tracks     []webrtc.TrackLocal
	closed     int

	onCandidate func(webrtc.ICECandidateInit)
	onTrack     func(media.RemoteTrack)
	onNeg       func()
	onState     func(webrtc.PeerConnectionState)
}

func (f *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	f.mx.Lock()
	gate := f.offerGate
	f.offers++

	var err error
	if len(f.offerErrs) != 0 {
		err, f.offerErrs = f.offerErrs[0], f.offerErrs[1:]
	}
	f.mx.Unlock()

	if gate != nil {
		<-gate
	}

	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP}, nil
}

func (f *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testSDP}, nil
}

func (f *fakeTransport) SetLocalDescription(d webrtc.SessionDescription) error {
	f.mx.Lock()
	defer f.mx.Unlock()

	f.local = append(f.local, d)

	return nil
}

func (f *fakeTransport) SetRemoteDescription(d webrtc.SessionDescription) error {
	f.mx.Lock()
	defer f.mx.Unlock()

	if f.remoteErr != nil {
		return f.remoteErr
	}

	f.remote = append(f.remote, d)

	return nil
}

func (f *fakeTransport) Rollback() error {
	f.mx.Lock()
	defer f.mx.Unlock()

	f.rollbacks++

	return nil
}

func (f *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mx.Lock()
	defer f.mx.Unlock()

	f.candidates = append(f.candidates, c)

	return nil
}

func (f *fakeTransport) AddTrack(t webrtc.TrackLocal) error {
	f.mx.Lock()
	defer f.mx.Unlock()

	f.tracks = append(f.tracks, t)

	return nil
}

func (f *fakeTransport) RemoveTracks() error {
	f.mx.Lock()
	defer f.mx.Unlock()

	f.tracks = nil

	return nil
}

func (f *fakeTransport) Close() error {
	f.mx.Lock()
	defer f.mx.Unlock()

	f.closed++

	return nil
}

func (f *fakeTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) { f.onCandidate = fn }
func (f *fakeTransport) OnTrack(fn func(media.RemoteTrack))              { f.onTrack = fn }
func (f *fakeTransport) OnNegotiationNeeded(fn func())                   { f.onNeg = fn }
func (f *fakeTransport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.onState = fn
}

func (f *fakeTransport) localTypes() []webrtc.SDPType {
	f.mx.Lock()
	defer f.mx.Unlock()

	var out []webrtc.SDPType
	for _, d := range f.local {
		out = append(out, d.Type)
	}

	return out
}

func (f *fakeTransport) addedCandidates() []string {
	f.mx.Lock()
	defer f.mx.Unlock()

	var out []string
	for _, c := range f.candidates {
		out = append(out, c.Candidate)
	}

	return out
}

// fakeSignal records outbound messages.
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

func (f *fakeSignal) kinds() []signal.Kind {
	f.mx.Lock()
	defer f.mx.Unlock()

	var out []signal.Kind
	for _, m := range f.sent {
		out = append(out, m.Kind)
	}

	return out
}

// testLoop queues posted functions; the test goroutine runs them with step,
// which makes it the loop goroutine.
type testLoop struct {
	fns chan func()
}

func newTestLoop() *testLoop {
	return &testLoop{fns: make(chan func(), 64)}
}

func (l *testLoop) Post(fn func()) {
	l.fns <- fn
}

func (l *testLoop) step(t *testing.T) {
	t.Helper()

	select {
	case fn := <-l.fns:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a posted function")
	}
}

func (l *testLoop) idle(t *testing.T) {
	t.Helper()

	select {
	case <-l.fns:
		t.Fatal("unexpected posted function")
	case <-time.After(50 * time.Millisecond):
	}
}

type sessionHarness struct {
	session   *Session
	transport *fakeTransport
	signal    *fakeSignal
	loop      *testLoop

	errs     []error
	terminal []string
}

func newHarness() *sessionHarness {
	h := &sessionHarness{
		transport: &fakeTransport{},
		signal:    &fakeSignal{},
		loop:      newTestLoop(),
	}

	h.session = NewSession(SessionConfig{
		PeerID:    "bob",
		Room:      "r1",
		Transport: h.transport,
		Signal:    h.signal,
		Loop:      h.loop,
		OnTerminal: func(peerID string) {
			h.terminal = append(h.terminal, peerID)
		},
		OnError: func(peerID string, err error) {
			h.errs = append(h.errs, err)
		},
	})

	return h
}

func candidate(s string) *signal.Candidate {
	return &signal.Candidate{Candidate: s}
}

func offer() *signal.Description {
	return &signal.Description{Type: "offer", SDP: testSDP}
}

func remoteOffer() *signal.Description {
	return &signal.Description{Type: "offer", SDP: remoteSDP}
}

func (f *fakeTransport) lastRemote() webrtc.SessionDescription {
	f.mx.Lock()
	defer f.mx.Unlock()

	if len(f.remote) == 0 {
		return webrtc.SessionDescription{}
	}

	return f.remote[len(f.remote)-1]
}

func answer() *signal.Description {
	return &signal.Description{Type: "answer", SDP: testSDP}
}

func (f *fakeSignal) find(kind signal.Kind) *signal.Message {
	f.mx.Lock()
	defer f.mx.Unlock()

	for _, m := range f.sent {
		if m.Kind == kind {
			return m
		}
	}

	return nil
}

// runLoop runs posted functions on its own goroutine, for transports whose
// callbacks fire at any time.
type runLoop struct {
	fns  chan func()
	done chan struct{}
}

func newRunLoop(t *testing.T) *runLoop {
	l := &runLoop{
		fns:  make(chan func(), 256),
		done: make(chan struct{}),
	}

	go func() {
		for {
			select {
			case fn := <-l.fns:
				fn()
			case <-l.done:
				return
			}
		}
	}()

	t.Cleanup(func() { close(l.done) })

	return l
}

func (l *runLoop) Post(fn func()) {
	select {
	case l.fns <- fn:
	case <-l.done:
	}
}

// do runs fn on the loop and waits for it.
func (l *runLoop) do(fn func()) {
	ran := make(chan struct{})

	l.Post(func() {
		fn()
		close(ran)
	})

	select {
	case <-ran:
	case <-l.done:
	}
}
