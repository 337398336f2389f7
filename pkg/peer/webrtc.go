package peer

import (
	"strings"
	"sync"
	"time"

	"media-coordinator/pkg/log"
	"media-coordinator/pkg/media"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
)

// WebRTC is the pion PeerConnection backed Transport. pion cannot roll a
// half-finished exchange back, so Rollback swaps in a fresh PeerConnection;
// events from replaced connections are dropped.
type WebRTC struct {
	api    *webrtc.API
	config webrtc.Configuration

	mx      sync.Mutex
	conn    *webrtc.PeerConnection
	tracks  []webrtc.TrackLocal
	senders []*webrtc.RTPSender

	handlers handlers
}

type handlers struct {
	candidate func(webrtc.ICECandidateInit)
	track     func(media.RemoteTrack)
	neg       func()
	state     func(webrtc.PeerConnectionState)
}

type WebRTCConfig struct {
	STUN []string

	TURN         []string
	TURNUsername string
	TURNPassword string
}

var _ Transport = (*WebRTC)(nil)

// ICEServers builds the ICE server list. Bare "host:port" STUN entries get
// the "stun:" scheme.
func (cfg WebRTCConfig) ICEServers() []webrtc.ICEServer {
	ice := make([]webrtc.ICEServer, 0, len(cfg.STUN)+1)

	for _, stun := range cfg.STUN {
		if !strings.HasPrefix(stun, "stun:") && !strings.HasPrefix(stun, "stuns:") {
			stun = "stun:" + stun
		}

		ice = append(ice, webrtc.ICEServer{
			URLs: []string{stun},
		})
	}

	if len(cfg.TURN) != 0 {
		ice = append(ice, webrtc.ICEServer{
			URLs:           cfg.TURN,
			Username:       cfg.TURNUsername,
			Credential:     cfg.TURNPassword,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}

	return ice
}

func NewWebRTC(cfg WebRTCConfig) (*WebRTC, error) {
	m := &webrtc.MediaEngine{}

	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, errors.Wrap(err, "register codecs")
	}

	i := &interceptor.Registry{}

	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, errors.Wrap(err, "register interceptors")
	}

	settings := webrtc.SettingEngine{
		LoggerFactory: log.PionLoggerFactory{},
	}

	settings.SetICETimeouts(5*time.Second, 25*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(settings),
	)

	p := &WebRTC{
		api: api,
		config: webrtc.Configuration{
			ICEServers: cfg.ICEServers(),
		},
	}

	conn, err := p.open()
	if err != nil {
		return nil, err
	}

	p.conn = conn

	return p, nil
}

// Factory returns a TransportFactory opening a new PeerConnection per peer.
func (cfg WebRTCConfig) Factory() TransportFactory {
	return func(string) (Transport, error) {
		return NewWebRTC(cfg)
	}
}

func (p *WebRTC) current() *webrtc.PeerConnection {
	p.mx.Lock()
	defer p.mx.Unlock()

	return p.conn
}

func (p *WebRTC) CreateOffer() (webrtc.SessionDescription, error) {
	return p.current().CreateOffer(nil)
}

func (p *WebRTC) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.current().CreateAnswer(nil)
}

func (p *WebRTC) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.current().SetLocalDescription(desc)
}

func (p *WebRTC) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.current().SetRemoteDescription(desc)
}

func (p *WebRTC) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.current().AddICECandidate(candidate)
}

func (p *WebRTC) AddTrack(track webrtc.TrackLocal) error {
	p.mx.Lock()
	defer p.mx.Unlock()

	sender, err := p.conn.AddTrack(track)
	if err != nil {
		return err
	}

	p.tracks = append(p.tracks, track)
	p.senders = append(p.senders, sender)

	go drainRTCP(sender)

	return nil
}

func (p *WebRTC) RemoveTracks() error {
	p.mx.Lock()
	defer p.mx.Unlock()

	senders := p.senders
	p.senders = nil
	p.tracks = nil

	for _, sender := range senders {
		if err := p.conn.RemoveTrack(sender); err != nil {
			return err
		}
	}

	return nil
}

// Rollback replaces the PeerConnection with a new one carrying the same
// local tracks. Both descriptions and all gathered candidates are lost.
func (p *WebRTC) Rollback() error {
	conn, err := p.open()
	if err != nil {
		return errors.Wrap(err, "replace peer connection")
	}

	p.mx.Lock()
	old := p.conn
	tracks := p.tracks
	p.conn = conn
	p.senders = nil
	p.mx.Unlock()

	for _, track := range tracks {
		sender, err := conn.AddTrack(track)
		if err != nil {
			return errors.Wrapf(err, "re-attach %s track", track.Kind())
		}

		p.mx.Lock()
		p.senders = append(p.senders, sender)
		p.mx.Unlock()

		go drainRTCP(sender)
	}

	log.Debug("peer connection replaced")

	return old.Close()
}

func (p *WebRTC) Close() error {
	conn := p.current()

	if conn.ConnectionState() == webrtc.PeerConnectionStateClosed {
		return nil
	}

	return conn.Close()
}

func (p *WebRTC) OnICECandidate(h func(webrtc.ICECandidateInit)) {
	p.mx.Lock()
	defer p.mx.Unlock()

	p.handlers.candidate = h
}

func (p *WebRTC) OnTrack(h func(media.RemoteTrack)) {
	p.mx.Lock()
	defer p.mx.Unlock()

	p.handlers.track = h
}

func (p *WebRTC) OnNegotiationNeeded(h func()) {
	p.mx.Lock()
	defer p.mx.Unlock()

	p.handlers.neg = h
}

func (p *WebRTC) OnConnectionStateChange(h func(webrtc.PeerConnectionState)) {
	p.mx.Lock()
	defer p.mx.Unlock()

	p.handlers.state = h
}

// open creates a PeerConnection whose events reach the registered handlers
// only while it is the current one.
func (p *WebRTC) open() (*webrtc.PeerConnection, error) {
	conn, err := p.api.NewPeerConnection(p.config)
	if err != nil {
		return nil, err
	}

	conn.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if h, ok := p.handlersOf(conn); ok && h.candidate != nil && candidate != nil {
			h.candidate(candidate.ToJSON())
		}
	})

	conn.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if h, ok := p.handlersOf(conn); ok && h.track != nil {
			h.track(track)
		}
	})

	conn.OnNegotiationNeeded(func() {
		if h, ok := p.handlersOf(conn); ok && h.neg != nil {
			h.neg()
		}
	})

	conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("connection state changed: ", state)

		if h, ok := p.handlersOf(conn); ok && h.state != nil {
			h.state(state)
		}
	})

	return conn, nil
}

// handlersOf returns the registered handlers, and whether conn is still the
// current connection.
func (p *WebRTC) handlersOf(conn *webrtc.PeerConnection) (handlers, bool) {
	p.mx.Lock()
	defer p.mx.Unlock()

	return p.handlers, p.conn == conn
}

// drainRTCP reads incoming RTCP so interceptors (NACK, reports) keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)

	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
