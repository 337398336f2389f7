// Session negotiates media with exactly one remote peer.
//
// The local side is always the polite peer: when an incoming offer collides
// with local negotiation, the local offer is rolled back and the remote one
// wins. Every method, and every callback registered in SessionConfig, runs on
// the Loop goroutine. Offer and answer construction runs on its own goroutine
// and posts the result back to the loop; a generation counter, bumped on
// collisions and on close, makes late results no-ops.

package peer

import (
	"media-coordinator/pkg/log"
	"media-coordinator/pkg/media"
	"media-coordinator/pkg/signal"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

type Session struct {
	cfg SessionConfig
	log *logrus.Entry

	phase Phase

	// offerInFlight is set from the start of local offer construction until
	// the offer is applied, fails or is superseded.
	offerInFlight bool

	// renegotiate remembers a negotiation request made while not settled.
	renegotiate bool

	// negotiated is set once the session first reached stable.
	negotiated bool

	hasRemote  bool
	generation uint64
	pending    CandidateBuffer
}

type SessionConfig struct {
	PeerID    string
	Room      string
	Transport Transport
	Signal    Signal
	Loop      Loop

	// OnRemoteTrack receives remote media, keyed by peer id.
	OnRemoteTrack func(peerID string, track media.RemoteTrack)

	// OnTerminal is called once when the transport failed or closed on its
	// own. The owner is expected to Close and forget the session.
	OnTerminal func(peerID string)

	// OnError receives contained negotiation failures.
	OnError func(peerID string, err error)
}

func NewSession(cfg SessionConfig) *Session {
	s := &Session{
		cfg:   cfg,
		log:   log.WithPeer(cfg.PeerID),
		phase: PhaseNew,
	}

	t := cfg.Transport

	t.OnICECandidate(func(c webrtc.ICECandidateInit) {
		cfg.Loop.Post(func() { s.onLocalCandidate(c) })
	})

	t.OnNegotiationNeeded(func() {
		cfg.Loop.Post(s.Negotiate)
	})

	t.OnTrack(func(track media.RemoteTrack) {
		cfg.Loop.Post(func() { s.onRemoteTrack(track) })
	})

	t.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state != webrtc.PeerConnectionStateFailed && state != webrtc.PeerConnectionStateClosed {
			return
		}

		cfg.Loop.Post(func() { s.onTerminal(state) })
	})

	return s
}

func (s *Session) PeerID() string {
	return s.cfg.PeerID
}

func (s *Session) Phase() Phase {
	return s.phase
}

// OfferInFlight reports whether a local offer is being built.
func (s *Session) OfferInFlight() bool {
	return s.offerInFlight
}

// PendingCandidates is the number of buffered remote candidates.
func (s *Session) PendingCandidates() int {
	return s.pending.Len()
}

// Attach adds local tracks to the transport, which in turn asks for
// negotiation.
func (s *Session) Attach(tracks []webrtc.TrackLocal) {
	if s.closed() {
		return
	}

	for _, track := range tracks {
		if err := s.cfg.Transport.AddTrack(track); err != nil {
			s.report("attach "+track.Kind().String(), err)
		}
	}
}

// Detach removes every local track from the transport.
func (s *Session) Detach() {
	if s.closed() {
		return
	}

	if err := s.cfg.Transport.RemoveTracks(); err != nil {
		s.report("detach", err)
	}
}

// Negotiate starts a local offer, or defers it until the session settles.
func (s *Session) Negotiate() {
	if s.closed() {
		return
	}

	if s.offerInFlight || !s.phase.settled() {
		s.renegotiate = true

		return
	}

	s.renegotiate = false
	s.offerInFlight = true

	gen := s.generation

	go func() {
		offer, err := s.cfg.Transport.CreateOffer()

		s.cfg.Loop.Post(func() { s.onOfferCreated(gen, offer, err) })
	}()
}

func (s *Session) onOfferCreated(gen uint64, offer webrtc.SessionDescription, err error) {
	if gen != s.generation || s.closed() {
		s.log.Debug("discarding superseded local offer")

		return
	}

	s.offerInFlight = false

	if err != nil {
		s.report("create offer", err)
		s.retry()

		return
	}

	if err := s.cfg.Transport.SetLocalDescription(offer); err != nil {
		s.report("apply local offer", err)
		s.retry()

		return
	}

	s.phase = PhaseHaveLocalOffer

	if err := s.send(&signal.Message{Kind: signal.KindOffer, Description: wireDescription(offer)}); err != nil {
		s.report("send offer", err)
	}
}

// retry starts a negotiation requested while a failed offer was being built.
func (s *Session) retry() {
	if s.renegotiate {
		s.Negotiate()
	}
}

// HandleOffer applies a remote offer and answers it, yielding any local
// negotiation in progress.
func (s *Session) HandleOffer(d *signal.Description) {
	if s.closed() {
		return
	}

	offer, kinds, err := parseDescription(d, webrtc.SDPTypeOffer)
	if err != nil {
		s.report("parse offer", err)

		return
	}

	collision := s.offerInFlight || !s.phase.settled()

	if collision {
		s.log.Infof("offer collision in phase %s, yielding to remote offer", s.phase)

		s.generation++
		s.offerInFlight = false

		if err := s.rollback(); err != nil {
			s.report("rollback", err)

			return
		}
	}

	if err := s.cfg.Transport.SetRemoteDescription(offer); err != nil {
		s.report("apply remote offer", err)

		return
	}

	s.log.Debugf("remote offer applied, media %v", kinds)

	s.phase = PhaseHaveRemoteOffer
	s.onRemoteDescription()

	gen := s.generation

	go func() {
		answer, err := s.cfg.Transport.CreateAnswer()

		s.cfg.Loop.Post(func() { s.onAnswerCreated(gen, answer, err) })
	}()
}

func (s *Session) onAnswerCreated(gen uint64, answer webrtc.SessionDescription, err error) {
	if gen != s.generation || s.closed() {
		s.log.Debug("discarding superseded local answer")

		return
	}

	if err != nil {
		s.report("create answer", err)

		return
	}

	if err := s.cfg.Transport.SetLocalDescription(answer); err != nil {
		s.report("apply local answer", err)

		return
	}

	if err := s.send(&signal.Message{Kind: signal.KindAnswer, Description: wireDescription(answer)}); err != nil {
		s.report("send answer", err)
	}

	// The answer already carries the current local tracks; a transport that
	// still needs negotiation signals again.
	s.settle(false)
}

// HandleAnswer applies the remote answer to the local offer.
func (s *Session) HandleAnswer(d *signal.Description) {
	if s.closed() {
		return
	}

	answer, _, err := parseDescription(d, webrtc.SDPTypeAnswer)
	if err != nil {
		s.report("parse answer", err)

		return
	}

	if s.phase != PhaseHaveLocalOffer {
		s.report("apply remote answer", ErrUnexpectedAnswer)

		return
	}

	if err := s.cfg.Transport.SetRemoteDescription(answer); err != nil {
		s.report("apply remote answer", err)

		return
	}

	s.onRemoteDescription()
	s.settle(true)
}

// HandleCandidate applies a remote candidate, or buffers it until a remote
// description is present.
func (s *Session) HandleCandidate(c *signal.Candidate) {
	if s.closed() {
		return
	}

	candidate, err := parseCandidate(c)
	if err != nil {
		s.report("parse candidate", err)

		return
	}

	if !s.hasRemote {
		s.pending.Push(candidate)

		return
	}

	if err := s.cfg.Transport.AddICECandidate(candidate); err != nil {
		s.report("add candidate", err)
	}
}

// Close tears the session down. It is safe in any phase and idempotent.
func (s *Session) Close() error {
	if s.closed() {
		return nil
	}

	s.phase = PhaseClosed
	s.generation++
	s.offerInFlight = false
	s.renegotiate = false
	s.pending.Discard()

	return s.cfg.Transport.Close()
}

func (s *Session) closed() bool {
	return s.phase == PhaseClosed
}

// rollback abandons a half-finished exchange so a remote offer can be
// applied. The transport loses its remote description with it.
func (s *Session) rollback() error {
	if s.phase.settled() {
		return nil
	}

	if err := s.cfg.Transport.Rollback(); err != nil {
		return err
	}

	s.hasRemote = false
	s.pending.Rearm()

	if s.negotiated {
		s.phase = PhaseStable
	} else {
		s.phase = PhaseNew
	}

	return nil
}

// onRemoteDescription flushes candidates that were waiting for it.
func (s *Session) onRemoteDescription() {
	s.hasRemote = true

	for _, candidate := range s.pending.Drain() {
		if err := s.cfg.Transport.AddICECandidate(candidate); err != nil {
			s.report("add buffered candidate", err)
		}
	}
}

// settle enters stable and, when replay is set, starts the negotiation that
// was deferred meanwhile.
func (s *Session) settle(replay bool) {
	s.phase = PhaseStable
	s.negotiated = true

	s.log.Debug("negotiation stable")

	if !replay {
		s.renegotiate = false
	}

	if s.renegotiate {
		s.Negotiate()
	}
}

func (s *Session) onLocalCandidate(c webrtc.ICECandidateInit) {
	if s.closed() {
		return
	}

	if err := s.send(&signal.Message{Kind: signal.KindCandidate, Candidate: wireCandidate(c)}); err != nil {
		s.log.Error(err)
	}
}

func (s *Session) onRemoteTrack(track media.RemoteTrack) {
	if s.closed() {
		return
	}

	s.log.Infof("remote %s track %s", track.Kind(), track.ID())

	if s.cfg.OnRemoteTrack != nil {
		s.cfg.OnRemoteTrack(s.cfg.PeerID, track)
	}
}

func (s *Session) onTerminal(state webrtc.PeerConnectionState) {
	if s.closed() {
		return
	}

	s.log.Infof("transport %s", state)

	if s.cfg.OnTerminal != nil {
		s.cfg.OnTerminal(s.cfg.PeerID)
	}
}

func (s *Session) send(msg *signal.Message) error {
	msg.Room = s.cfg.Room
	msg.To = s.cfg.PeerID

	return s.cfg.Signal.Send(msg)
}

// report logs a contained failure and hands it to OnError.
func (s *Session) report(op string, err error) {
	nerr := &NegotiationError{PeerID: s.cfg.PeerID, Op: op, Err: err}

	s.log.Error(nerr)

	if s.cfg.OnError != nil {
		s.cfg.OnError(s.cfg.PeerID, nerr)
	}
}
