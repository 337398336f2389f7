package room

import (
	"context"
	"sort"

	"media-coordinator/pkg/log"
	"media-coordinator/pkg/media"
	"media-coordinator/pkg/peer"
	"media-coordinator/pkg/signal"

	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
)

var (
	// ErrStopped is returned by calls made after Run has returned.
	ErrStopped = errors.New("coordinator stopped")

	ErrNoLocalMedia = errors.New("no local media")
)

// DefaultMaxPeers keeps each endpoint to one remote peer: further peers are
// ignored rather than queued.
const DefaultMaxPeers = 1

// Coordinator owns the sessions of one room. All of its state is confined to
// the goroutine running Run; exported methods hand work to it.
type Coordinator struct {
	cfg   Config
	queue *queue

	stopped chan struct{}

	room   string
	self   string
	joined bool

	local    *media.LocalMedia
	sessions map[string]*peer.Session

	// departed holds peers that left, so late messages cannot recreate them.
	departed map[string]struct{}
}

type Config struct {
	Signal     peer.Signal
	Transports peer.TransportFactory
	Capability media.Capability

	// Sink receives remote tracks. Optional.
	Sink media.Sink

	// WithVideo asks for the camera on Join.
	WithVideo bool

	// MaxPeers caps concurrent sessions. Zero means DefaultMaxPeers.
	MaxPeers int

	// OnPeerLeft fires once for every session that is removed.
	OnPeerLeft func(peerID string)

	// OnError receives contained negotiation failures.
	OnError func(peerID string, err error)
}

func New(cfg Config) *Coordinator {
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = DefaultMaxPeers
	}

	return &Coordinator{
		cfg:      cfg,
		queue:    newQueue(),
		stopped:  make(chan struct{}),
		sessions: make(map[string]*peer.Session),
		departed: make(map[string]struct{}),
	}
}

// Run processes events until ctx is done, then leaves the room.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.stopped)

	for {
		for fn := c.queue.pop(); fn != nil; fn = c.queue.pop() {
			fn()
		}

		select {
		case <-ctx.Done():
			c.leave()

			return
		case <-c.queue.notify:
		}
	}
}

// Dispatch queues one inbound signaling message. It never blocks.
func (c *Coordinator) Dispatch(msg *signal.Message) {
	c.queue.Post(func() { c.handle(msg) })
}

// Join acquires local media and announces presence in the room. Sessions
// are only created by messages from other peers.
func (c *Coordinator) Join(ctx context.Context, room string) error {
	return c.call(ctx, func() error { return c.join(room) })
}

// Leave closes every session, releases local media and announces departure.
// It is idempotent.
func (c *Coordinator) Leave(ctx context.Context) error {
	return c.call(ctx, func() error {
		c.leave()

		return nil
	})
}

// StartCamera adds video to the local media and to every session.
func (c *Coordinator) StartCamera(ctx context.Context) error {
	return c.call(ctx, c.startCamera)
}

// StopMedia detaches and releases local media.
func (c *Coordinator) StopMedia(ctx context.Context) error {
	return c.call(ctx, func() error {
		c.stopMedia()

		return nil
	})
}

// ToggleAudio mutes or unmutes the microphone and returns the new state.
func (c *Coordinator) ToggleAudio(ctx context.Context) (enabled bool, err error) {
	err = c.call(ctx, func() error {
		if c.local == nil {
			return ErrNoLocalMedia
		}

		enabled = c.local.ToggleAudio()

		return nil
	})

	return enabled, err
}

// ToggleVideo mutes or unmutes the camera. Without a camera it does nothing
// and reports false.
func (c *Coordinator) ToggleVideo(ctx context.Context) (enabled bool, err error) {
	err = c.call(ctx, func() error {
		if c.local == nil {
			return ErrNoLocalMedia
		}

		enabled = c.local.ToggleVideo()

		return nil
	})

	return enabled, err
}

// Peers returns the ids of peers with a live session, sorted.
func (c *Coordinator) Peers(ctx context.Context) (peers []string, err error) {
	err = c.call(ctx, func() error {
		for id := range c.sessions {
			peers = append(peers, id)
		}

		sort.Strings(peers)

		return nil
	})

	return peers, err
}

// Phase returns the negotiation phase of a peer's session.
func (c *Coordinator) Phase(ctx context.Context, peerID string) (phase peer.Phase, ok bool, err error) {
	err = c.call(ctx, func() error {
		s, found := c.sessions[peerID]
		if found {
			phase, ok = s.Phase(), true
		}

		return nil
	})

	return phase, ok, err
}

// LocalMedia exposes the current local tracks, nil before Join.
func (c *Coordinator) LocalMedia(ctx context.Context) (m *media.LocalMedia, err error) {
	err = c.call(ctx, func() error {
		m = c.local

		return nil
	})

	return m, err
}

func (c *Coordinator) call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)

	c.queue.Post(func() { errc <- fn() })

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
}

func (c *Coordinator) join(room string) error {
	if c.joined {
		if c.room == room {
			return nil
		}

		c.leave()
	}

	if c.local == nil {
		local, err := media.Acquire(c.cfg.Capability, c.cfg.WithVideo)
		if err != nil {
			return errors.Wrap(err, "local media")
		}

		c.local = local
	}

	if err := c.cfg.Signal.Send(&signal.Message{Kind: signal.KindJoin, Room: room}); err != nil {
		c.stopMedia()

		return errors.Wrap(err, "announce join")
	}

	c.room = room
	c.joined = true

	log.Infof("joined room %s (video: %t)", room, c.local.HasVideo())

	return nil
}

func (c *Coordinator) leave() {
	for id := range c.sessions {
		c.remove(id)
	}

	c.stopMedia()

	if c.joined {
		if err := c.cfg.Signal.Send(&signal.Message{Kind: signal.KindLeave, Room: c.room}); err != nil {
			log.Warnf("announce leave: %s", err)
		}

		log.Infof("left room %s", c.room)
	}

	c.joined = false
	c.room = ""
	c.departed = make(map[string]struct{})
}

func (c *Coordinator) startCamera() error {
	if c.local == nil {
		local, err := media.Acquire(c.cfg.Capability, false)
		if err != nil {
			return errors.Wrap(err, "local media")
		}

		c.local = local
		c.attachAll(local.Tracks())
	}

	video, err := c.local.AddVideo(c.cfg.Capability)
	if err != nil {
		return errors.Wrap(err, "camera")
	}

	if video != nil {
		c.attachAll([]webrtc.TrackLocal{video.Local()})
	}

	return nil
}

func (c *Coordinator) stopMedia() {
	if c.local == nil {
		return
	}

	for _, s := range c.sessions {
		s.Detach()
	}

	c.local.Stop()
	c.local = nil
}

func (c *Coordinator) attachAll(tracks []webrtc.TrackLocal) {
	for _, s := range c.sessions {
		s.Attach(tracks)
	}
}

func (c *Coordinator) handle(msg *signal.Message) {
	switch msg.Kind {
	case signal.KindWelcome:
		c.self = msg.To
		log.Debugf("signaling assigned peer id %s", c.self)

		return
	case signal.KindError:
		log.Warnf("signaling error: %s", msg.Error)

		return
	}

	if !c.accepts(msg) {
		return
	}

	s := c.sessions[msg.From]

	switch msg.Kind {
	case signal.KindJoined:
		if s == nil {
			c.open(msg.From)
		}

	case signal.KindOffer:
		if s == nil {
			if s = c.open(msg.From); s == nil {
				return
			}
		}

		s.HandleOffer(msg.Description)

	case signal.KindAnswer:
		if s != nil {
			s.HandleAnswer(msg.Description)
		}

	case signal.KindCandidate:
		if s != nil {
			s.HandleCandidate(msg.Candidate)
		}

	case signal.KindLeft:
		if s != nil {
			log.Infof("peer %s left", msg.From)
			c.remove(msg.From)
		}

	default:
		log.Warnf("unexpected signaling message %q", msg.Kind)
	}
}

// accepts filters messages that are not for this endpoint's current room.
func (c *Coordinator) accepts(msg *signal.Message) bool {
	switch {
	case !c.joined || msg.Room != c.room:
		log.Debugf("dropping %s for room %q", msg.Kind, msg.Room)
	case msg.To != "" && c.self != "" && msg.To != c.self:
		log.Debugf("dropping %s addressed to %s", msg.Kind, msg.To)
	case msg.From == "" || msg.From == c.self:
		log.Debugf("dropping %s without a remote sender", msg.Kind)
	default:
		if _, gone := c.departed[msg.From]; gone {
			log.Debugf("dropping %s from departed peer %s", msg.Kind, msg.From)

			return false
		}

		return true
	}

	return false
}

// open creates the session for a newly seen peer, unless the peer ceiling is
// reached.
func (c *Coordinator) open(peerID string) *peer.Session {
	if len(c.sessions) >= c.cfg.MaxPeers {
		log.Infof("ignoring peer %s: already connected to %d peer(s)", peerID, len(c.sessions))

		return nil
	}

	transport, err := c.cfg.Transports(peerID)
	if err != nil {
		log.Error(errors.Wrapf(err, "transport for %s", peerID))

		return nil
	}

	s := peer.NewSession(peer.SessionConfig{
		PeerID:        peerID,
		Room:          c.room,
		Transport:     transport,
		Signal:        c.cfg.Signal,
		Loop:          c.queue,
		OnRemoteTrack: c.onRemoteTrack,
		OnTerminal:    c.remove,
		OnError:       c.cfg.OnError,
	})

	c.sessions[peerID] = s

	log.Infof("session opened for peer %s", peerID)

	if c.local != nil {
		s.Attach(c.local.Tracks())
	}

	return s
}

func (c *Coordinator) remove(peerID string) {
	s, ok := c.sessions[peerID]
	if !ok {
		return
	}

	if err := s.Close(); err != nil {
		log.Warnf("closing session %s: %s", peerID, err)
	}

	delete(c.sessions, peerID)
	c.departed[peerID] = struct{}{}

	if c.cfg.OnPeerLeft != nil {
		c.cfg.OnPeerLeft(peerID)
	}
}

func (c *Coordinator) onRemoteTrack(peerID string, track media.RemoteTrack) {
	if c.cfg.Sink != nil {
		c.cfg.Sink.OnRemoteTrack(peerID, track)
	}
}
