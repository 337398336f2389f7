package signal

import (
	"context"
	"net/url"
	"sync"
	"time"

	"media-coordinator/pkg/log"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is a peer's connection to the signaling relay.
type Client struct {
	cfg   ClientConfig
	codec Codec

	conn     *websocket.Conn
	incoming chan *Message
	outgoing chan *Message
	done     chan struct{}

	closeOnce sync.Once

	idMx sync.RWMutex
	id   string
}

type ClientConfig struct {
	URL   string
	Codec Codec

	// DialTimeout bounds the whole retrying dial. Zero means one minute.
	DialTimeout time.Duration
}

// Dial connects to the relay, retrying with exponential backoff until the
// context is done or DialTimeout elapses.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Codec == nil {
		cfg.Codec = JSON
	}

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = time.Minute
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid signaling URL")
	}

	q := u.Query()
	q.Set("codec", cfg.Codec.Name())
	u.RawQuery = q.Encode()

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = cfg.DialTimeout

	var conn *websocket.Conn

	op := func() error {
		c, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			log.Warnf("signaling dial %s: %s", u.Host, err)

			return err
		}

		conn = c

		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, errors.Wrap(err, "signaling dial")
	}

	c := &Client{
		cfg:      cfg,
		codec:    cfg.Codec,
		conn:     conn,
		incoming: make(chan *Message, 32),
		outgoing: make(chan *Message, 32),
		done:     make(chan struct{}),
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

// ID returns the peer id assigned by the relay, empty until welcomed.
func (c *Client) ID() string {
	c.idMx.RLock()
	defer c.idMx.RUnlock()

	return c.id
}

// Incoming is closed when the connection ends.
func (c *Client) Incoming() <-chan *Message {
	return c.incoming
}

func (c *Client) Send(msg *Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
		c.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Error(errors.Wrap(err, "signaling read"))
			}

			return
		}

		msg := &Message{}

		if err := c.codec.Unmarshal(payload, msg); err != nil {
			log.Error(errors.Wrap(err, "signaling decode"))

			continue
		}

		if msg.Kind == KindWelcome {
			c.idMx.Lock()
			c.id = msg.To
			c.idMx.Unlock()
		}

		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			payload, err := c.codec.Marshal(msg)
			if err != nil {
				log.Error(errors.Wrap(err, "signaling encode"))

				continue
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.conn.WriteMessage(c.codec.FrameType(), payload); err != nil {
				log.Error(errors.Wrap(err, "signaling write"))

				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.flush()

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

			return
		}
	}
}

// flush writes whatever was queued before Close, so a final "leave" reaches
// the relay.
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.outgoing:
			payload, err := c.codec.Marshal(msg)
			if err != nil {
				continue
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.conn.WriteMessage(c.codec.FrameType(), payload); err != nil {
				return
			}
		default:
			return
		}
	}
}
