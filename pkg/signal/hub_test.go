package signal

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func startRelay(t *testing.T) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	hub := NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(ServeWs(hub))

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, codec Codec) *Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, ClientConfig{URL: url, Codec: codec, DialTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Dial() = %v", err)
	}

	t.Cleanup(c.Close)

	if msg := receive(t, c); msg.Kind != KindWelcome || msg.To == "" {
		t.Fatalf("first message %+v, want a welcome", msg)
	}

	return c
}

func receive(t *testing.T, c *Client) *Message {
	t.Helper()

	select {
	case msg, ok := <-c.Incoming():
		if !ok {
			t.Fatal("signaling connection closed")
		}

		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a signaling message")
	}

	return nil
}

func TestRelayBetweenPeers(t *testing.T) {
	url := startRelay(t)

	alice := dial(t, url, JSON)
	bob := dial(t, url, Msgpack)

	if alice.ID() == bob.ID() {
		t.Fatalf("both peers got id %s", alice.ID())
	}

	if err := alice.Send(&Message{Kind: KindJoin, Room: "r1"}); err != nil {
		t.Fatalf("Send(join) = %v", err)
	}

	if err := bob.Send(&Message{Kind: KindJoin, Room: "r1"}); err != nil {
		t.Fatalf("Send(join) = %v", err)
	}

	// Whoever joined first is told about the other one.
	var first, second *Client

	select {
	case msg := <-alice.Incoming():
		first, second = alice, bob

		if msg.Kind != KindJoined || msg.From != bob.ID() {
			t.Fatalf("alice got %+v, want joined from bob", msg)
		}
	case msg := <-bob.Incoming():
		first, second = bob, alice

		if msg.Kind != KindJoined || msg.From != alice.ID() {
			t.Fatalf("bob got %+v, want joined from alice", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no joined notification")
	}

	err := first.Send(&Message{
		Kind:        KindOffer,
		To:          second.ID(),
		From:        "spoofed",
		Description: &Description{Type: "offer", SDP: "v=0\r\n"},
	})
	if err != nil {
		t.Fatalf("Send(offer) = %v", err)
	}

	msg := receive(t, second)

	if msg.Kind != KindOffer || msg.From != first.ID() || msg.Room != "r1" {
		t.Fatalf("got %+v, want an offer from %s in r1", msg, first.ID())
	}

	if msg.Description == nil || msg.Description.SDP != "v=0\r\n" {
		t.Errorf("offer description %+v", msg.Description)
	}

	second.Close()

	msg = receive(t, first)

	if msg.Kind != KindLeft || msg.From != second.ID() {
		t.Errorf("got %+v, want left from %s", msg, second.ID())
	}
}

func TestRelayRequiresRoom(t *testing.T) {
	url := startRelay(t)

	alice := dial(t, url, JSON)

	if err := alice.Send(&Message{Kind: KindOffer, To: "nobody"}); err != nil {
		t.Fatalf("Send() = %v", err)
	}

	if msg := receive(t, alice); msg.Kind != KindError {
		t.Errorf("got %+v, want an error", msg)
	}

	if err := alice.Send(&Message{Kind: KindJoin}); err != nil {
		t.Fatalf("Send() = %v", err)
	}

	if msg := receive(t, alice); msg.Kind != KindError {
		t.Errorf("got %+v, want an error", msg)
	}
}

func TestClientSendAfterClose(t *testing.T) {
	url := startRelay(t)

	alice := dial(t, url, JSON)
	alice.Close()

	if err := alice.Send(&Message{Kind: KindLeave}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close() = %v, want %v", err, ErrClosed)
	}

	// Incoming is closed once the connection is gone.
	deadline := time.After(5 * time.Second)

	for {
		select {
		case _, ok := <-alice.Incoming():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("Incoming() not closed after Close()")
		}
	}
}

func testConn(h *Hub, id string) *conn {
	return &conn{hub: h, id: id, send: make(chan *Message, 16)}
}

func TestHubDropsMessagesQueuedBeforeDisconnect(t *testing.T) {
	h := NewHub()

	alice := testConn(h, "alice")
	bob := testConn(h, "bob")

	// alice's join and offer were still queued when she disconnected.
	h.drop(alice)
	h.handle(alice, &Message{Kind: KindJoin, Room: "r1"})
	h.handle(alice, &Message{Kind: KindOffer, To: "bob"})

	h.handle(bob, &Message{Kind: KindJoin, Room: "r1"})

	if members := h.rooms["r1"]; len(members) != 1 || members["bob"] != bob {
		t.Errorf("room r1 members %v, want only bob", members)
	}

	select {
	case msg := <-bob.send:
		t.Errorf("bob got %+v, want nothing", msg)
	default:
	}

	h.drop(alice)
}

func TestHubDropLeavesRoom(t *testing.T) {
	h := NewHub()

	alice := testConn(h, "alice")
	bob := testConn(h, "bob")

	h.handle(alice, &Message{Kind: KindJoin, Room: "r1"})
	h.handle(bob, &Message{Kind: KindJoin, Room: "r1"})

	if msg := <-alice.send; msg.Kind != KindJoined || msg.From != "bob" {
		t.Fatalf("alice got %+v, want joined from bob", msg)
	}

	h.drop(bob)

	if msg := <-alice.send; msg.Kind != KindLeft || msg.From != "bob" {
		t.Errorf("alice got %+v, want left from bob", msg)
	}

	if _, ok := <-bob.send; ok {
		t.Error("bob's send queue still open after drop")
	}

	h.drop(alice)

	if _, ok := h.rooms["r1"]; ok {
		t.Error("empty room r1 kept")
	}
}
