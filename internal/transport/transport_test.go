package transport

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type received struct {
	msgID   byte
	payload []byte
}

func collect(ch Channel) (<-chan received, func()) {
	out := make(chan received, 16)
	unsub := ch.OnMessage(func(msgID byte, payload []byte) {
		out <- received{msgID, append([]byte(nil), payload...)}
	})
	return out, unsub
}

func waitFor(t *testing.T, ch <-chan received) received {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return received{}
	}
}

func TestLoopbackPairDelivers(t *testing.T) {
	a, b := Pair()
	fromA, _ := collect(b)
	fromB, _ := collect(a)

	if err := a.Send(1, []byte("hello")); err != nil {
		t.Fatalf("a.Send: %v", err)
	}
	if err := b.Send(2, []byte("world")); err != nil {
		t.Fatalf("b.Send: %v", err)
	}
	if r := waitFor(t, fromA); r.msgID != 1 || string(r.payload) != "hello" {
		t.Errorf("b received %d %q", r.msgID, r.payload)
	}
	if r := waitFor(t, fromB); r.msgID != 2 || string(r.payload) != "world" {
		t.Errorf("a received %d %q", r.msgID, r.payload)
	}

	// Closing one end closes both.
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := b.Send(1, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Send on closed pair = %v, want ErrClosed", err)
	}
}

func TestChannelUnsubscribeStopsDelivery(t *testing.T) {
	a, b := Pair()
	got, unsub := collect(b)

	a.Send(1, []byte("x"))
	waitFor(t, got)

	unsub()
	unsub() // second call is a no-op
	a.Send(1, []byte("y"))
	select {
	case r := <-got:
		t.Errorf("received %q after unsubscribe", r.payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRouterBroadcastDeliversIndependentCopies(t *testing.T) {
	r := NewRouter(zap.NewNop())
	defer r.Close()

	nearA, farA := Pair()
	nearB, farB := Pair()
	r.AddClientWithID("a", farA)
	r.AddClientWithID("b", farB)

	var mu sync.Mutex
	var seen [][]byte
	for _, near := range []Channel{nearA, nearB} {
		near.OnMessage(func(_ byte, payload []byte) {
			mu.Lock()
			seen = append(seen, append([]byte(nil), payload...))
			mu.Unlock()
			// Scribble on the delivered buffer; the other recipient
			// must not observe it.
			for i := range payload {
				payload[i] = 0xFF
			}
		})
	}

	r.Broadcast(9, []byte{1, 2, 3})

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("got %d deliveries, want 2", len(seen))
	}
	for i, p := range seen {
		if !bytes.Equal(p, []byte{1, 2, 3}) {
			t.Errorf("delivery %d saw % X", i, p)
		}
	}
}

func TestRouterSendAndUnknownClient(t *testing.T) {
	r := NewRouter(zap.NewNop())
	defer r.Close()

	near, far := Pair()
	r.AddClientWithID("a", far)
	got, _ := collect(near)

	if err := r.Send("a", 5, []byte("direct")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg := waitFor(t, got); msg.msgID != 5 || string(msg.payload) != "direct" {
		t.Errorf("received %d %q", msg.msgID, msg.payload)
	}

	if err := r.Send("nobody", 5, nil); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("Send to unknown = %v, want ErrUnknownClient", err)
	}
}

func TestRouterObservers(t *testing.T) {
	r := NewRouter(zap.NewNop())
	defer r.Close()

	var connects, disconnects []string
	var msgs []string
	r.OnConnect(func(id string) { connects = append(connects, id) })
	r.OnDisconnect(func(id string) { disconnects = append(disconnects, id) })
	unsubMsg := r.OnMessage(func(id string, msgID byte, payload []byte) {
		msgs = append(msgs, id+":"+string(payload))
	})

	near, far := Pair()
	r.AddClientWithID("c1", far)
	if len(connects) != 1 || connects[0] != "c1" {
		t.Fatalf("connects = %v", connects)
	}

	// Inbound traffic is re-emitted tagged with the client id.
	near.Send(1, []byte("ping"))
	if len(msgs) != 1 || msgs[0] != "c1:ping" {
		t.Errorf("msgs = %v", msgs)
	}

	unsubMsg()
	unsubMsg() // idempotent
	near.Send(1, []byte("pong"))
	if len(msgs) != 1 {
		t.Errorf("message observer fired after unsubscribe: %v", msgs)
	}

	r.RemoveClient("c1")
	if len(disconnects) != 1 || disconnects[0] != "c1" {
		t.Fatalf("disconnects = %v", disconnects)
	}
	// The channel is closed with the removal.
	if err := near.Send(1, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after removal = %v, want ErrClosed", err)
	}
	if got := r.Clients(); len(got) != 0 {
		t.Errorf("Clients() = %v after removal", got)
	}
}

func TestRouterAddClientGeneratesUniqueIDs(t *testing.T) {
	r := NewRouter(zap.NewNop())
	defer r.Close()

	_, farA := Pair()
	_, farB := Pair()
	idA := r.AddClient(farA)
	idB := r.AddClient(farB)
	if idA == "" || idB == "" || idA == idB {
		t.Errorf("generated ids %q and %q", idA, idB)
	}
	if got := r.Clients(); len(got) != 2 {
		t.Errorf("Clients() = %v", got)
	}
}

func TestRouterCloseIsIdempotent(t *testing.T) {
	r := NewRouter(zap.NewNop())
	_, far := Pair()
	r.AddClientWithID("a", far)

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := r.Send("a", 1, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
}

func TestConnQueueDrainsAtomically(t *testing.T) {
	q := NewConnQueue()
	q.PushConnect("a")
	q.PushDisconnect("a")
	q.PushConnect("b")

	events := q.DrainAll()
	if len(events) != 3 {
		t.Fatalf("drained %d events, want 3", len(events))
	}
	want := []ConnEvent{{"a", true}, {"a", false}, {"b", true}}
	for i, ev := range events {
		if ev != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, ev, want[i])
		}
	}
	if again := q.DrainAll(); len(again) != 0 {
		t.Errorf("second drain returned %d events", len(again))
	}
}

func TestMessageQueueCopiesPayload(t *testing.T) {
	q := NewMessageQueue()
	buf := []byte{1, 2, 3}
	q.Push("c", 7, buf)
	buf[0] = 99 // carrier reuses its buffer

	msgs := q.DrainAll()
	if len(msgs) != 1 {
		t.Fatalf("drained %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.ClientID != "c" || m.MsgID != 7 || !bytes.Equal(m.Payload, []byte{1, 2, 3}) {
		t.Errorf("message = %+v", m)
	}
}

func TestTCPChannelRoundTrip(t *testing.T) {
	log := zap.NewNop()
	ln, err := ListenTCP("127.0.0.1:0", log)
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer ln.Close()

	accepted := make(chan Channel, 1)
	go ln.AcceptLoop(func(ch Channel) { accepted <- ch })

	client, err := DialTCP(ln.Addr().String(), log)
	if err != nil {
		t.Fatalf("DialTCP: %v", err)
	}
	defer client.Close()

	var server Channel
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("accept timed out")
	}
	defer server.Close()

	fromClient, _ := collect(server)
	fromServer, _ := collect(client)

	if err := client.Send(3, []byte("輸入")); err != nil {
		t.Fatalf("client send: %v", err)
	}
	if r := waitFor(t, fromClient); r.msgID != 3 || string(r.payload) != "輸入" {
		t.Errorf("server received %d %q", r.msgID, r.payload)
	}

	// Zero-length payload: the frame is just the msgID byte.
	if err := server.Send(2, nil); err != nil {
		t.Fatalf("server send: %v", err)
	}
	if r := waitFor(t, fromServer); r.msgID != 2 || len(r.payload) != 0 {
		t.Errorf("client received %d % X", r.msgID, r.payload)
	}
}

func TestTCPSendAfterCloseFails(t *testing.T) {
	log := zap.NewNop()
	ln, err := ListenTCP("127.0.0.1:0", log)
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer ln.Close()
	go ln.AcceptLoop(func(ch Channel) { ch.Close() })

	client, err := DialTCP(ln.Addr().String(), log)
	if err != nil {
		t.Fatalf("DialTCP: %v", err)
	}
	client.Close()
	if err := client.Send(1, []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
}

func TestWebSocketChannelRoundTrip(t *testing.T) {
	log := zap.NewNop()
	accepted := make(chan Channel, 1)
	srv := httptest.NewServer(WSHandler(log, func(ch Channel) { accepted <- ch }))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := DialWS(url, log)
	if err != nil {
		t.Fatalf("DialWS: %v", err)
	}
	defer client.Close()

	var server Channel
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("upgrade timed out")
	}
	defer server.Close()

	fromClient, _ := collect(server)
	fromServer, _ := collect(client)

	if err := client.Send(3, []byte{0xAB}); err != nil {
		t.Fatalf("client send: %v", err)
	}
	if r := waitFor(t, fromClient); r.msgID != 3 || !bytes.Equal(r.payload, []byte{0xAB}) {
		t.Errorf("server received %d % X", r.msgID, r.payload)
	}
	if err := server.Send(1, []byte("差分")); err != nil {
		t.Fatalf("server send: %v", err)
	}
	if r := waitFor(t, fromServer); r.msgID != 1 || string(r.payload) != "差分" {
		t.Errorf("client received %d %q", r.msgID, r.payload)
	}
}
