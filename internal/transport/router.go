package transport

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Router is a generic multi-client transport built on point-to-point
// channels. It owns the clientID→Channel mapping: AddClient subscribes to the
// channel's inbound messages and re-emits them tagged with the client id,
// then fires connect observers; RemoveClient unsubscribes, fires disconnect
// observers, then destroys the channel.
type Router struct {
	mu       sync.Mutex
	clients  map[string]Channel
	unsubs   map[string]func()
	nextSub  int
	msgSubs  map[int]func(clientID string, msgID byte, payload []byte)
	connSubs map[int]func(clientID string)
	discSubs map[int]func(clientID string)
	closed   bool
	log      *zap.Logger
}

func NewRouter(log *zap.Logger) *Router {
	return &Router{
		clients:  make(map[string]Channel),
		unsubs:   make(map[string]func()),
		msgSubs:  make(map[int]func(string, byte, []byte)),
		connSubs: make(map[int]func(string)),
		discSubs: make(map[int]func(string)),
		log:      log,
	}
}

// AddClient registers a channel under a fresh client id and returns the id.
func (r *Router) AddClient(ch Channel) string {
	id := uuid.NewString()
	r.AddClientWithID(id, ch)
	return id
}

// AddClientWithID registers a channel under a caller-chosen id.
func (r *Router) AddClientWithID(id string, ch Channel) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		ch.Close()
		return
	}
	r.clients[id] = ch
	r.unsubs[id] = ch.OnMessage(func(msgID byte, payload []byte) {
		r.dispatchMessage(id, msgID, payload)
	})
	connSubs := snapshotSubs(r.connSubs)
	r.mu.Unlock()

	r.log.Info("用戶端連線", zap.String("client", id))
	for _, fn := range connSubs {
		fn(id)
	}
}

// RemoveClient unsubscribes, fires disconnect observers, and closes the
// channel. Removing an unknown id is a no-op.
func (r *Router) RemoveClient(id string) {
	r.mu.Lock()
	ch, ok := r.clients[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	unsub := r.unsubs[id]
	delete(r.clients, id)
	delete(r.unsubs, id)
	discSubs := snapshotSubs(r.discSubs)
	r.mu.Unlock()

	unsub()
	r.log.Info("用戶端斷線", zap.String("client", id))
	for _, fn := range discSubs {
		fn(id)
	}
	ch.Close()
}

func (r *Router) dispatchMessage(clientID string, msgID byte, payload []byte) {
	r.mu.Lock()
	subs := snapshotSubs(r.msgSubs)
	r.mu.Unlock()
	for _, fn := range subs {
		fn(clientID, msgID, payload)
	}
}

// Send delivers to one client. The payload's ownership passes to the channel.
func (r *Router) Send(clientID string, msgID byte, payload []byte) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	ch, ok := r.clients[clientID]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownClient
	}
	return ch.Send(msgID, payload)
}

// Broadcast delivers to every client. Each recipient gets an independent copy
// of the payload, since a channel is permitted to consume the buffer it sends.
func (r *Router) Broadcast(msgID byte, payload []byte) {
	r.mu.Lock()
	channels := make(map[string]Channel, len(r.clients))
	for id, ch := range r.clients {
		channels[id] = ch
	}
	r.mu.Unlock()

	for id, ch := range channels {
		buf := append([]byte(nil), payload...)
		if err := ch.Send(msgID, buf); err != nil {
			r.log.Warn("廣播發送失敗", zap.String("client", id), zap.Error(err))
		}
	}
}

func (r *Router) OnMessage(fn func(clientID string, msgID byte, payload []byte)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.msgSubs[id] = fn
	return removeSub(r, r.msgSubs, id)
}

func (r *Router) OnConnect(fn func(clientID string)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.connSubs[id] = fn
	return removeSub(r, r.connSubs, id)
}

func (r *Router) OnDisconnect(fn func(clientID string)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.discSubs[id] = fn
	return removeSub(r, r.discSubs, id)
}

// removeSub returns an idempotent removal closure for a subscription map.
// Methods cannot be generic, so this is a free function.
func removeSub[T any](r *Router, subs map[int]T, id int) func() {
	return func() {
		r.mu.Lock()
		delete(subs, id)
		r.mu.Unlock()
	}
}

// Close closes every channel and stops all further event delivery. Idempotent.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	channels := r.clients
	unsubs := r.unsubs
	r.clients = make(map[string]Channel)
	r.unsubs = make(map[string]func())
	r.msgSubs = make(map[int]func(string, byte, []byte))
	r.connSubs = make(map[int]func(string))
	r.discSubs = make(map[int]func(string))
	r.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	for _, ch := range channels {
		ch.Close()
	}
	return nil
}

// Clients returns the currently registered client ids.
func (r *Router) Clients() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	return ids
}

func snapshotSubs[T any](m map[int]T) []T {
	out := make([]T, 0, len(m))
	for _, fn := range m {
		out = append(out, fn)
	}
	return out
}
