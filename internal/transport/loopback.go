package transport

import "sync"

// loopback is one end of an in-memory channel pair. Delivery is synchronous:
// Send invokes the peer's handlers before returning, which keeps tests
// deterministic. Both ends close together.
type loopback struct {
	mu       sync.Mutex
	peer     *loopback
	handlers map[int]MessageHandler
	nextSub  int
	closed   bool
}

// Pair returns two connected in-memory channels.
func Pair() (Channel, Channel) {
	a := &loopback{handlers: make(map[int]MessageHandler)}
	b := &loopback{handlers: make(map[int]MessageHandler)}
	a.peer = b
	b.peer = a
	return a, b
}

func (l *loopback) Send(msgID byte, payload []byte) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	peer := l.peer
	l.mu.Unlock()
	peer.deliver(msgID, payload)
	return nil
}

func (l *loopback) deliver(msgID byte, payload []byte) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	handlers := make([]MessageHandler, 0, len(l.handlers))
	for _, fn := range l.handlers {
		handlers = append(handlers, fn)
	}
	l.mu.Unlock()

	for _, fn := range handlers {
		fn(msgID, payload)
	}
}

func (l *loopback) OnMessage(fn MessageHandler) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextSub
	l.nextSub++
	l.handlers[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.handlers, id)
		l.mu.Unlock()
	}
}

func (l *loopback) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.handlers = make(map[int]MessageHandler)
	peer := l.peer
	l.mu.Unlock()

	peer.mu.Lock()
	peerClosed := peer.closed
	if !peerClosed {
		peer.closed = true
		peer.handlers = make(map[int]MessageHandler)
	}
	peer.mu.Unlock()
	return nil
}
