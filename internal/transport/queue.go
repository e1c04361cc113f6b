package transport

import "sync"

// ConnEvent is one queued connect or disconnect.
type ConnEvent struct {
	ClientID  string
	Connected bool
}

// ConnQueue buffers connection events so the tick driver drains them at a
// deterministic point instead of at channel-callback time. The queue is
// unbounded; backpressure belongs to the carrier.
type ConnQueue struct {
	mu     sync.Mutex
	events []ConnEvent
}

func NewConnQueue() *ConnQueue {
	return &ConnQueue{events: make([]ConnEvent, 0, 16)}
}

func (q *ConnQueue) PushConnect(clientID string) {
	q.mu.Lock()
	q.events = append(q.events, ConnEvent{ClientID: clientID, Connected: true})
	q.mu.Unlock()
}

func (q *ConnQueue) PushDisconnect(clientID string) {
	q.mu.Lock()
	q.events = append(q.events, ConnEvent{ClientID: clientID, Connected: false})
	q.mu.Unlock()
}

// DrainAll returns all queued events and clears the queue atomically.
func (q *ConnQueue) DrainAll() []ConnEvent {
	q.mu.Lock()
	events := q.events
	q.events = make([]ConnEvent, 0, 16)
	q.mu.Unlock()
	return events
}

// Message is one queued inbound payload. ClientID is empty on a
// point-to-point channel.
type Message struct {
	ClientID string
	MsgID    byte
	Payload  []byte
}

// MessageQueue buffers inbound payloads for per-tick draining. Push copies
// the payload: the carrier's buffer is not retained.
type MessageQueue struct {
	mu       sync.Mutex
	messages []Message
}

func NewMessageQueue() *MessageQueue {
	return &MessageQueue{messages: make([]Message, 0, 64)}
}

func (q *MessageQueue) Push(clientID string, msgID byte, payload []byte) {
	msg := Message{
		ClientID: clientID,
		MsgID:    msgID,
		Payload:  append([]byte(nil), payload...),
	}
	q.mu.Lock()
	q.messages = append(q.messages, msg)
	q.mu.Unlock()
}

// DrainAll returns all queued messages and clears the queue atomically.
func (q *MessageQueue) DrainAll() []Message {
	q.mu.Lock()
	messages := q.messages
	q.messages = make([]Message, 0, 64)
	q.mu.Unlock()
	return messages
}
