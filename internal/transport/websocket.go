package transport

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocket carrier. Each binary message is [u8 msgID][payload]; the
// websocket layer does its own framing.

type wsChannel struct {
	conn *websocket.Conn

	mu       sync.Mutex // guards writes and the handler map
	handlers map[int]MessageHandler
	nextSub  int

	closeCh   chan struct{}
	closeOnce sync.Once
	log       *zap.Logger
}

func newWSChannel(conn *websocket.Conn, log *zap.Logger) *wsChannel {
	c := &wsChannel{
		conn:     conn,
		handlers: make(map[int]MessageHandler),
		closeCh:  make(chan struct{}),
		log:      log,
	}
	go c.readLoop()
	return c
}

// DialWS connects to a WebSocket carrier endpoint (ws:// or wss:// URL).
func DialWS(url string, log *zap.Logger) (Channel, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return newWSChannel(conn, log), nil
}

func (c *wsChannel) Send(msgID byte, payload []byte) error {
	select {
	case <-c.closeCh:
		return ErrClosed
	default:
	}

	buf := make([]byte, 1+len(payload))
	buf[0] = msgID
	copy(buf[1:], payload)

	c.mu.Lock()
	err := c.conn.WriteMessage(websocket.BinaryMessage, buf)
	c.mu.Unlock()
	if err != nil {
		c.Close()
		return fmt.Errorf("ws send: %w", err)
	}
	return nil
}

func (c *wsChannel) OnMessage(fn MessageHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.handlers[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
}

func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.conn.Close()
		c.mu.Lock()
		c.handlers = make(map[int]MessageHandler)
		c.mu.Unlock()
	})
	return nil
}

func (c *wsChannel) readLoop() {
	defer c.Close()

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				c.log.Debug("ws 讀取結束", zap.Error(err))
			}
			return
		}
		if kind != websocket.BinaryMessage || len(data) < 1 {
			c.log.Warn("ws 訊息格式無效", zap.Int("kind", kind), zap.Int("bytes", len(data)))
			continue
		}

		c.mu.Lock()
		handlers := make([]MessageHandler, 0, len(c.handlers))
		for _, fn := range c.handlers {
			handlers = append(handlers, fn)
		}
		c.mu.Unlock()
		for _, fn := range handlers {
			fn(data[0], data[1:])
		}
	}
}

func (c *wsChannel) isClosed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The demo server replicates to whoever connects; origin policy belongs
	// to a fronting proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// WSHandler returns an http.Handler that upgrades each request and hands the
// resulting Channel to onConn.
func WSHandler(log *zap.Logger, onConn func(Channel)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("ws 升級失敗", zap.Error(err))
			return
		}
		onConn(newWSChannel(conn, log))
	})
}
