package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
)

// TCP carrier. Frames are [u16 LE length][u8 msgID][payload]; the length
// covers the msgID byte and the payload.
const tcpMaxFrame = 1 << 16

type tcpChannel struct {
	conn net.Conn

	mu       sync.Mutex // guards writes and the handler map
	handlers map[int]MessageHandler
	nextSub  int

	closeCh   chan struct{}
	closeOnce sync.Once
	log       *zap.Logger
}

func newTCPChannel(conn net.Conn, log *zap.Logger) *tcpChannel {
	c := &tcpChannel{
		conn:     conn,
		handlers: make(map[int]MessageHandler),
		closeCh:  make(chan struct{}),
		log:      log,
	}
	go c.readLoop()
	return c
}

// DialTCP connects to a TCP carrier endpoint.
func DialTCP(addr string, log *zap.Logger) (Channel, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return newTCPChannel(conn, log), nil
}

func (c *tcpChannel) Send(msgID byte, payload []byte) error {
	select {
	case <-c.closeCh:
		return ErrClosed
	default:
	}
	if len(payload)+1 > tcpMaxFrame-1 {
		return fmt.Errorf("transport: frame of %d bytes exceeds tcp limit", len(payload)+1)
	}

	buf := make([]byte, 3+len(payload))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(1+len(payload)))
	buf[2] = msgID
	copy(buf[3:], payload)

	c.mu.Lock()
	_, err := c.conn.Write(buf)
	c.mu.Unlock()
	if err != nil {
		c.Close()
		return fmt.Errorf("tcp send: %w", err)
	}
	return nil
}

func (c *tcpChannel) OnMessage(fn MessageHandler) func() {
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

func (c *tcpChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.conn.Close()
		c.mu.Lock()
		c.handlers = make(map[int]MessageHandler)
		c.mu.Unlock()
	})
	return nil
}

// readLoop runs in its own goroutine: it reads frames from the connection and
// dispatches them to subscribed handlers until the connection dies.
func (c *tcpChannel) readLoop() {
	defer c.Close()

	var head [2]byte
	for {
		if _, err := io.ReadFull(c.conn, head[:]); err != nil {
			if !c.isClosed() {
				c.log.Debug("tcp 讀取結束", zap.Error(err))
			}
			return
		}
		length := int(binary.LittleEndian.Uint16(head[:]))
		if length < 1 {
			c.log.Warn("tcp 訊框長度無效", zap.Int("length", length))
			return
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(c.conn, body); err != nil {
			if !c.isClosed() {
				c.log.Debug("tcp 讀取結束", zap.Error(err))
			}
			return
		}

		c.mu.Lock()
		handlers := make([]MessageHandler, 0, len(c.handlers))
		for _, fn := range c.handlers {
			handlers = append(handlers, fn)
		}
		c.mu.Unlock()
		for _, fn := range handlers {
			fn(body[0], body[1:])
		}
	}
}

func (c *tcpChannel) isClosed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

// TCPListener accepts TCP connections and hands each one to a callback as a
// Channel.
type TCPListener struct {
	ln      net.Listener
	closeCh chan struct{}
	once    sync.Once
	log     *zap.Logger
}

func ListenTCP(addr string, log *zap.Logger) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &TCPListener{
		ln:      ln,
		closeCh: make(chan struct{}),
		log:     log,
	}, nil
}

// AcceptLoop runs in its own goroutine. Each accepted connection is wrapped
// as a Channel and passed to onConn.
func (l *TCPListener) AcceptLoop(onConn func(Channel)) {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.closeCh:
				return // listener shutting down
			default:
			}
			l.log.Error("連線接受失敗", zap.Error(err))
			continue
		}
		onConn(newTCPChannel(conn, l.log))
	}
}

func (l *TCPListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *TCPListener) Close() error {
	l.once.Do(func() {
		close(l.closeCh)
		l.ln.Close()
	})
	return nil
}
