package display

import (
	"context"
	"encoding/binary"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/fleetvision/orchestrator/internal/composite"
	"github.com/fleetvision/orchestrator/internal/obs"
)

const pingInterval = 30 * time.Second

// WebSocketSink broadcasts composite frames to connected viewers over a
// register/broadcast/run loop, with an 8-byte big-endian frame header
// (width, height) followed by the raw BGR payload.
type WebSocketSink struct {
	mu        sync.RWMutex
	clients   map[*client]bool
	broadcast chan composite.Frame
	upgrader  websocket.Upgrader
	logger    *logrus.Logger
}

type client struct {
	conn *websocket.Conn
	send chan composite.Frame
	id   string
}

// NewWebSocketSink creates a sink with no clients connected yet. Call Run
// in its own goroutine to start distributing frames, and register
// HandleWebSocket as an HTTP handler to accept viewers.
func NewWebSocketSink() *WebSocketSink {
	return &WebSocketSink{
		clients:   make(map[*client]bool),
		broadcast: make(chan composite.Frame, 4),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1 << 20,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: obs.Log,
	}
}

// HandleWebSocket upgrades an incoming HTTP request to a viewer connection.
func (s *WebSocketSink) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Error("display: failed to upgrade websocket")
		return
	}

	c := &client{conn: conn, send: make(chan composite.Frame, 2), id: r.RemoteAddr}
	s.register(c)
	s.logger.WithField("client", c.id).Info("display: viewer connected")

	ctx, cancel := context.WithCancel(context.Background())
	go s.writePump(ctx, c)
	go s.readPump(cancel, c)
}

func (s *WebSocketSink) register(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = true
}

func (s *WebSocketSink) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

// Publish enqueues a frame for broadcast, dropping the oldest pending
// frame if the channel is full rather than blocking the aggregator.
func (s *WebSocketSink) Publish(frame composite.Frame) {
	select {
	case s.broadcast <- frame:
	default:
		select {
		case <-s.broadcast:
		default:
		}
		s.broadcast <- frame
	}
}

// Run distributes broadcast frames to every connected client until ctx is
// canceled.
func (s *WebSocketSink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return ctx.Err()
		case frame := <-s.broadcast:
			s.fanOut(frame)
		}
	}
}

func (s *WebSocketSink) fanOut(frame composite.Frame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- frame:
		default:
			// Slow client, skip this frame rather than backing up the sink.
		}
	}
}

func (s *WebSocketSink) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.conn.Close()
		close(c.send)
		delete(s.clients, c)
	}
}

func encodeFrame(frame composite.Frame) []byte {
	out := make([]byte, 8+len(frame.Pixels))
	binary.BigEndian.PutUint32(out[0:4], uint32(frame.Width))
	binary.BigEndian.PutUint32(out[4:8], uint32(frame.Height))
	copy(out[8:], frame.Pixels)
	return out
}

func (s *WebSocketSink) writePump(ctx context.Context, c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, encodeFrame(frame)); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *WebSocketSink) readPump(cancel context.CancelFunc, c *client) {
	defer func() {
		cancel()
		s.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
