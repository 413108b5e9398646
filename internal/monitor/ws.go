package monitor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dayuer/agentbus/internal/bus"
	"github.com/dayuer/agentbus/internal/metrics"
)

const (
	sendBuffer = 64
	readWait   = 60 * time.Second
	writeWait  = 5 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamMessage is one frame on /ws.
//
//	{"type": "envelope",  "data": {...bus.Envelope}}
//	{"type": "heartbeat", "data": {...bus.Stats}}
type streamMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// wsConn is one stream client. Frames are queued on send and written by
// a single writer goroutine; a client that falls behind loses frames.
type wsConn struct {
	*websocket.Conn
	send      chan streamMessage
	closeOnce sync.Once
	done      chan struct{}
}

func newWSConn(raw *websocket.Conn) *wsConn {
	return &wsConn{Conn: raw, send: make(chan streamMessage, sendBuffer), done: make(chan struct{})}
}

// enqueue never blocks.
func (c *wsConn) enqueue(msg streamMessage) bool {
	select {
	case <-c.done:
		return false
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteJSON(msg); err != nil {
				c.close(websocket.CloseInternalServerErr, "write failed")
				return
			}
		}
	}
}

func (c *wsConn) ping() error {
	return c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *wsConn) close(code int, text string) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
		_ = c.Conn.Close()
	})
}

// handleWS streams bus traffic to the client. Incoming messages are read
// only to keep the connection alive.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	raw, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := newWSConn(raw)
	peer := r.RemoteAddr
	s.addConn(conn)
	s.log.Info().Str("peer", peer).Msg("stream client connected")
	go conn.writeLoop()

	defer func() {
		s.removeConn(conn)
		conn.close(websocket.CloseNormalClosure, "")
		s.log.Info().Str("peer", peer).Msg("stream client disconnected")
	}()

	_ = raw.SetReadDeadline(time.Now().Add(readWait))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(readWait))
	})
	for {
		if _, _, err := raw.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Msg("stream read error")
			}
			return
		}
		_ = raw.SetReadDeadline(time.Now().Add(readWait))
	}
}

func (s *Server) addConn(c *wsConn) {
	s.wsMu.Lock()
	s.wsConns[c] = true
	s.wsMu.Unlock()
	metrics.WSClients.Inc()
}

func (s *Server) removeConn(c *wsConn) {
	s.wsMu.Lock()
	_, ok := s.wsConns[c]
	delete(s.wsConns, c)
	s.wsMu.Unlock()
	if ok {
		metrics.WSClients.Dec()
	}
}

func (s *Server) snapshot() []*wsConn {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	conns := make([]*wsConn, 0, len(s.wsConns))
	for c := range s.wsConns {
		conns = append(conns, c)
	}
	return conns
}

// broadcast is the bus subscriber. It runs on the sender's goroutine, so
// it only enqueues.
func (s *Server) broadcast(env bus.Envelope) {
	msg := streamMessage{Type: "envelope", Data: env}
	for _, c := range s.snapshot() {
		if !c.enqueue(msg) {
			metrics.WSDropped.Inc()
		}
	}
}

func (s *Server) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcastHeartbeat()
		}
	}
}

// broadcastHeartbeat sends a ping frame and a stats frame to every client.
func (s *Server) broadcastHeartbeat() {
	msg := streamMessage{Type: "heartbeat", Data: s.bus.Stats()}
	for _, c := range s.snapshot() {
		if err := c.ping(); err != nil {
			s.removeConn(c)
			c.close(websocket.CloseGoingAway, "ping failed")
			continue
		}
		c.enqueue(msg)
	}
}

// closeAllWS closes all stream connections (called on shutdown).
func (s *Server) closeAllWS() {
	for _, c := range s.snapshot() {
		s.removeConn(c)
		c.close(websocket.CloseGoingAway, "server shutdown")
	}
}

// WSConnectionCount returns the number of connected stream clients.
func (s *Server) WSConnectionCount() int {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return len(s.wsConns)
}
