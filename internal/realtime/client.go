package realtime

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	readLimit    = 65536
)

var (
	errClientClosed   = errors.New("client closed")
	errSendBufferFull = errors.New("send buffer full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // observers join from any page that knows the session id
	},
}

// Role is what a connection became through its first create/join request.
type Role int

const (
	RoleNone Role = iota
	RoleProducer
	RoleObserver
)

func (r Role) String() string {
	switch r {
	case RoleProducer:
		return "producer"
	case RoleObserver:
		return "observer"
	}
	return "none"
}

// Client is one WebSocket connection. Its outbound queue holds batches of
// frames; a batch is written in order before the next one, which keeps a
// late-join replay contiguous.
type Client struct {
	ID         string
	RemoteAddr string
	JoinedAt   time.Time

	conn      *websocket.Conn
	send      chan [][]byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger

	// owned by the read loop
	session *Session
	role    Role
}

func newClient(conn *websocket.Conn, remoteAddr string, buffer int, logger *zap.Logger) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		ID:         uuid.New().String(),
		RemoteAddr: remoteAddr,
		JoinedAt:   time.Now(),
		conn:       conn,
		send:       make(chan [][]byte, buffer),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Role returns the connection's role.
func (c *Client) Role() Role { return c.role }

// enqueue queues frames as one batch without blocking.
func (c *Client) enqueue(frames ...[]byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- frames:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		return errSendBufferFull
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, logger *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client := newClient(conn, ctx.ClientIP(), hub.opts.SendBuffer, logger)
		logger.Debug("client connected", zap.String("client_id", client.ID), zap.String("remote_addr", client.RemoteAddr))
		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(hub *Hub) {
	defer func() {
		hub.Disconnect(c)
		c.close()
		_ = c.conn.Close()
		c.logger.Debug("client disconnected", zap.String("client_id", c.ID))
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
		hub.Handle(c, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case batch := <-c.send:
			for _, frame := range batch {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
		case <-c.done:
			c.drain()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drain flushes whatever is already queued so a terminal session_ended
// reaches the peer before the close frame.
func (c *Client) drain() {
	for {
		select {
		case batch := <-c.send:
			for _, frame := range batch {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
		default:
			return
		}
	}
}
