package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/sakani/sakani_backend/logger"
	"github.com/sakani/sakani_backend/models"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second

	DefaultSendBuffer = 64
)

// Conn is the part of a websocket the registry writes to. *websocket.Conn satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Connection is one authenticated channel session. Outbound frames go through a
// bounded queue drained by WritePump; the queue is never closed, done is.
type Connection struct {
	ID     string
	UserID string

	conn     Conn
	send     chan []byte
	done     chan struct{}
	pumpDone chan struct{}
	once     sync.Once
}

func NewConnection(userID string, conn Conn, buffer int) *Connection {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Connection{
		ID:       uuid.NewString(),
		UserID:   userID,
		conn:     conn,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
}

// Send queues payload without blocking. It returns false when the connection is
// closed or its queue is full.
func (c *Connection) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// SendEvent queues a frame for this connection only.
func (c *Connection) SendEvent(ev models.Event) bool {
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Log.Error("ws_event_encode_failed", zap.String("event", ev.Event), zap.Error(err))
		return false
	}
	return c.Send(payload)
}

// SendError reports a failed client action to this connection only.
func (c *Connection) SendError(code, message string) bool {
	return c.SendEvent(models.ErrorEvent(code, message))
}

// WritePump drains the queue and keeps the peer alive with pings until the
// connection is closed or a write fails. Nothing is written once Close has run,
// and PumpDone is closed when it returns.
func (c *Connection) WritePump() {
	defer close(c.pumpDone)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		if c.closed() {
			return
		}
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if c.closed() {
				return
			}
			if err := c.write(websocket.TextMessage, msg); err != nil {
				logger.Log.Debug("ws_write_failed", zap.String("conn", c.ID), zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			if c.closed() {
				return
			}
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *Connection) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, payload)
}

// Close stops the write pump and closes the socket, which also ends the read loop.
func (c *Connection) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// PumpDone is closed once WritePump has returned and will not touch the socket again.
func (c *Connection) PumpDone() <-chan struct{} {
	return c.pumpDone
}
