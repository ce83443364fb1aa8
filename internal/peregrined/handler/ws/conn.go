package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/pkg/errno"
	"github.com/peregrine-desk/peregrine/pkg/logger"
	"github.com/peregrine-desk/peregrine/pkg/utils/json"
)

const (
	// sendQueueSize bounds the per-connection outbound buffer. A client that
	// cannot drain it is disconnected rather than allowed to stall the
	// conversation pump; it can re-attach and resync.
	sendQueueSize = 256

	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// conn adapts one WebSocket to the router's ClientConn. The id is generated
// per socket and is the connection identity the attach handshake compares.
type conn struct {
	id   string
	ws   *websocket.Conn
	send chan *entity.Event

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn) *conn {
	c := &conn{
		id:     uuid.New().String(),
		ws:     ws,
		send:   make(chan *entity.Event, sendQueueSize),
		closed: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *conn) ID() string { return c.id }

// Send queues one event without blocking the caller. A full queue or a
// closed socket reports an error so the router detaches this connection.
func (c *conn) Send(ev *entity.Event) error {
	select {
	case <-c.closed:
		return errno.ErrNotAttached
	default:
	}

	select {
	case c.send <- ev:
		return nil
	default:
		return errno.ErrNotAttached
	}
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
	return nil
}

// writeLoop is the only goroutine writing to the socket.
func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case ev := <-c.send:
			data, err := json.Marshal(ev)
			if err != nil {
				logger.Warn("[WS] marshal event failed: %v", err)
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("[WS] write to %s failed: %v", c.id, err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
