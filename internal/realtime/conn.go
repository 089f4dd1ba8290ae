package realtime

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 16 * 1024
)

var (
	ErrConnClosed     = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Conn adapts a gorilla websocket to Handle. Frames are written by a single
// writePump goroutine; control frames go straight to the socket.
type Conn struct {
	ws    *websocket.Conn
	send  chan []byte
	done  chan struct{}
	alive atomic.Bool
	once  sync.Once
	log   zerolog.Logger
}

func newConn(ws *websocket.Conn, buffer int, log zerolog.Logger) *Conn {
	if buffer <= 0 {
		buffer = 256
	}
	c := &Conn{
		ws:   ws,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
		log:  log,
	}
	c.alive.Store(true)
	return c
}

func (c *Conn) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

func (c *Conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *Conn) IsAlive() bool {
	return c.alive.Load()
}

func (c *Conn) Ping() error {
	c.alive.Store(false)
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// readPump delivers inbound text frames to handle, in order, until the
// socket fails or readTimeout passes without any frame or pong.
func (c *Conn) readPump(readTimeout time.Duration, handle func([]byte)) {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
		c.alive.Store(true)
		c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		handle(message)
	}
}

func (c *Conn) writePump() {
	defer c.ws.Close()

	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug().Err(err).Msg("websocket write error")
				c.Close()
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
