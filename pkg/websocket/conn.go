// Package websocket adapts gorilla websocket connections to the realtime
// Transport and serves the generation, collaboration and notification
// endpoints.
package websocket

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// CloseInternalError is used when the server cannot serve the session.
const CloseInternalError = websocket.CloseInternalServerErr

var (
	ErrClosed         = errors.New("connection closed")
	ErrSendQueueFull  = errors.New("send queue full")
	errUpgradeRefused = errors.New("upgrade refused")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now
		return true
	},
}

// Options tunes a connection.
type Options struct {
	SendQueueSize  int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

func (o *Options) norm() {
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 256
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 << 10
	}
}

// Conn is a websocket connection with a buffered outbound queue drained by
// its own write pump. Send never blocks; Close is idempotent.
type Conn struct {
	ws   *websocket.Conn
	opts Options

	send     chan []byte
	done     chan struct{}
	finished chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

// Upgrade upgrades the request and starts the write pump.
func Upgrade(w http.ResponseWriter, r *http.Request, opts Options) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUpgradeRefused, err)
	}
	return newConn(ws, opts), nil
}

func newConn(ws *websocket.Conn, opts Options) *Conn {
	opts.norm()
	c := &Conn{
		ws:       ws,
		opts:     opts,
		send:     make(chan []byte, opts.SendQueueSize),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	ws.SetReadLimit(opts.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(opts.PongWait))
	})
	go c.writePump()
	return c
}

// Send queues a frame for the write pump.
func (c *Conn) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSendQueueFull
	}
}

// Close asks the write pump to flush queued frames, send a close frame
// with code and reason, and drop the socket.
func (c *Conn) Close(code int, reason string) error {
	c.shutdown(code, reason)
	return nil
}

func (c *Conn) shutdown(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

// Finished is closed once the socket has been released.
func (c *Conn) Finished() <-chan struct{} {
	return c.finished
}

// ReadFrame blocks for the next text or binary frame. Any inbound frame
// extends the read deadline.
func (c *Conn) ReadFrame() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	return data, nil
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		close(c.finished)
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.shutdown(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.shutdown(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		case <-c.done:
			c.drain()
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
			return
		}
	}
}

// drain writes whatever is still queued so that replies sent just before
// Close reach the peer.
func (c *Conn) drain() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	return c.ws.WriteMessage(messageType, data)
}
