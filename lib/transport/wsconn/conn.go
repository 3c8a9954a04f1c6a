package wsconn

import (
	"sync"
	"time"

	"github.com/devrelay/devrelay/lib/util/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var log = logger.GetDevRelayLogger()

const (
	defaultSendBuffer    = 64
	defaultWriteWait     = 10 * time.Second
	defaultMaxFrameBytes = 1 << 20
)

// Conn is one upgraded WebSocket connection. It satisfies relay.Conn.
type Conn struct {
	id        string
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	writeWait time.Duration
}

func newConn(ws *websocket.Conn, sendBuffer int, writeWait time.Duration, maxFrameBytes int64) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}
	if maxFrameBytes <= 0 {
		maxFrameBytes = defaultMaxFrameBytes
	}
	ws.SetReadLimit(maxFrameBytes)

	c := &Conn{
		id:        uuid.NewString(),
		ws:        ws,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		writeWait: writeWait,
	}
	go c.writeLoop()
	return c
}

func (c *Conn) ID() string { return c.id }

// ReadFrame returns the payload of the next text or binary message.
func (c *Conn) ReadFrame() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
			log.WithFields(logger.Fields{
				"at":      "wsconn.Conn.ReadFrame",
				"conn_id": c.id,
				"reason":  err.Error(),
			}).Debug("unexpected_close")
		}
		return nil, err
	}
	return data, nil
}

// Send queues frame for the writer. It returns false without blocking when
// the connection is closed or its queue is full.
func (c *Conn) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close sends a close frame and shuts the socket. Frames still queued are
// discarded.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.writeWait),
		)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.WithFields(logger.Fields{
					"at":      "wsconn.Conn.writeLoop",
					"conn_id": c.id,
					"reason":  err.Error(),
				}).Debug("write_failed")
				_ = c.Close()
				return
			}
		}
	}
}
