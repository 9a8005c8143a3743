package notify

import (
	"context"
	"sync"
	"time"

	"backoffice-service/internal/models"

	"github.com/gorilla/websocket"
)

// WebSocketChannel adapts a websocket connection to Channel. gorilla/websocket
// allows one concurrent writer, so writes are serialized.
type WebSocketChannel struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	timeout   time.Duration
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketChannel wraps conn; timeout bounds each write.
func NewWebSocketChannel(conn *websocket.Conn, timeout time.Duration) *WebSocketChannel {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebSocketChannel{conn: conn, timeout: timeout}
}

// Send writes msg as a JSON text frame
func (c *WebSocketChannel) Send(ctx context.Context, msg models.PaymentNotification) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(c.deadline(ctx)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

// Close sends a normal close frame and closes the connection. Safe to call
// more than once.
func (c *WebSocketChannel) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "payment complete"),
			time.Now().Add(c.timeout))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Wait reads frames until the client disconnects or the connection is
// closed. Incoming text is ignored.
func (c *WebSocketChannel) Wait() error {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return err
		}
	}
}

func (c *WebSocketChannel) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}
