package internal

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"
)

// closeGrace bounds how long Close waits to deliver the close frame.
const closeGrace = time.Second

// GorillaConn adapts github.com/gorilla/websocket to the same surface as Conn.
// gorilla allows one concurrent writer, so data writes are serialized.
type GorillaConn struct {
	ws           *gorilla.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration

	writeMu sync.Mutex
}

// DialGorilla opens a websocket with gorilla's Dialer. http and https URLs
// are rewritten to ws and wss.
func DialGorilla(ctx context.Context, rawURL string, opts Options) (*GorillaConn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	dialer := gorilla.Dialer{
		Proxy:            gorilla.DefaultDialer.Proxy,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	if opts.ReadLimit > 0 {
		ws.SetReadLimit(opts.ReadLimit)
	}
	return &GorillaConn{ws: ws, readTimeout: opts.ReadTimeout, writeTimeout: opts.WriteTimeout}, nil
}

// Read returns the payload of the next data frame. Cancelling ctx unblocks
// a pending read.
func (c *GorillaConn) Read(ctx context.Context) ([]byte, error) {
	if c.readTimeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	} else {
		_ = c.ws.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, translateGorilla(err)
	}
	return data, nil
}

// Write sends data as one text frame.
func (c *GorillaConn) Write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Time{}
	if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(gorilla.TextMessage, data)
}

// Close sends a close frame and closes the underlying connection.
func (c *GorillaConn) Close(code int, reason string) error {
	msg := gorilla.FormatCloseMessage(code, reason)
	writeErr := c.ws.WriteControl(gorilla.CloseMessage, msg, time.Now().Add(closeGrace))
	if err := c.ws.Close(); err != nil {
		return err
	}
	if writeErr != nil && !errors.Is(writeErr, gorilla.ErrCloseSent) {
		return writeErr
	}
	return nil
}

func translateGorilla(err error) error {
	var ce *gorilla.CloseError
	if errors.As(err, &ce) {
		return &CloseError{Code: ce.Code, Reason: ce.Text, Err: err}
	}
	return err
}
