package internal

import (
	"fmt"
	"time"
)

// CloseError reports that the peer closed the websocket with a close frame.
type CloseError struct {
	Code   int
	Reason string
	Err    error
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("websocket closed: status %d", e.Code)
	}
	return fmt.Sprintf("websocket closed: status %d: %s", e.Code, e.Reason)
}

func (e *CloseError) Unwrap() error {
	return e.Err
}

// Options tune a dialed connection. Zero durations disable the timeout.
type Options struct {
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
}
