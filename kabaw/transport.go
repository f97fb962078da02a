package kabaw

import (
	"context"
	"errors"
	"fmt"

	"github.com/vovakirdan/kabaw-chat-go/kabaw/internal"
)

// Transport names accepted in Config.Transport.
const (
	TransportCoder   = "coder"
	TransportGorilla = "gorilla"
)

// Transport is one open, bidirectional message channel.
type Transport interface {
	// Read blocks for the next inbound text frame. When the peer closes
	// the channel with a close frame the error is a *CloseError.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one outbound text frame. It must be safe to call
	// concurrently with Read and Close.
	Write(ctx context.Context, data []byte) error

	// Close sends a close frame with code and reason and releases the channel.
	Close(code int, reason string) error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context, url string) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Transport, error) {
	return f(ctx, url)
}

// CloseError reports the close frame received from the peer. Custom
// transports return it from Read so the close code drives reconnection.
type CloseError = internal.CloseError

// closeStatus extracts the close code from a Read error. Errors that do not
// carry a close frame count as an abnormal closure.
func closeStatus(err error) (code int, reason string, clean bool) {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Reason, true
	}
	return CloseAbnormalClosure, "", false
}

// NewDialer returns the built-in Dialer named by cfg.Transport.
func NewDialer(cfg Config) (Dialer, error) {
	opts := internal.Options{
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadTimeout:      cfg.ReadTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		ReadLimit:        cfg.ReadLimit,
	}
	switch cfg.Transport {
	case "", TransportCoder:
		return DialerFunc(func(ctx context.Context, url string) (Transport, error) {
			conn, err := internal.Dial(ctx, url, opts)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}), nil
	case TransportGorilla:
		return DialerFunc(func(ctx context.Context, url string) (Transport, error) {
			conn, err := internal.DialGorilla(ctx, url, opts)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}), nil
	default:
		return nil, WrapError(ErrorInvalidConfig, "unknown transport", fmt.Errorf("%q", cfg.Transport))
	}
}
