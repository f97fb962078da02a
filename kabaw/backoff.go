package kabaw

import (
	"math"
	"time"
)

// ReconnectPolicy bounds automatic reconnection after abnormal closes.
type ReconnectPolicy struct {
	// BaseDelay is multiplied by 2^attempt to get the delay before a retry.
	BaseDelay time.Duration

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// MaxAttempts is the number of consecutive automatic reconnects allowed
	// before the client gives up. The counter resets on every successful open.
	MaxAttempts int

	// Disabled turns automatic reconnection off entirely.
	Disabled bool
}

// DefaultReconnectPolicy returns the policy used by DefaultConfig.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseDelay:   1 * time.Second,
		MaxDelay:    10 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay returns min(BaseDelay * 2^attempt, MaxDelay). attempt is the
// 1-based number of the reconnect about to be scheduled. Without a
// MaxDelay the result saturates at the largest Duration.
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			break
		}
		if delay > math.MaxInt64/2 {
			delay = math.MaxInt64
			break
		}
		delay *= 2
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// CanRetry reports whether another automatic reconnect may be scheduled
// after attempts consecutive ones.
func (p ReconnectPolicy) CanRetry(attempts int) bool {
	return !p.Disabled && attempts < p.MaxAttempts
}
