package bridgesdk

import (
	"time"

	"github.com/tonkeeper/bridge-sdk/internal/retry"
)

// Default tuning knobs for connecting, retrying and sending.
const (
	DefaultConnectingDeadline = 14000 * time.Millisecond
	DefaultRetryDelay         = 1000 * time.Millisecond
	DefaultRetryMaxDelay      = 7000 * time.Millisecond
	DefaultSendTTLSeconds     = 300
	HeartbeatGraceDelay       = 100 * time.Millisecond

	heartbeatFrameFormat = "message"
)

// ConnectionOptions configures one restoreConnection call's retry/deadline
// policy.
type ConnectionOptions struct {
	LastEventID         string
	ConnectingDeadlineMs int
	DelayMs             int
	MaxDelayMs          int
	Exponential         *bool // nil means "use default (true)"
}

func (o ConnectionOptions) connectingDeadline() time.Duration {
	if o.ConnectingDeadlineMs > 0 {
		return time.Duration(o.ConnectingDeadlineMs) * time.Millisecond
	}
	return DefaultConnectingDeadline
}

func (o ConnectionOptions) connectingDeadlineMs() int {
	return int(o.connectingDeadline() / time.Millisecond)
}

func (o ConnectionOptions) delayMs() int {
	if o.DelayMs > 0 {
		return o.DelayMs
	}
	return int(DefaultRetryDelay / time.Millisecond)
}

func (o ConnectionOptions) maxDelayMs() int {
	if o.MaxDelayMs > 0 {
		return o.MaxDelayMs
	}
	return int(DefaultRetryMaxDelay / time.Millisecond)
}

func (o ConnectionOptions) exponential() bool {
	if o.Exponential == nil {
		return true
	}
	return *o.Exponential
}

// retryOptions adapts a ConnectionOptions into the retry engine's policy for
// restoreConnection's (re)connect loop, which always retries until
// cancelled.
func (o ConnectionOptions) retryOptions() retry.Options {
	return retry.Options{
		Attempts:    retry.Unlimited,
		DelayMs:     o.delayMs(),
		Exponential: o.exponential(),
		MaxDelayMs:  o.maxDelayMs(),
	}
}

// SendOptions configures one Provider.send or Gateway.send call.
type SendOptions struct {
	TTL      *int
	Topic    string
	TraceID  string
	// DisableRequestSource suppresses request_source sealing entirely.
	DisableRequestSource bool

	Attempts    uint64
	DelayMs     int
	MaxDelayMs  int
	Exponential *bool
}

func (o SendOptions) ttl() int {
	if o.TTL != nil {
		return *o.TTL
	}
	return DefaultSendTTLSeconds
}

// retryOptions adapts a SendOptions into the retry engine's policy for
// Provider.send, defaulting to attempts=MAX with the same backoff shape as
// a (re)connect.
func (o SendOptions) retryOptions() retry.Options {
	delay := o.DelayMs
	if delay <= 0 {
		delay = int(DefaultRetryDelay / time.Millisecond)
	}
	maxDelay := o.MaxDelayMs
	if maxDelay <= 0 {
		maxDelay = int(DefaultRetryMaxDelay / time.Millisecond)
	}
	exponential := true
	if o.Exponential != nil {
		exponential = *o.Exponential
	}
	return retry.Options{
		Attempts:    o.Attempts,
		DelayMs:     delay,
		Exponential: exponential,
		MaxDelayMs:  maxDelay,
	}
}
