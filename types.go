package bridgesdk

import "github.com/tonkeeper/bridge-sdk/internal/session"

// ClientConnection pairs this peer's local session with the remote peer's
// hex public key it is paired with.
type ClientConnection struct {
	Session  *session.Session
	ClientID string
}

// Frame is a raw relay event, as received over the SSE subscription, before
// any JSON decoding or decryption.
type Frame struct {
	ID   string
	Data string
}

// IncomingEvent is what the user listener sees: the decrypted payload
// spread alongside bookkeeping fields, snake_case mapped to camelCase at
// this boundary.
type IncomingEvent struct {
	LastEventID   string
	TraceID       string
	From          string
	Payload       map[string]any
	RequestSource *RequestSource
	ConnectSource *ConnectSource
}

// RequestSource is the decrypted, camelCase-mapped request metadata a
// sender may have attached.
type RequestSource struct {
	Origin    string `json:"origin"`
	IP        string `json:"ip"`
	Time      string `json:"time"`
	UserAgent string `json:"userAgent"`
}

// ConnectSource is relay-stamped connection metadata about the sender.
type ConnectSource struct {
	IP string `json:"ip"`
}

// OutgoingMessage is the application-layer payload encrypted and sent by
// Provider.send. Method, if present, seeds the default topic.
type OutgoingMessage struct {
	Method string `json:"method,omitempty"`
	Params []any  `json:"params,omitempty"`
	ID     string `json:"id,omitempty"`
}
