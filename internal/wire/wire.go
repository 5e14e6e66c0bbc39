// Package wire defines the relay's on-the-wire JSON shapes (snake_case,
// mirroring the relay's own datatype.BridgeMessage/models.BridgeMessage)
// and the codec used to encode/decode them. The bridge consistently reaches
// for bytedance/sonic over encoding/json for this concern, so this package
// does too.
package wire

import "github.com/bytedance/sonic"

// BridgeMessage is the plaintext envelope the relay delivers over SSE and
// accepts over POST /message, before the SDK maps it to the camelCase
// shape handed to the user listener.
type BridgeMessage struct {
	From          string        `json:"from"`
	Message       string        `json:"message"`
	TraceID       string        `json:"trace_id,omitempty"`
	RequestSource string        `json:"request_source,omitempty"`
	ConnectSource ConnectSource `json:"connect_source,omitempty"`
}

// RequestSource is the sealed metadata a sender may attach about itself,
// openable only by the intended recipient.
type RequestSource struct {
	Origin    string `json:"origin"`
	IP        string `json:"ip"`
	Time      string `json:"time"`
	UserAgent string `json:"user_agent"`
}

// ConnectSource is metadata the relay itself stamps onto a message about
// the sender's connection.
type ConnectSource struct {
	IP string `json:"ip"`
}

// VerifyRequest is the JSON body for POST /verify.
type VerifyRequest struct {
	ClientID string `json:"client_id"`
	URL      string `json:"url"`
	Type     string `json:"type"`
}

// VerifyResponse is the JSON body returned by POST /verify.
type VerifyResponse struct {
	Status string `json:"status"`
}

var api = sonic.ConfigDefault

// Marshal encodes v using the bridge's JSON codec.
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal decodes data into v using the bridge's JSON codec.
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}
