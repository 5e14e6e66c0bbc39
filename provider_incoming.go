package bridgesdk

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/tonkeeper/bridge-sdk/internal/bridgemetrics"
	"github.com/tonkeeper/bridge-sdk/internal/session"
	"github.com/tonkeeper/bridge-sdk/internal/wire"
)

const heartbeatLiteral = "heartbeat"

// handleFrame is the gateway listener a Provider's own Gateway is built
// around.
func (p *Provider) handleFrame(frame Frame) {
	if frame.Data == heartbeatLiteral {
		p.mu.Lock()
		p.heartbeatAt = time.Now()
		p.mu.Unlock()
		return
	}

	var msg wire.BridgeMessage
	if err := wire.Unmarshal([]byte(frame.Data), &msg); err != nil {
		bridgemetrics.DecodeFailuresTotal.Inc()
		p.reportError(newError(KindDecodeFailure, "parse incoming frame", err))
		return
	}

	sess, err := p.GetCryptoSession(msg.From)
	if err != nil {
		p.reportError(err)
		return
	}

	ciphertext, err := base64.StdEncoding.DecodeString(msg.Message)
	if err != nil {
		bridgemetrics.DecodeFailuresTotal.Inc()
		p.reportError(newError(KindDecodeFailure, "decode message body", err))
		return
	}

	plaintext, err := sess.Decrypt(ciphertext, msg.From)
	if err != nil {
		bridgemetrics.DecodeFailuresTotal.Inc()
		p.reportError(newError(KindDecodeFailure, "decrypt incoming frame", err))
		return
	}

	var payload map[string]any
	if err := wire.Unmarshal(plaintext, &payload); err != nil {
		bridgemetrics.DecodeFailuresTotal.Inc()
		p.reportError(newError(KindDecodeFailure, "parse decrypted payload", err))
		return
	}

	event := IncomingEvent{
		LastEventID:   frame.ID,
		TraceID:       msg.TraceID,
		From:          msg.From,
		Payload:       payload,
		RequestSource: openRequestSource(sess, msg.RequestSource),
	}
	if msg.ConnectSource.IP != "" {
		event.ConnectSource = &ConnectSource{IP: msg.ConnectSource.IP}
	}

	if frame.ID != "" {
		p.mu.Lock()
		p.lastEventID = frame.ID
		p.mu.Unlock()
	}

	bridgemetrics.MessagesReceivedTotal.Inc()

	p.mu.Lock()
	listener := p.listener
	p.mu.Unlock()
	if listener != nil {
		listener(event)
	}
}

// openRequestSource opens and decodes a sealed request_source. Failure to
// open or decode it is not treated as a delivery failure — request_source
// is optional metadata, so the event is still delivered without it.
func openRequestSource(sess *session.Session, sealed string) *RequestSource {
	if sealed == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil
	}
	opened, err := sess.OpenAnonymous(raw)
	if err != nil {
		return nil
	}
	var decoded wire.RequestSource
	if err := wire.Unmarshal(opened, &decoded); err != nil {
		return nil
	}
	return &RequestSource{
		Origin:    decoded.Origin,
		IP:        decoded.IP,
		Time:      decoded.Time,
		UserAgent: decoded.UserAgent,
	}
}

// handleGatewayError is the gateway error listener a Provider's own Gateway
// is built around.
func (p *Provider) handleGatewayError(err error) {
	p.mu.Lock()
	gw := p.gateway
	genCtx := p.generationCtx
	onConnecting := p.onConnecting
	p.mu.Unlock()

	if gw == nil || genCtx == nil || genCtx.Err() != nil {
		return
	}

	if gw.IsClosed() || gw.IsConnecting() {
		if onConnecting != nil {
			onConnecting()
		}
		bridgemetrics.ReconnectsTotal.Inc()
		if reconErr := p.reconnect(genCtx); reconErr != nil {
			p.reportError(reconErr)
		}
		return
	}

	// The subscription had been open: this is a connect-after-open error,
	// treated like a missed heartbeat.
	p.reportError(newError(KindConnectAfterOpen, "bridge stream error after open", err))
	p.markDisconnected()
	bridgemetrics.ReconnectsTotal.Inc()
	if reconErr := p.reconnect(genCtx); reconErr != nil {
		p.reportError(reconErr)
	}
}

// reconnect re-runs openGateway through the retry engine using the
// Provider's last connection policy, and re-arms the heartbeat watchdog on
// success.
func (p *Provider) reconnect(ctx context.Context) error {
	p.mu.Lock()
	opts := p.connOpts
	p.mu.Unlock()
	return p.connectWithRetry(ctx, opts)
}
