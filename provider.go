package bridgesdk

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tonkeeper/bridge-sdk/internal/asyncutil"
	"github.com/tonkeeper/bridge-sdk/internal/bridgemetrics"
	"github.com/tonkeeper/bridge-sdk/internal/retry"
	"github.com/tonkeeper/bridge-sdk/internal/session"
	"github.com/tonkeeper/bridge-sdk/internal/setutil"
	"github.com/tonkeeper/bridge-sdk/internal/wire"
)

// ProviderListener receives decrypted, decoded events, one per non-heartbeat
// frame the current generation's Gateway delivers.
type ProviderListener func(IncomingEvent)

// OnConnecting is invoked at the start of every connect and reconnect
// attempt, before the underlying Gateway is (re)built.
type OnConnecting func()

// ProviderOpenParams configures OpenProvider.
type ProviderOpenParams struct {
	BridgeURL                    string
	Clients                      []ClientConnection
	Listener                     ProviderListener
	ErrorListener                ErrorListener
	OnConnecting                 OnConnecting
	HeartbeatReconnectIntervalMs int
	HTTPClient                   *http.Client
}

// Provider owns a peer's clients, lastEventId, reconnection policy,
// heartbeat watchdog, and the single Gateway live at any moment. It is the
// type applications construct directly.
type Provider struct {
	mu sync.Mutex

	bridgeURL  string
	httpClient *http.Client

	clients     []ClientConnection
	lastEventID string
	connOpts    ConnectionOptions

	gateway *Gateway

	heartbeatAt         time.Time
	heartbeatIntervalMs int

	generationCtx    context.Context
	generationCancel context.CancelFunc

	connected bool

	listener      ProviderListener
	errorListener ErrorListener
	onConnecting  OnConnecting
}

// OpenProvider constructs a Provider and runs restoreConnection against the
// initial client set. On failure the partially-built Provider is closed
// before the error is returned.
func OpenProvider(ctx context.Context, params ProviderOpenParams) (*Provider, error) {
	p := &Provider{
		bridgeURL:           params.BridgeURL,
		httpClient:          params.HTTPClient,
		heartbeatIntervalMs: params.HeartbeatReconnectIntervalMs,
		listener:            params.Listener,
		errorListener:       params.ErrorListener,
		onConnecting:        params.OnConnecting,
	}
	if p.httpClient == nil {
		p.httpClient = http.DefaultClient
	}

	if err := p.RestoreConnection(ctx, params.Clients, ConnectionOptions{}); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Provider) logger() *logrus.Entry {
	return logrus.WithField("prefix", "Provider")
}

func (p *Provider) reportError(err error) {
	if err == nil || IsCancelled(err) {
		return
	}
	p.mu.Lock()
	listener := p.errorListener
	p.mu.Unlock()
	if listener != nil {
		listener(err)
	}
}

// RestoreConnection replaces the client set and lastEventId, supersedes the
// current generation, and reconnects. An empty clients slice is a
// deliberate no-op.
func (p *Provider) RestoreConnection(ctx context.Context, clients []ClientConnection, opts ConnectionOptions) error {
	if len(clients) == 0 {
		p.logger().Debug("restoreConnection called with no clients, ignoring")
		return nil
	}

	p.mu.Lock()
	p.clients = append([]ClientConnection(nil), clients...)
	p.lastEventID = opts.LastEventID
	p.connOpts = opts
	if p.generationCancel != nil {
		p.generationCancel()
	}
	genCtx, cancel := asyncutil.Chain(ctx)
	p.generationCtx = genCtx
	p.generationCancel = cancel
	stale := p.gateway
	p.gateway = nil
	p.mu.Unlock()

	if genCtx.Err() != nil {
		return nil
	}

	if stale != nil {
		if err := stale.Close(); err != nil {
			p.reportError(err)
		}
	}

	return p.connectWithRetry(genCtx, opts)
}

// connectWithRetry runs the retry engine around openGateway and, on
// success, (re)arms the heartbeat watchdog.
func (p *Provider) connectWithRetry(ctx context.Context, opts ConnectionOptions) error {
	deadlineMs := opts.connectingDeadlineMs()
	_, err := retry.Do(ctx, opts.retryOptions(), func(attemptCtx context.Context) (struct{}, error) {
		return struct{}{}, p.openGateway(attemptCtx, deadlineMs)
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.heartbeatAt = time.Now()
	intervalMs := p.heartbeatIntervalMs
	p.mu.Unlock()

	p.markConnected()
	p.armHeartbeatWatchdog(ctx, intervalMs)
	return nil
}

// markConnected flips the connected flag and Incs the active-providers gauge
// only on the false-to-true transition, so repeated successful (re)connects
// don't inflate the count.
func (p *Provider) markConnected() {
	p.mu.Lock()
	wasConnected := p.connected
	p.connected = true
	p.mu.Unlock()
	if !wasConnected {
		bridgemetrics.ActiveProviders.Inc()
	}
}

// markDisconnected is markConnected's inverse: it Decs the gauge only on the
// true-to-false transition.
func (p *Provider) markDisconnected() {
	p.mu.Lock()
	wasConnected := p.connected
	p.connected = false
	p.mu.Unlock()
	if wasConnected {
		bridgemetrics.ActiveProviders.Dec()
	}
}

// openGateway builds a fresh Gateway around the current client set and
// lastEventId and registers it, closing whatever gateway preceded it. It
// does not arm the heartbeat watchdog; that is restoreConnection's job.
func (p *Provider) openGateway(ctx context.Context, connectingDeadlineMs int) error {
	if err := ctx.Err(); err != nil {
		return newError(KindCancelled, "aborted before connection", err)
	}

	p.mu.Lock()
	stale := p.gateway
	p.gateway = nil
	sessionIDs := clientSessionIDs(p.clients)
	lastEventID := p.lastEventID
	onConnecting := p.onConnecting
	httpClient := p.httpClient
	bridgeURL := p.bridgeURL
	p.mu.Unlock()

	if stale != nil {
		_ = stale.Close()
	}

	if onConnecting != nil {
		onConnecting()
	}

	gw, err := Open(ctx, GatewayOpenParams{
		BridgeURL:            bridgeURL,
		SessionIDs:           sessionIDs,
		Listener:             p.handleFrame,
		ErrorsListener:       p.handleGatewayError,
		LastEventID:          lastEventID,
		HeartbeatFormat:      heartbeatFrameFormat,
		HTTPClient:           httpClient,
		ConnectingDeadlineMs: connectingDeadlineMs,
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.gateway = gw
	p.mu.Unlock()
	return nil
}

// UpdateClients compares the current and proposed client sets as sessionId
// sets; an equal set is a no-op, otherwise it reconnects under the previous
// connection policy.
func (p *Provider) UpdateClients(ctx context.Context, clients []ClientConnection) error {
	p.mu.Lock()
	previous := clientSessionIDs(p.clients)
	opts := p.connOpts
	p.mu.Unlock()

	next := clientSessionIDs(clients)
	if setutil.Equal(previous, next) {
		return nil
	}
	return p.RestoreConnection(ctx, clients, opts)
}

// Send encrypts message for the peer identified by clientSessionID using
// sender's key pair, then POSTs it through the retry engine as a static
// call — sends never require an open subscription.
func (p *Provider) Send(ctx context.Context, message OutgoingMessage, sender *session.Session, clientSessionID string, opts SendOptions) error {
	if ctx.Err() != nil {
		return nil
	}

	plaintext, err := wire.Marshal(message)
	if err != nil {
		return newError(KindDecodeFailure, "encode outgoing message", err)
	}

	ciphertext, err := sender.Encrypt(plaintext, clientSessionID)
	if err != nil {
		return newError(KindDecodeFailure, "encrypt outgoing message", err)
	}

	if opts.Topic == "" && message.Method != "" {
		opts.Topic = message.Method
	}
	if opts.TraceID == "" {
		opts.TraceID = uuid.NewString()
	}

	p.mu.Lock()
	client := p.httpClient
	bridgeURL := p.bridgeURL
	p.mu.Unlock()
	from := sender.SessionID()

	_, err = retry.Do(ctx, opts.retryOptions(), func(attemptCtx context.Context) (struct{}, error) {
		return struct{}{}, SendRequest(attemptCtx, client, bridgeURL, ciphertext, from, clientSessionID, opts)
	})
	if err != nil {
		return err
	}
	bridgemetrics.MessagesSentTotal.Inc()
	return nil
}

// Close tears down the current generation and gateway and clears
// lastEventId/clients. Idempotent.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.generationCancel != nil {
		p.generationCancel()
		p.generationCancel = nil
	}
	gw := p.gateway
	p.gateway = nil
	p.lastEventID = ""
	p.clients = nil
	p.mu.Unlock()

	p.markDisconnected()

	if gw == nil {
		return nil
	}
	return gw.Close()
}

// Listen swaps the event listener.
func (p *Provider) Listen(cb ProviderListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = cb
}

// SetOnConnecting swaps the connecting callback.
func (p *Provider) SetOnConnecting(cb OnConnecting) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnecting = cb
}

// Pause disposes the current gateway's subscription without closing the
// Provider. Deprecated/optional.
func (p *Provider) Pause() {
	gw := p.currentGateway()
	if gw != nil {
		gw.Pause()
	}
}

// UnPause re-establishes the current gateway's subscription. Deprecated/optional.
func (p *Provider) UnPause(ctx context.Context) error {
	gw := p.currentGateway()
	if gw == nil {
		return nil
	}
	return gw.Unpause(ctx)
}

// GetCryptoSession looks up a client connection's session by clientId (the
// remote peer's hex public key), NOT by the session's own sessionId.
func (p *Provider) GetCryptoSession(clientID string) (*session.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		if c.ClientID == clientID {
			return c.Session, nil
		}
	}
	return nil, newError(KindMissingClient, "no client registered for id "+clientID, nil)
}

// IsReady, IsConnecting and IsClosed mirror the current gateway's own query
// properties; with no gateway at all (newly opened, or closed) all three
// report false.
func (p *Provider) IsReady() bool {
	gw := p.currentGateway()
	return gw != nil && gw.IsReady()
}

func (p *Provider) IsConnecting() bool {
	gw := p.currentGateway()
	return gw != nil && gw.IsConnecting()
}

func (p *Provider) IsClosed() bool {
	gw := p.currentGateway()
	return gw != nil && gw.IsClosed()
}

func (p *Provider) currentGateway() *Gateway {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gateway
}

func clientSessionIDs(clients []ClientConnection) []string {
	ids := make([]string, 0, len(clients))
	for _, c := range clients {
		ids = append(ids, c.Session.SessionID())
	}
	return ids
}
