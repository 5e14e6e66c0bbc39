package bridgesdk

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tonkeeper/bridge-sdk/internal/asyncutil"
	"github.com/tonkeeper/bridge-sdk/internal/setutil"
	"github.com/tonkeeper/bridge-sdk/internal/wire"
)

const (
	pathEvents  = "events"
	pathMessage = "message"
	pathVerify  = "verify"
)

// FrameListener receives every raw SSE frame the subscription delivers,
// heartbeats included — interpretation (heartbeat vs ordinary frame, JSON
// parsing) is the Provider's responsibility.
type FrameListener func(Frame)

// ErrorListener receives errors asynchronously. A Gateway sends it a
// connect-after-open error when an open subscription's stream ends;
// connect-before-open errors are returned from Open instead.
type ErrorListener func(error)

// GatewayOpenParams configures Gateway.Open.
type GatewayOpenParams struct {
	BridgeURL            string
	SessionIDs           []string
	Listener             FrameListener
	ErrorsListener       ErrorListener
	LastEventID          string
	HeartbeatFormat      string
	EnableQueueDoneEvent bool
	HTTPClient           *http.Client
	ConnectingDeadlineMs int
}

// RegisterOptions bounds one registerSession call.
type RegisterOptions struct {
	ConnectingDeadlineMs int
}

// Gateway manages one SSE subscription and performs HTTP POST sends.
type Gateway struct {
	bridgeURL            string
	sessionIDs           []string
	heartbeatFormat      string
	enableQueueDoneEvent bool
	httpClient           *http.Client

	listener       FrameListener
	errorsListener ErrorListener

	lastEventIDMu sync.RWMutex
	lastEventID   string

	cell *asyncutil.ResourceCell[*sseSubscription]
}

func (g *Gateway) getLastEventID() string {
	g.lastEventIDMu.RLock()
	defer g.lastEventIDMu.RUnlock()
	return g.lastEventID
}

func (g *Gateway) setLastEventID(id string) {
	g.lastEventIDMu.Lock()
	defer g.lastEventIDMu.Unlock()
	g.lastEventID = id
}

// Open constructs a Gateway and registers its SSE subscription. On any
// failure the partially-built Gateway is disposed before the error is
// returned.
func Open(ctx context.Context, params GatewayOpenParams) (*Gateway, error) {
	g := newGateway(params)
	if err := g.registerSession(ctx, RegisterOptions{ConnectingDeadlineMs: params.ConnectingDeadlineMs}); err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

func newGateway(params GatewayOpenParams) *Gateway {
	client := params.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	heartbeatFormat := params.HeartbeatFormat
	if heartbeatFormat == "" {
		heartbeatFormat = heartbeatFrameFormat
	}
	g := &Gateway{
		bridgeURL:            params.BridgeURL,
		sessionIDs:           setutil.Dedup(params.SessionIDs),
		heartbeatFormat:      heartbeatFormat,
		enableQueueDoneEvent: params.EnableQueueDoneEvent,
		httpClient:           client,
		listener:             params.Listener,
		errorsListener:       params.ErrorsListener,
		cell:                 asyncutil.NewResourceCell[*sseSubscription](),
	}
	g.lastEventID = params.LastEventID
	return g
}

// registerSession opens the SSE subscription, bounded by deadline, per
// It returns once the server has responded (the "open" event).
func (g *Gateway) registerSession(ctx context.Context, opts RegisterOptions) error {
	deadline := DefaultConnectingDeadline
	if opts.ConnectingDeadlineMs > 0 {
		deadline = time.Duration(opts.ConnectingDeadlineMs) * time.Millisecond
	}
	_, err := g.cell.Create(ctx, func(cellCtx context.Context) (*sseSubscription, error) {
		return g.openSubscription(cellCtx, deadline)
	})
	return err
}

func (g *Gateway) subscribeURL() string {
	u := joinPath(g.bridgeURL, pathEvents)
	q := url.Values{}
	q.Set("client_id", strings.Join(g.sessionIDs, ","))
	if lastEventID := g.getLastEventID(); lastEventID != "" {
		q.Set("last_event_id", lastEventID)
	}
	if g.heartbeatFormat != "" {
		q.Set("heartbeat", g.heartbeatFormat)
	}
	if g.enableQueueDoneEvent {
		q.Set("enable_queue_done_event", "true")
	}
	return u + "?" + q.Encode()
}

// Send issues one HTTP POST to the relay's /message endpoint.
func (g *Gateway) Send(ctx context.Context, message []byte, from, to string, opts SendOptions) error {
	return SendRequest(ctx, g.httpClient, g.bridgeURL, message, from, to, opts)
}

// SendRequest is the static send call Provider.send uses directly, so
// sends never require an open subscription.
func SendRequest(ctx context.Context, client *http.Client, bridgeURL string, message []byte, from, to string, opts SendOptions) error {
	if client == nil {
		client = http.DefaultClient
	}
	u := joinPath(bridgeURL, pathMessage)
	q := url.Values{}
	q.Set("client_id", from)
	q.Set("to", to)
	q.Set("ttl", strconv.Itoa(opts.ttl()))
	if opts.Topic != "" {
		q.Set("topic", opts.Topic)
	}
	if opts.TraceID != "" {
		q.Set("trace_id", opts.TraceID)
	}
	if opts.DisableRequestSource {
		q.Set("no_request_source", "true")
	}

	body := base64.StdEncoding.EncodeToString(message)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u+"?"+q.Encode(), strings.NewReader(body))
	if err != nil {
		return newError(KindHTTPStatus, "build send request", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return newError(KindHTTPStatus, "send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return newError(KindHTTPStatus, fmt.Sprintf("send status %d: %s", resp.StatusCode, string(b)), nil)
	}
	return nil
}

// VerifyParams is the body of POST /verify.
type VerifyParams struct {
	ClientID string
	URL      string
	Type     string
}

// VerifyResult is the decoded response of POST /verify.
type VerifyResult struct {
	Status string
}

// Verify issues one HTTP POST to the relay's /verify endpoint.
func (g *Gateway) Verify(ctx context.Context, params VerifyParams) (VerifyResult, error) {
	return VerifyRequest(ctx, g.httpClient, g.bridgeURL, params)
}

// VerifyRequest is the static verify call.
func VerifyRequest(ctx context.Context, client *http.Client, bridgeURL string, params VerifyParams) (VerifyResult, error) {
	if client == nil {
		client = http.DefaultClient
	}
	reqBody, err := wire.Marshal(wire.VerifyRequest{
		ClientID: params.ClientID,
		URL:      params.URL,
		Type:     params.Type,
	})
	if err != nil {
		return VerifyResult{}, newError(KindHTTPStatus, "encode verify request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinPath(bridgeURL, pathVerify), strings.NewReader(string(reqBody)))
	if err != nil {
		return VerifyResult{}, newError(KindHTTPStatus, "build verify request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return VerifyResult{}, newError(KindHTTPStatus, "verify request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return VerifyResult{}, newError(KindHTTPStatus, fmt.Sprintf("verify status %d: %s", resp.StatusCode, string(b)), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return VerifyResult{}, newError(KindHTTPStatus, "read verify response", err)
	}
	var decoded wire.VerifyResponse
	if err := wire.Unmarshal(body, &decoded); err != nil {
		return VerifyResult{}, newError(KindDecodeFailure, "decode verify response", err)
	}
	return VerifyResult{Status: decoded.Status}, nil
}

// Close disposes the subscription resource.
func (g *Gateway) Close() error {
	g.cell.Dispose()
	return nil
}

// SetListener swaps the frame listener. Not safe to call concurrently with
// an active subscription's read loop; intended for use before registerSession.
func (g *Gateway) SetListener(l FrameListener) { g.listener = l }

// SetErrorsListener swaps the error listener. Same caveat as SetListener.
func (g *Gateway) SetErrorsListener(l ErrorListener) { g.errorsListener = l }

// IsReady reports whether the SSE subscription is open.
func (g *Gateway) IsReady() bool {
	sub, ok := g.cell.Current()
	return ok && sub.isReady()
}

// IsConnecting reports whether a subscription attempt is in flight.
func (g *Gateway) IsConnecting() bool {
	_, hasCurrent := g.cell.Current()
	return !hasCurrent && g.cell.Creating()
}

// IsClosed reports whether there is no live or in-flight subscription.
func (g *Gateway) IsClosed() bool {
	sub, hasCurrent := g.cell.Current()
	live := hasCurrent && !sub.closed.Load()
	return !live && !g.cell.Creating()
}

// Pause disposes the current SSE subscription without tearing down the
// Gateway itself. Deprecated/optional.
func (g *Gateway) Pause() {
	g.cell.Dispose()
}

// Unpause re-establishes the SSE subscription using the Gateway's last
// known parameters. Deprecated/optional.
func (g *Gateway) Unpause(ctx context.Context) error {
	return g.registerSession(ctx, RegisterOptions{})
}

func (g *Gateway) logger() *logrus.Entry {
	return logrus.WithField("prefix", "Gateway")
}
