package bridgesdk

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tonkeeper/bridge-sdk/internal/asyncutil"
)

// sseSubscription is the resource a Gateway's resource cell owns: one live
// SSE connection to the relay's /events endpoint.
type sseSubscription struct {
	cancel context.CancelFunc
	resp   *http.Response
	ready  atomic.Bool
	closed atomic.Bool
}

func (s *sseSubscription) isReady() bool {
	return s.ready.Load() && !s.closed.Load()
}

// Dispose tears down the subscription. Idempotent.
func (s *sseSubscription) Dispose() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.resp != nil && s.resp.Body != nil {
		_ = s.resp.Body.Close()
	}
	return nil
}

// openSubscription is the SSE connect factory: precheck cancellation,
// build the URL, issue the GET, and on a successful open hand the body off
// to a background read loop. deadline bounds only this open attempt, not
// the subsequent read loop.
func (g *Gateway) openSubscription(ctx context.Context, deadline time.Duration) (*sseSubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(KindCancelled, "aborted before connection", err)
	}

	// reqCtx lives for as long as the subscription itself; the deadline
	// below only bounds how long we wait for the GET to complete, not the
	// subsequent read loop.
	reqCtx, reqCancel := context.WithCancel(ctx)

	resp, err := asyncutil.Timeout(ctx, asyncutil.TimeoutOptions{Timeout: deadline}, func(connectCtx context.Context) (*http.Response, error) {
		return g.dial(reqCtx, connectCtx)
	})
	if err != nil {
		reqCancel()
		if ctx.Err() != nil {
			return nil, newError(KindCancelled, "aborted before connection", ctx.Err())
		}
		return nil, newError(KindConnectBeforeOpen, "bridge error before connecting", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		reqCancel()
		return nil, newError(KindConnectBeforeOpen, "bridge error before connecting: status "+strconv.Itoa(resp.StatusCode)+": "+string(body), nil)
	}

	if ctx.Err() != nil {
		_ = resp.Body.Close()
		reqCancel()
		return nil, newError(KindCancelled, "aborted before connection", ctx.Err())
	}

	sub := &sseSubscription{cancel: reqCancel, resp: resp}
	sub.ready.Store(true)

	go g.runWithRecovery(func() { g.readLoop(reqCtx, sub, resp) })

	return sub, nil
}

// dial issues the subscribe GET against reqCtx, racing its completion
// against connectCtx (which carries openSubscription's deadline). If
// connectCtx fires first, the caller cancels reqCtx on our behalf, which
// aborts the still-in-flight request.
func (g *Gateway) dial(reqCtx, connectCtx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, g.subscribeURL(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID := g.getLastEventID(); lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := g.httpClient.Do(req)
		done <- result{resp, err}
	}()

	select {
	case <-connectCtx.Done():
		return nil, connectCtx.Err()
	case r := <-done:
		return r.resp, r.err
	}
}

// readLoop scans the SSE body for frames until the stream ends or ctx is
// cancelled, updating the gateway's remembered lastEventId and forwarding
// every frame to the gateway's listener, heartbeats included.
func (g *Gateway) readLoop(ctx context.Context, sub *sseSubscription, resp *http.Response) {
	defer func() { _ = sub.Dispose() }()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	var id string
	var data strings.Builder

	flush := func() {
		if data.Len() == 0 && id == "" {
			return
		}
		frame := Frame{ID: id, Data: data.String()}
		id = ""
		data.Reset()

		if frame.ID != "" {
			g.setLastEventID(frame.ID)
		}
		if ctx.Err() != nil {
			return
		}
		if g.listener != nil {
			g.listener(frame)
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, ":"):
			// comment, ignore
		case strings.HasPrefix(line, "id:"):
			id = strings.TrimSpace(line[len("id:"):])
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(line[len("data:"):]))
		}
	}

	if ctx.Err() != nil {
		// Closed deliberately (generation cancelled or Gateway.Close);
		// not a gateway-level error.
		return
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	if g.errorsListener != nil {
		g.errorsListener(newError(KindConnectAfterOpen, "bridge stream ended", err))
	}
}

func (g *Gateway) runWithRecovery(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			g.logger().Errorf("recovered from panic in SSE read loop: %v", r)
		}
	}()
	fn()
}
