package bridgesdk

import (
	"context"
	"time"

	"github.com/tonkeeper/bridge-sdk/internal/bridgemetrics"
)

// armHeartbeatWatchdog starts the background watchdog if
// heartbeatReconnectIntervalMs is configured, tied to ctx so cancelling the
// generation stops it.
func (p *Provider) armHeartbeatWatchdog(ctx context.Context, intervalMs int) {
	if intervalMs <= 0 {
		return
	}
	go p.runWithRecovery(func() { p.heartbeatWatchdog(ctx, time.Duration(intervalMs)*time.Millisecond) })
}

func (p *Provider) heartbeatWatchdog(ctx context.Context, interval time.Duration) {
	for {
		elapsed := p.heartbeatElapsed()

		if elapsed < interval {
			if !sleepOrDone(ctx, interval/2) {
				return
			}
			continue
		}

		// Grace delay: tolerate a host-loop stall long enough for an
		// already in-flight message to land before reconnecting.
		if !sleepOrDone(ctx, HeartbeatGraceDelay) {
			return
		}

		if p.heartbeatElapsed() < interval {
			continue
		}

		p.logger().Warnf("heartbeat stalled past %s, reconnecting", interval)
		bridgemetrics.ReconnectsTotal.Inc()
		if err := p.reconnect(ctx); err != nil {
			p.reportError(err)
		}
	}
}

func (p *Provider) heartbeatElapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.heartbeatAt)
}

// sleepOrDone waits for d or ctx's cancellation, whichever comes first,
// returning false if ctx won the race.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (p *Provider) runWithRecovery(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger().Errorf("recovered from panic in heartbeat watchdog: %v", r)
		}
	}()
	fn()
}
