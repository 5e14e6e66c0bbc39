// Command bridgedemo exercises a full round trip against a running bridge:
// it opens two Providers, one standing in for a dapp and one for a wallet,
// exchanges a single signed-looking message between them, and prints what
// the wallet side decrypts. It is a smoke test for the SDK, not a wallet.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	bridgesdk "github.com/tonkeeper/bridge-sdk"
	"github.com/tonkeeper/bridge-sdk/internal/buildinfo"
	"github.com/tonkeeper/bridge-sdk/internal/session"
)

func main() {
	versionFlag := flag.Bool("version", false, "print the SDK version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println(buildinfo.VersionRevision)
		return
	}

	if err := loadConfig(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		log.Fatalf("demo: %v", err)
	}
}

func run(ctx context.Context) error {
	log.Infof("bridgedemo %s connecting to %s", buildinfo.VersionRevision, config.BridgeURL)

	appSession, err := session.New()
	if err != nil {
		return fmt.Errorf("app session: %w", err)
	}
	walletSession, err := session.New()
	if err != nil {
		return fmt.Errorf("wallet session: %w", err)
	}

	received := make(chan bridgesdk.IncomingEvent, 1)
	wallet, err := bridgesdk.OpenProvider(ctx, bridgesdk.ProviderOpenParams{
		BridgeURL: config.BridgeURL,
		Clients: []bridgesdk.ClientConnection{
			{Session: walletSession, ClientID: appSession.SessionID()},
		},
		Listener: func(event bridgesdk.IncomingEvent) {
			log.WithField("prefix", "bridgedemo.wallet").Infof("received %q from %s", event.Payload["method"], event.From)
			received <- event
		},
		ErrorListener: func(err error) {
			log.WithField("prefix", "bridgedemo.wallet").Warnf("stream error: %v", err)
		},
		HeartbeatReconnectIntervalMs: config.HeartbeatReconnectMs,
	})
	if err != nil {
		return fmt.Errorf("open wallet provider: %w", err)
	}
	defer wallet.Close()

	app, err := bridgesdk.OpenProvider(ctx, bridgesdk.ProviderOpenParams{
		BridgeURL: config.BridgeURL,
		Clients: []bridgesdk.ClientConnection{
			{Session: appSession, ClientID: walletSession.SessionID()},
		},
		ErrorListener: func(err error) {
			log.WithField("prefix", "bridgedemo.app").Warnf("stream error: %v", err)
		},
		HeartbeatReconnectIntervalMs: config.HeartbeatReconnectMs,
	})
	if err != nil {
		return fmt.Errorf("open app provider: %w", err)
	}
	defer app.Close()

	log.Infof("app session_id=%s wallet session_id=%s", appSession.SessionID(), walletSession.SessionID())

	msg := bridgesdk.OutgoingMessage{
		Method: "sendTransaction",
		Params: []any{"{}"},
		ID:     "1",
	}
	sendCtx, cancelSend := context.WithTimeout(ctx, time.Duration(config.ConnectingDeadlineMs)*time.Millisecond)
	defer cancelSend()
	if err := app.Send(sendCtx, msg, appSession, walletSession.SessionID(), bridgesdk.SendOptions{}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	select {
	case <-received:
		log.Info("round trip complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timed out waiting for the wallet to receive the message")
	}
}
