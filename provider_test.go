package bridgesdk

import (
	"context"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tonkeeper/bridge-sdk/internal/session"
	"github.com/tonkeeper/bridge-sdk/internal/testrelay"
)

func TestProviderBasicSend(t *testing.T) {
	relay := httptest.NewServer(testrelay.New())
	defer relay.Close()

	appSession, err := session.New()
	if err != nil {
		t.Fatalf("new app session: %v", err)
	}
	walletSession, err := session.New()
	if err != nil {
		t.Fatalf("new wallet session: %v", err)
	}

	received := make(chan IncomingEvent, 1)
	wallet, err := OpenProvider(context.Background(), ProviderOpenParams{
		BridgeURL: relay.URL,
		Clients:   []ClientConnection{{Session: walletSession, ClientID: appSession.SessionID()}},
		Listener:  func(e IncomingEvent) { received <- e },
	})
	if err != nil {
		t.Fatalf("open wallet provider: %v", err)
	}
	defer wallet.Close()

	app, err := OpenProvider(context.Background(), ProviderOpenParams{
		BridgeURL: relay.URL,
		Clients:   []ClientConnection{{Session: appSession, ClientID: walletSession.SessionID()}},
	})
	if err != nil {
		t.Fatalf("open app provider: %v", err)
	}
	defer app.Close()

	msg := OutgoingMessage{Method: "sendTransaction", Params: []any{""}, ID: "1"}
	if err := app.Send(context.Background(), msg, appSession, walletSession.SessionID(), SendOptions{}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case event := <-received:
		if event.From != appSession.SessionID() {
			t.Fatalf("from = %q want %q", event.From, appSession.SessionID())
		}
		if event.Payload["method"] != "sendTransaction" {
			t.Fatalf("payload method = %v want sendTransaction", event.Payload["method"])
		}
		if event.LastEventID == "" {
			t.Fatal("expected a non-empty lastEventId")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the wallet listener")
	}
}

func TestProviderReconnectToNewPeer(t *testing.T) {
	relay := httptest.NewServer(testrelay.New())
	defer relay.Close()

	appSession, _ := session.New()
	walletSession, _ := session.New()
	app2Session, _ := session.New()
	wallet2Session, _ := session.New()

	walletReceived := make(chan IncomingEvent, 1)
	wallet, err := OpenProvider(context.Background(), ProviderOpenParams{
		BridgeURL: relay.URL,
		Clients:   []ClientConnection{{Session: walletSession, ClientID: appSession.SessionID()}},
		Listener:  func(e IncomingEvent) { walletReceived <- e },
	})
	if err != nil {
		t.Fatalf("open wallet provider: %v", err)
	}
	defer wallet.Close()

	wallet2Received := make(chan IncomingEvent, 1)
	wallet2, err := OpenProvider(context.Background(), ProviderOpenParams{
		BridgeURL: relay.URL,
		Clients:   []ClientConnection{{Session: wallet2Session, ClientID: app2Session.SessionID()}},
		Listener:  func(e IncomingEvent) { wallet2Received <- e },
	})
	if err != nil {
		t.Fatalf("open wallet2 provider: %v", err)
	}
	defer wallet2.Close()

	app, err := OpenProvider(context.Background(), ProviderOpenParams{
		BridgeURL: relay.URL,
		Clients:   []ClientConnection{{Session: appSession, ClientID: walletSession.SessionID()}},
	})
	if err != nil {
		t.Fatalf("open app provider: %v", err)
	}
	defer app.Close()

	if err := app.RestoreConnection(context.Background(), []ClientConnection{
		{Session: appSession, ClientID: walletSession.SessionID()},
		{Session: app2Session, ClientID: wallet2Session.SessionID()},
	}, ConnectionOptions{}); err != nil {
		t.Fatalf("restore connection with the second peer: %v", err)
	}

	disconnect := OutgoingMessage{Method: "disconnect", Params: []any{}, ID: "2"}
	if err := app.Send(context.Background(), disconnect, app2Session, wallet2Session.SessionID(), SendOptions{}); err != nil {
		t.Fatalf("send disconnect: %v", err)
	}

	select {
	case event := <-wallet2Received:
		if event.From != app2Session.SessionID() {
			t.Fatalf("from = %q want %q", event.From, app2Session.SessionID())
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for wallet2's listener")
	}

	select {
	case event := <-walletReceived:
		t.Fatalf("wallet (session 1) should not have received anything, got %+v", event)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestProviderUpdateClientsNoOpForSameSet(t *testing.T) {
	relay := httptest.NewServer(testrelay.New())
	defer relay.Close()

	sess, _ := session.New()
	peer, _ := session.New()

	var onConnectingCalls atomic.Int32
	p, err := OpenProvider(context.Background(), ProviderOpenParams{
		BridgeURL:    relay.URL,
		Clients:      []ClientConnection{{Session: sess, ClientID: peer.SessionID()}},
		OnConnecting: func() { onConnectingCalls.Add(1) },
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer p.Close()

	before := onConnectingCalls.Load()
	if err := p.UpdateClients(context.Background(), []ClientConnection{{Session: sess, ClientID: peer.SessionID()}}); err != nil {
		t.Fatalf("update clients (same set): %v", err)
	}
	if onConnectingCalls.Load() != before {
		t.Fatalf("onConnecting should not fire for an identical client set: %d -> %d", before, onConnectingCalls.Load())
	}

	other, _ := session.New()
	if err := p.UpdateClients(context.Background(), []ClientConnection{
		{Session: sess, ClientID: peer.SessionID()},
		{Session: other, ClientID: peer.SessionID()},
	}); err != nil {
		t.Fatalf("update clients (larger set): %v", err)
	}
	if onConnectingCalls.Load() <= before {
		t.Fatal("onConnecting should fire when the session set grows")
	}
}

func TestProviderCloseIsIdempotentAndClearsState(t *testing.T) {
	relay := httptest.NewServer(testrelay.New())
	defer relay.Close()

	sess, _ := session.New()
	peer, _ := session.New()
	p, err := OpenProvider(context.Background(), ProviderOpenParams{
		BridgeURL: relay.URL,
		Clients:   []ClientConnection{{Session: sess, ClientID: peer.SessionID()}},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !p.IsClosed() && p.IsReady() {
		t.Fatal("expected the provider not to report ready after close")
	}
	if _, err := p.GetCryptoSession(peer.SessionID()); err == nil {
		t.Fatal("expected getCryptoSession to fail once clients have been cleared")
	}
}

func TestProviderHandleFrameHeartbeatLiteralDoesNotInvokeListener(t *testing.T) {
	called := false
	p := &Provider{listener: func(IncomingEvent) { called = true }}

	p.handleFrame(Frame{ID: "1", Data: "heartbeat"})

	if called {
		t.Fatal("a heartbeat frame should not invoke the listener")
	}
	if p.heartbeatAt.IsZero() {
		t.Fatal("heartbeatAt should have been updated")
	}
}

func TestProviderHandleFrameReportsDecodeFailure(t *testing.T) {
	var gotErr error
	p := &Provider{errorListener: func(err error) { gotErr = err }}

	p.handleFrame(Frame{ID: "1", Data: "not json"})

	if gotErr == nil {
		t.Fatal("expected the error listener to be invoked")
	}
}

func TestProviderGetCryptoSessionMissingClient(t *testing.T) {
	p := &Provider{}
	if _, err := p.GetCryptoSession("deadbeef"); err == nil {
		t.Fatal("expected an error for an unregistered client id")
	}
}
