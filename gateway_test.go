package bridgesdk

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tonkeeper/bridge-sdk/internal/testrelay"
)

func TestGatewaySendAndReceive(t *testing.T) {
	relay := httptest.NewServer(testrelay.New())
	defer relay.Close()

	frames := make(chan Frame, 4)
	gw, err := Open(context.Background(), GatewayOpenParams{
		BridgeURL:  relay.URL,
		SessionIDs: []string{"aa"},
		Listener:   func(f Frame) { frames <- f },
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer gw.Close()

	if !gw.IsReady() {
		t.Fatal("expected the gateway to be ready right after open")
	}

	if err := SendRequest(context.Background(), relay.Client(), relay.URL, []byte("ciphertext"), "bb", "aa", SendOptions{}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case f := <-frames:
		if f.Data == "" {
			t.Fatal("expected a non-empty frame")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the frame")
	}
}

func TestGatewayVerify(t *testing.T) {
	relay := httptest.NewServer(testrelay.New())
	defer relay.Close()

	result, err := VerifyRequest(context.Background(), relay.Client(), relay.URL, VerifyParams{
		ClientID: "aa",
		URL:      "https://example.com",
		Type:     "connect",
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Status != "ok" {
		t.Fatalf("got status %q want ok", result.Status)
	}
}

func TestGatewayResumeDoesNotRedeliverAcknowledgedMessage(t *testing.T) {
	relay := httptest.NewServer(testrelay.New())
	defer relay.Close()

	frames := make(chan Frame, 4)
	gw, err := Open(context.Background(), GatewayOpenParams{
		BridgeURL:  relay.URL,
		SessionIDs: []string{"wallet"},
		Listener:   func(f Frame) { frames <- f },
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := SendRequest(context.Background(), relay.Client(), relay.URL, []byte("msg-1"), "app", "wallet", SendOptions{}); err != nil {
		t.Fatalf("send 1: %v", err)
	}

	var firstID string
	select {
	case f := <-frames:
		firstID = f.ID
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the first frame")
	}

	if err := gw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := SendRequest(context.Background(), relay.Client(), relay.URL, []byte("msg-2"), "app", "wallet", SendOptions{}); err != nil {
		t.Fatalf("send 2: %v", err)
	}

	frames2 := make(chan Frame, 4)
	gw2, err := Open(context.Background(), GatewayOpenParams{
		BridgeURL:   relay.URL,
		SessionIDs:  []string{"wallet"},
		Listener:    func(f Frame) { frames2 <- f },
		LastEventID: firstID,
	})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer gw2.Close()

	select {
	case f := <-frames2:
		if f.ID == firstID {
			t.Fatal("should not redeliver the already-acknowledged message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the resumed frame")
	}
}

func TestGatewayResumeDoesNotRedeliverExpiredMessage(t *testing.T) {
	relay := httptest.NewServer(testrelay.New())
	defer relay.Close()

	gw, err := Open(context.Background(), GatewayOpenParams{
		BridgeURL:  relay.URL,
		SessionIDs: []string{"wallet"},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	ttl := 1
	if err := SendRequest(context.Background(), relay.Client(), relay.URL, []byte("expiring"), "app", "wallet", SendOptions{TTL: &ttl}); err != nil {
		t.Fatalf("send with ttl=1: %v", err)
	}

	if err := gw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	time.Sleep(1500 * time.Millisecond)

	frames := make(chan Frame, 4)
	gw2, err := Open(context.Background(), GatewayOpenParams{
		BridgeURL:  relay.URL,
		SessionIDs: []string{"wallet"},
		Listener:   func(f Frame) { frames <- f },
	})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer gw2.Close()

	select {
	case f := <-frames:
		t.Fatalf("expired message should not have been redelivered, got %+v", f)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestGatewayCloseIsIdempotent(t *testing.T) {
	relay := httptest.NewServer(testrelay.New())
	defer relay.Close()

	gw, err := Open(context.Background(), GatewayOpenParams{
		BridgeURL:  relay.URL,
		SessionIDs: []string{"aa"},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := gw.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !gw.IsClosed() {
		t.Fatal("expected the gateway to report closed")
	}
}

func TestGatewayOpenFailsAgainstUnreachableURL(t *testing.T) {
	_, err := Open(context.Background(), GatewayOpenParams{
		BridgeURL:            "http://127.0.0.1:1",
		SessionIDs:           []string{"aa"},
		ConnectingDeadlineMs: 200,
	})
	if err == nil {
		t.Fatal("expected open against an unreachable bridge to fail")
	}
}
