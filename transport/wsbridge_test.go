package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type gatewayStub struct {
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
	auth     chan string
}

func newGatewayStub() *gatewayStub {
	return &gatewayStub{
		conns: make(chan *websocket.Conn, 1),
		auth:  make(chan string, 1),
	}
}

func (g *gatewayStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.auth <- r.Header.Get("Authorization")
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	g.conns <- conn
}

func dialTestBridge(t *testing.T, g *gatewayStub) (*Bridge, *websocket.Conn) {
	t.Helper()
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	bridge, err := DialBridge(context.Background(), BridgeConfig{
		GatewayURL: url,
		AuthToken:  "test-token",
	}, nil)
	if err != nil {
		t.Fatalf("DialBridge() error = %v", err)
	}
	t.Cleanup(func() { _ = bridge.Close() })

	select {
	case conn := <-g.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return bridge, conn
	case <-time.After(2 * time.Second):
		t.Fatalf("gateway never saw the connection")
		return nil, nil
	}
}

func TestDialBridgeSendsBearerToken(t *testing.T) {
	g := newGatewayStub()
	dialTestBridge(t, g)

	select {
	case got := <-g.auth:
		if got != "Bearer test-token" {
			t.Fatalf("Authorization = %q, want Bearer test-token", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no auth header captured")
	}
}

func TestBridgeSendWritesMessageFrame(t *testing.T) {
	g := newGatewayStub()
	bridge, conn := dialTestBridge(t, g)

	if err := bridge.Send(context.Background(), "c1", "hello there"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	var in frame
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&in); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if in.Type != frameTypeMessage || in.ContactID != "c1" || in.Text != "hello there" {
		t.Fatalf("frame = %+v", in)
	}
	if _, err := time.Parse(time.RFC3339, in.SentAt); err != nil {
		t.Fatalf("SentAt = %q: %v", in.SentAt, err)
	}
}

func TestBridgeSendValidates(t *testing.T) {
	g := newGatewayStub()
	bridge, _ := dialTestBridge(t, g)

	if err := bridge.Send(context.Background(), "", "hi"); err == nil {
		t.Fatalf("Send(no contact) expected error")
	}
	if err := bridge.Send(context.Background(), "c1", "  "); err == nil {
		t.Fatalf("Send(blank text) expected error")
	}
	var nilBridge *Bridge
	if err := nilBridge.Send(context.Background(), "c1", "hi"); err == nil {
		t.Fatalf("Send(nil bridge) expected error")
	}
}

func TestBridgeListenDeliversInbound(t *testing.T) {
	g := newGatewayStub()
	bridge, conn := dialTestBridge(t, g)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbound := make(chan Inbound, 2)
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- bridge.Listen(ctx, func(in Inbound) { inbound <- in })
	}()

	sent := frame{
		Type:      frameTypeMessage,
		ContactID: "c9",
		Text:      "yes sounds good",
		SentAt:    time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC).Format(time.RFC3339),
	}
	if err := conn.WriteJSON(sent); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	// Frames with unknown types or missing fields are skipped, not fatal.
	if err := conn.WriteJSON(frame{Type: "weird"}); err != nil {
		t.Fatalf("WriteJSON(unknown) error = %v", err)
	}
	if err := conn.WriteJSON(frame{Type: frameTypeMessage}); err != nil {
		t.Fatalf("WriteJSON(empty message) error = %v", err)
	}

	select {
	case in := <-inbound:
		if in.ContactID != "c9" || in.Text != "yes sounds good" {
			t.Fatalf("inbound = %+v", in)
		}
		if !in.ReceivedAt.Equal(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)) {
			t.Fatalf("ReceivedAt = %v", in.ReceivedAt)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no inbound delivered")
	}

	cancel()
	select {
	case err := <-listenErr:
		if err != context.Canceled {
			t.Fatalf("Listen() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Listen did not stop on cancel")
	}
}

func TestBridgeListenAnswersPing(t *testing.T) {
	g := newGatewayStub()
	bridge, conn := dialTestBridge(t, g)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bridge.Listen(ctx, func(Inbound) {}) }()

	if err := conn.WriteJSON(frame{Type: frameTypePing}); err != nil {
		t.Fatalf("WriteJSON(ping) error = %v", err)
	}
	var in frame
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&in); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if in.Type != frameTypePong {
		t.Fatalf("frame type = %q, want %q", in.Type, frameTypePong)
	}
}

func TestDialBridgeRequiresURL(t *testing.T) {
	if _, err := DialBridge(context.Background(), BridgeConfig{}, nil); err == nil {
		t.Fatalf("DialBridge(no url) expected error")
	}
}
