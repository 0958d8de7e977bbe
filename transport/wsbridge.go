package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	frameTypeMessage = "message"
	frameTypePing    = "ping"
	frameTypePong    = "pong"
	frameTypeHello   = "hello"

	defaultDialTimeout  = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// frame is the wire format both directions share.
type frame struct {
	Type      string `json:"type"`
	ContactID string `json:"contact_id,omitempty"`
	Text      string `json:"text,omitempty"`
	SentAt    string `json:"sent_at,omitempty"` // RFC3339
}

type BridgeConfig struct {
	GatewayURL   string
	AuthToken    string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// Bridge is a socket-mode transport: it dials the gateway once and then
// reads inbound message frames and writes outbound ones over the same
// connection. Writes are serialized; gorilla/websocket allows only one
// concurrent writer.
type Bridge struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	log          *slog.Logger
}

func DialBridge(ctx context.Context, cfg BridgeConfig, logger *slog.Logger) (*Bridge, error) {
	gatewayURL := strings.TrimSpace(cfg.GatewayURL)
	if gatewayURL == "" {
		return nil, fmt.Errorf("gateway url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	header := http.Header{}
	if token := strings.TrimSpace(cfg.AuthToken); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, gatewayURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial gateway %s: http %d: %w", gatewayURL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial gateway %s: %w", gatewayURL, err)
	}
	logger.Info("gateway_connected", "url", gatewayURL)
	return &Bridge{
		conn:         conn,
		writeTimeout: writeTimeout,
		log:          logger,
	}, nil
}

// Send implements Transport by writing one message frame.
func (b *Bridge) Send(ctx context.Context, contactID, text string) error {
	if b == nil || b.conn == nil {
		return fmt.Errorf("bridge is not connected")
	}
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return fmt.Errorf("contact_id is required")
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("text is required")
	}
	out := frame{
		Type:      frameTypeMessage,
		ContactID: contactID,
		Text:      text,
		SentAt:    time.Now().UTC().Format(time.RFC3339),
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	deadline := time.Now().Add(b.writeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = b.conn.SetWriteDeadline(deadline)
	if err := b.conn.WriteJSON(out); err != nil {
		return fmt.Errorf("write message frame: %w", err)
	}
	return nil
}

// Listen reads frames until ctx is done or the connection breaks, invoking
// onInbound for every message frame in arrival order.
func (b *Bridge) Listen(ctx context.Context, onInbound func(Inbound)) error {
	if b == nil || b.conn == nil {
		return fmt.Errorf("bridge is not connected")
	}
	if onInbound == nil {
		return fmt.Errorf("inbound callback is required")
	}

	go func() {
		<-ctx.Done()
		_ = b.conn.Close()
	}()

	for {
		var in frame
		if err := b.conn.ReadJSON(&in); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read gateway frame: %w", err)
		}
		switch in.Type {
		case frameTypeMessage:
			contactID := strings.TrimSpace(in.ContactID)
			if contactID == "" || strings.TrimSpace(in.Text) == "" {
				b.log.Debug("gateway_frame_skipped", "reason", "missing_fields")
				continue
			}
			receivedAt := time.Now().UTC()
			if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(in.SentAt)); err == nil {
				receivedAt = ts.UTC()
			}
			onInbound(Inbound{ContactID: contactID, Text: in.Text, ReceivedAt: receivedAt})
		case frameTypePing:
			b.writeMu.Lock()
			_ = b.conn.SetWriteDeadline(time.Now().Add(b.writeTimeout))
			err := b.conn.WriteJSON(frame{Type: frameTypePong})
			b.writeMu.Unlock()
			if err != nil {
				return fmt.Errorf("write pong frame: %w", err)
			}
		case frameTypeHello, frameTypePong:
			// Informational; nothing to do.
		default:
			b.log.Debug("gateway_frame_skipped", "reason", "unknown_type", "type", in.Type)
		}
	}
}

func (b *Bridge) Close() error {
	if b == nil || b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
