// Package transport defines the messaging collaborator contract and ships a
// websocket bridge implementation for gateways that speak a simple JSON
// frame protocol.
package transport

import (
	"context"
	"time"
)

// Inbound is one counterparty message, delivered in arrival order.
type Inbound struct {
	ContactID  string
	Text       string
	ReceivedAt time.Time
}

type Transport interface {
	Send(ctx context.Context, contactID, text string) error
}
