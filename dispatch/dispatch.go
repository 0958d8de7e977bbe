// Package dispatch serializes engine work per contact: one mailbox goroutine
// per contact id, FIFO within a contact, fully parallel across contacts.
// Inbound messages, execution outcomes and expiry sweeps for the same
// contact therefore never interleave.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultMailboxSize = 16

type InboundEvent struct {
	Text       string
	ReceivedAt time.Time
}

type ExecutionEvent struct {
	ExchangeID  string
	Results     map[string]bool
	Err         string
	CompletedAt time.Time
}

type ExpiryEvent struct {
	Deadline time.Time
}

// Event is a tagged union: exactly one of the pointer fields is set.
type Event struct {
	ContactID string
	Inbound   *InboundEvent
	Execution *ExecutionEvent
	Expiry    *ExpiryEvent
}

func (ev Event) kind() string {
	switch {
	case ev.Inbound != nil:
		return "inbound"
	case ev.Execution != nil:
		return "execution"
	case ev.Expiry != nil:
		return "expiry"
	default:
		return "empty"
	}
}

type Handler func(ctx context.Context, ev Event)

type Options struct {
	MailboxSize int
	Logger      *slog.Logger
}

type Dispatcher struct {
	ctx     context.Context
	cancel  context.CancelFunc
	handler Handler
	size    int
	log     *slog.Logger

	mu    sync.Mutex
	boxes map[string]chan Event
	wg    sync.WaitGroup
}

func New(ctx context.Context, handler Handler, opts Options) *Dispatcher {
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = defaultMailboxSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	runCtx, cancel := context.WithCancel(ctx)
	return &Dispatcher{
		ctx:     runCtx,
		cancel:  cancel,
		handler: handler,
		size:    opts.MailboxSize,
		log:     opts.Logger,
		boxes:   map[string]chan Event{},
	}
}

// Enqueue delivers one event into the contact's mailbox, creating the
// mailbox on first use. It blocks while the mailbox is full so producers
// get backpressure instead of dropped events.
func (d *Dispatcher) Enqueue(ctx context.Context, ev Event) error {
	if d == nil || d.handler == nil {
		return fmt.Errorf("nil dispatcher")
	}
	contactID := strings.TrimSpace(ev.ContactID)
	if contactID == "" {
		return fmt.Errorf("contact_id is required")
	}
	if ev.kind() == "empty" {
		return fmt.Errorf("event payload is required")
	}
	ev.ContactID = contactID

	box, err := d.mailbox(contactID)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = d.ctx
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return d.ctx.Err()
	case box <- ev:
		return nil
	}
}

func (d *Dispatcher) mailbox(contactID string) (chan Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ctx.Err(); err != nil {
		return nil, err
	}
	box, ok := d.boxes[contactID]
	if ok {
		return box, nil
	}
	box = make(chan Event, d.size)
	d.boxes[contactID] = box
	d.wg.Add(1)
	go d.run(contactID, box)
	return box, nil
}

func (d *Dispatcher) run(contactID string, box chan Event) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case ev := <-box:
			d.log.Debug("event_dispatched", "contact_id", contactID, "kind", ev.kind())
			d.handler(d.ctx, ev)
		}
	}
}

// Close stops all mailboxes and waits for in-flight handlers to return.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}
