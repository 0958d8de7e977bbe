package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestEnqueueValidates(t *testing.T) {
	d := New(context.Background(), func(context.Context, Event) {}, Options{})
	defer d.Close()

	if err := d.Enqueue(context.Background(), Event{ContactID: "c1"}); err == nil {
		t.Fatalf("Enqueue(no payload) expected error")
	}
	if err := d.Enqueue(context.Background(), Event{Inbound: &InboundEvent{Text: "hi"}}); err == nil {
		t.Fatalf("Enqueue(no contact) expected error")
	}
	if err := d.Enqueue(context.Background(), Event{ContactID: "c1", Inbound: &InboundEvent{Text: "hi"}}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
}

func TestPerContactFIFO(t *testing.T) {
	var mu sync.Mutex
	got := []string{}
	done := make(chan struct{})

	const n = 20
	d := New(context.Background(), func(_ context.Context, ev Event) {
		mu.Lock()
		got = append(got, ev.Inbound.Text)
		if len(got) == n {
			close(done)
		}
		mu.Unlock()
	}, Options{MailboxSize: 4})
	defer d.Close()

	for i := 0; i < n; i++ {
		ev := Event{ContactID: "c1", Inbound: &InboundEvent{Text: string(rune('a' + i))}}
		if err := d.Enqueue(context.Background(), ev); err != nil {
			t.Fatalf("Enqueue(#%d) error = %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for events")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, text := range got {
		if want := string(rune('a' + i)); text != want {
			t.Fatalf("event %d = %q, want %q (order broken)", i, text, want)
		}
	}
}

func TestContactsDoNotBlockEachOther(t *testing.T) {
	release := make(chan struct{})
	c2done := make(chan struct{})

	d := New(context.Background(), func(_ context.Context, ev Event) {
		switch ev.ContactID {
		case "c1":
			<-release
		case "c2":
			close(c2done)
		}
	}, Options{})
	defer d.Close()

	// c1's handler parks; c2 must still be dispatched.
	if err := d.Enqueue(context.Background(), Event{ContactID: "c1", Expiry: &ExpiryEvent{Deadline: time.Now()}}); err != nil {
		t.Fatalf("Enqueue(c1) error = %v", err)
	}
	if err := d.Enqueue(context.Background(), Event{ContactID: "c2", Expiry: &ExpiryEvent{Deadline: time.Now()}}); err != nil {
		t.Fatalf("Enqueue(c2) error = %v", err)
	}

	select {
	case <-c2done:
	case <-time.After(5 * time.Second):
		t.Fatalf("c2 blocked behind c1")
	}
	close(release)
}

func TestMixedEventKindsSerialize(t *testing.T) {
	var mu sync.Mutex
	kinds := []string{}
	done := make(chan struct{})

	d := New(context.Background(), func(_ context.Context, ev Event) {
		mu.Lock()
		kinds = append(kinds, ev.kind())
		if len(kinds) == 3 {
			close(done)
		}
		mu.Unlock()
	}, Options{})
	defer d.Close()

	events := []Event{
		{ContactID: "c1", Inbound: &InboundEvent{Text: "hi", ReceivedAt: time.Now()}},
		{ContactID: "c1", Execution: &ExecutionEvent{ExchangeID: "ex-1"}},
		{ContactID: "c1", Expiry: &ExpiryEvent{Deadline: time.Now()}},
	}
	for _, ev := range events {
		if err := d.Enqueue(context.Background(), ev); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", ev.kind(), err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out")
	}
	mu.Lock()
	defer mu.Unlock()
	want := []string{"inbound", "execution", "expiry"}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", kinds, want)
		}
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	d := New(context.Background(), func(context.Context, Event) {}, Options{})
	d.Close()
	if err := d.Enqueue(context.Background(), Event{ContactID: "c1", Inbound: &InboundEvent{Text: "hi"}}); err == nil {
		t.Fatalf("Enqueue(after close) expected error")
	}
}

func TestCloseWaitsForHandlers(t *testing.T) {
	started := make(chan struct{})
	var finished bool
	var mu sync.Mutex

	d := New(context.Background(), func(context.Context, Event) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		finished = true
		mu.Unlock()
	}, Options{})

	if err := d.Enqueue(context.Background(), Event{ContactID: "c1", Inbound: &InboundEvent{Text: "hi"}}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	<-started
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	if !finished {
		t.Fatalf("Close() returned before the in-flight handler finished")
	}
}
