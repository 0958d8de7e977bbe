package negotiation

import (
	"context"
	"testing"
	"time"
)

func TestSweepOnceExpiresStalledSessions(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	exchange := env.open(t, now)

	sweeper := NewSweeper(env.svc, time.Minute, func(sweepCtx context.Context, contactID string, at time.Time) {
		if _, err := env.engine.ExpireSession(sweepCtx, contactID, at); err != nil {
			t.Errorf("ExpireSession(%s) error = %v", contactID, err)
		}
	}, nil)

	// Before the deadline nothing is touched.
	expired, err := sweeper.SweepOnce(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("SweepOnce(early) error = %v", err)
	}
	if expired != 0 {
		t.Fatalf("SweepOnce(early) = %d, want 0", expired)
	}

	expired, err = sweeper.SweepOnce(ctx, now.Add(DefaultWaitingResponseTTL+time.Minute))
	if err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if expired != 1 {
		t.Fatalf("SweepOnce() = %d, want 1", expired)
	}

	if env.exchange(t, exchange.ID).Status != ExchangeFailed {
		t.Fatalf("exchange status = %s, want failed", env.exchange(t, exchange.ID).Status)
	}
	if _, ok, _ := env.svc.GetSession(ctx, "c1"); ok {
		t.Fatalf("expired session still present")
	}
	contact := env.contact(t, "c1")
	if contact.FailedExchanges != 1 || contact.TotalExchanges != 1 {
		t.Fatalf("counters = %d/%d, want 1/1", contact.FailedExchanges, contact.TotalExchanges)
	}

	// A second sweep finds nothing.
	expired, err = sweeper.SweepOnce(ctx, now.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("SweepOnce(again) error = %v", err)
	}
	if expired != 0 {
		t.Fatalf("SweepOnce(again) = %d, want 0", expired)
	}
}

func TestSweepOnceSkipsHealthySessions(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	env.open(t, now)
	calls := 0
	sweeper := NewSweeper(env.svc, time.Minute, func(context.Context, string, time.Time) { calls++ }, nil)

	if _, err := sweeper.SweepOnce(ctx, now.Add(time.Minute)); err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if calls != 0 {
		t.Fatalf("expire called %d times for a healthy session", calls)
	}
}

func TestSweepOnceMultipleContacts(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	for _, id := range []string{"c1", "c2", "c3"} {
		_, err := env.engine.OpenNegotiation(ctx, OpenRequest{
			ContactID: id,
			Terms:     Terms{Likes: 5},
		}, now)
		if err != nil {
			t.Fatalf("OpenNegotiation(%s) error = %v", id, err)
		}
	}
	// Push one deadline into the future so only two expire.
	session := env.session(t, "c2")
	session.StateExpiresAt = now.Add(100 * time.Hour)
	if err := env.svc.PutSession(ctx, session); err != nil {
		t.Fatalf("PutSession() error = %v", err)
	}

	var handed []string
	sweeper := NewSweeper(env.svc, time.Minute, func(_ context.Context, contactID string, _ time.Time) {
		handed = append(handed, contactID)
	}, nil)
	expired, err := sweeper.SweepOnce(ctx, now.Add(DefaultWaitingResponseTTL+time.Minute))
	if err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if expired != 2 || len(handed) != 2 {
		t.Fatalf("SweepOnce() = %d handed %v, want 2", expired, handed)
	}
	for _, id := range handed {
		if id == "c2" {
			t.Fatalf("healthy session c2 was handed to expire")
		}
	}
}

func TestNewSweeperDefaults(t *testing.T) {
	s := NewSweeper(nil, 0, nil, nil)
	if s.interval != DefaultSweepInterval {
		t.Fatalf("interval = %v, want %v", s.interval, DefaultSweepInterval)
	}
	if _, err := s.SweepOnce(context.Background(), time.Now()); err == nil {
		t.Fatalf("SweepOnce(nil service) expected error")
	}
}
