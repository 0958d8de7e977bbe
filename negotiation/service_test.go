package negotiation

import (
	"context"
	"testing"
	"time"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(newTestStore(t))
}

func TestEnsureContactCreatesNeutral(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	contact, err := svc.EnsureContact(ctx, "c1", "Channel One", now)
	if err != nil {
		t.Fatalf("EnsureContact() error = %v", err)
	}
	if contact.Status != ContactStatusNew {
		t.Fatalf("Status = %s, want %s", contact.Status, ContactStatusNew)
	}
	if contact.ReliabilityScore != 0.5 {
		t.Fatalf("ReliabilityScore = %v, want 0.5", contact.ReliabilityScore)
	}
	if contact.TotalExchanges != 0 {
		t.Fatalf("TotalExchanges = %d, want 0", contact.TotalExchanges)
	}
}

func TestEnsureContactIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	first, err := svc.EnsureContact(ctx, "c1", "", now)
	if err != nil {
		t.Fatalf("EnsureContact() error = %v", err)
	}
	if _, err := svc.SetContactStatus(ctx, "c1", ContactStatusActiveSaved, now); err != nil {
		t.Fatalf("SetContactStatus() error = %v", err)
	}

	// A later call fills the missing display name but keeps the record.
	again, err := svc.EnsureContact(ctx, "c1", "Channel One", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("EnsureContact(again) error = %v", err)
	}
	if again.DisplayName != "Channel One" {
		t.Fatalf("DisplayName = %q, want Channel One", again.DisplayName)
	}
	if again.Status != ContactStatusActiveSaved {
		t.Fatalf("Status = %s, want %s", again.Status, ContactStatusActiveSaved)
	}
	if !again.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("CreatedAt changed on re-ensure")
	}
}

func TestFinalizeExchangeCompleted(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, err := svc.EnsureContact(ctx, "c1", "", now); err != nil {
		t.Fatalf("EnsureContact() error = %v", err)
	}
	exchange := Exchange{ID: "ex-1", ContactID: "c1", Status: ExchangeCompleted, CreatedAt: now}
	session := ConversationContext{SessionID: "s1", ContactID: "c1", ExchangeID: "ex-1", State: StateCompleted}
	if err := svc.PutSession(ctx, session); err != nil {
		t.Fatalf("PutSession() error = %v", err)
	}

	contact, err := svc.FinalizeExchange(ctx, exchange, session, OutcomeCompleted, now)
	if err != nil {
		t.Fatalf("FinalizeExchange() error = %v", err)
	}
	if contact.TotalExchanges != 1 || contact.SuccessfulExchanges != 1 || contact.FailedExchanges != 0 {
		t.Fatalf("counters = %d/%d/%d, want 1/1/0", contact.TotalExchanges, contact.SuccessfulExchanges, contact.FailedExchanges)
	}
	if contact.Status != ContactStatusActiveSaved {
		t.Fatalf("Status = %s, want %s", contact.Status, ContactStatusActiveSaved)
	}
	if contact.ReliabilityScore != 2.0/3.0 {
		t.Fatalf("ReliabilityScore = %v, want 2/3", contact.ReliabilityScore)
	}
	if contact.LastExchangeAt == nil || !contact.LastExchangeAt.Equal(now) {
		t.Fatalf("LastExchangeAt = %v, want %v", contact.LastExchangeAt, now)
	}

	// Terminal exchange persisted, session gone.
	stored, ok, err := svc.GetExchange(ctx, "ex-1")
	if err != nil || !ok {
		t.Fatalf("GetExchange() = %v, %v", ok, err)
	}
	if stored.Status != ExchangeCompleted {
		t.Fatalf("stored exchange status = %s", stored.Status)
	}
	if _, ok, _ := svc.GetSession(ctx, "c1"); ok {
		t.Fatalf("session survived finalize")
	}
}

func TestFinalizeExchangeFailedRevertsNegotiating(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, err := svc.EnsureContact(ctx, "c1", "", now); err != nil {
		t.Fatalf("EnsureContact() error = %v", err)
	}
	if _, err := svc.SetContactStatus(ctx, "c1", ContactStatusNegotiating, now); err != nil {
		t.Fatalf("SetContactStatus() error = %v", err)
	}
	exchange := Exchange{ID: "ex-1", ContactID: "c1", Status: ExchangeFailed, CreatedAt: now}
	session := ConversationContext{SessionID: "s1", ContactID: "c1", ExchangeID: "ex-1", State: StateFailed}

	contact, err := svc.FinalizeExchange(ctx, exchange, session, OutcomeFailed, now)
	if err != nil {
		t.Fatalf("FinalizeExchange() error = %v", err)
	}
	if contact.TotalExchanges != 1 || contact.FailedExchanges != 1 {
		t.Fatalf("counters = %d total %d failed, want 1/1", contact.TotalExchanges, contact.FailedExchanges)
	}
	if contact.Status != ContactStatusContacted {
		t.Fatalf("Status = %s, want %s", contact.Status, ContactStatusContacted)
	}
	if contact.ReliabilityScore != 1.0/3.0 {
		t.Fatalf("ReliabilityScore = %v, want 1/3", contact.ReliabilityScore)
	}
}

func TestFinalizeExchangeKeepsActiveSavedOnFailure(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, err := svc.EnsureContact(ctx, "c1", "", now); err != nil {
		t.Fatalf("EnsureContact() error = %v", err)
	}
	if _, err := svc.SetContactStatus(ctx, "c1", ContactStatusActiveSaved, now); err != nil {
		t.Fatalf("SetContactStatus() error = %v", err)
	}
	exchange := Exchange{ID: "ex-1", ContactID: "c1", Status: ExchangeFailed, CreatedAt: now}
	session := ConversationContext{SessionID: "s1", ContactID: "c1", ExchangeID: "ex-1", State: StateFailed}

	contact, err := svc.FinalizeExchange(ctx, exchange, session, OutcomeFailed, now)
	if err != nil {
		t.Fatalf("FinalizeExchange() error = %v", err)
	}
	// A proven contact stays saved even when a later exchange falls through.
	if contact.Status != ContactStatusActiveSaved {
		t.Fatalf("Status = %s, want %s", contact.Status, ContactStatusActiveSaved)
	}
}

func TestFinalizeExchangeRejectsNonTerminal(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, err := svc.EnsureContact(ctx, "c1", "", now); err != nil {
		t.Fatalf("EnsureContact() error = %v", err)
	}
	exchange := Exchange{ID: "ex-1", ContactID: "c1", Status: ExchangeAgreed, CreatedAt: now}
	session := ConversationContext{SessionID: "s1", ContactID: "c1", ExchangeID: "ex-1", State: StateWaitingExecution}
	if _, err := svc.FinalizeExchange(ctx, exchange, session, OutcomeCompleted, now); err == nil {
		t.Fatalf("FinalizeExchange(non-terminal) expected error")
	}
}
