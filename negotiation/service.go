package negotiation

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type ServiceDeps struct {
	Ensure    EnsureStore
	Contacts  ContactStore
	Exchanges ExchangeStore
	Sessions  SessionStore
}

// Service owns the durable records: contact bookkeeping and the terminal
// write sequence shared by the state machine and the expiry sweeper.
type Service struct {
	ensureStore   EnsureStore
	contactStore  ContactStore
	exchangeStore ExchangeStore
	sessionStore  SessionStore
}

func NewService(store Store) *Service {
	return NewServiceWithDeps(ServiceDeps{
		Ensure:    store,
		Contacts:  store,
		Exchanges: store,
		Sessions:  store,
	})
}

func NewServiceWithDeps(deps ServiceDeps) *Service {
	return &Service{
		ensureStore:   deps.Ensure,
		contactStore:  deps.Contacts,
		exchangeStore: deps.Exchanges,
		sessionStore:  deps.Sessions,
	}
}

func (s *Service) ready() bool {
	return s != nil &&
		s.ensureStore != nil &&
		s.contactStore != nil &&
		s.exchangeStore != nil &&
		s.sessionStore != nil
}

// EnsureContact returns the stored contact, creating a fresh record when the
// id is unknown.
func (s *Service) EnsureContact(ctx context.Context, contactID, displayName string, now time.Time) (Contact, error) {
	if !s.ready() {
		return Contact{}, fmt.Errorf("nil negotiation service")
	}
	now = normalizeNow(now)
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return Contact{}, fmt.Errorf("contact_id is required")
	}
	if err := s.ensureStore.Ensure(ctx); err != nil {
		return Contact{}, err
	}

	existing, ok, err := s.contactStore.GetContact(ctx, contactID)
	if err != nil {
		return Contact{}, err
	}
	if ok {
		if strings.TrimSpace(existing.DisplayName) == "" && strings.TrimSpace(displayName) != "" {
			existing.DisplayName = strings.TrimSpace(displayName)
			existing.UpdatedAt = now
			if err := s.contactStore.PutContact(ctx, existing); err != nil {
				return Contact{}, err
			}
		}
		return existing, nil
	}

	contact := Contact{
		ContactID:        contactID,
		DisplayName:      strings.TrimSpace(displayName),
		Status:           ContactStatusNew,
		ReliabilityScore: ReliabilityScore(0, 0, 0),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.contactStore.PutContact(ctx, contact); err != nil {
		return Contact{}, err
	}
	return contact, nil
}

func (s *Service) GetContact(ctx context.Context, contactID string) (Contact, bool, error) {
	if !s.ready() {
		return Contact{}, false, fmt.Errorf("nil negotiation service")
	}
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return Contact{}, false, fmt.Errorf("contact_id is required")
	}
	return s.contactStore.GetContact(ctx, contactID)
}

func (s *Service) ListContacts(ctx context.Context) ([]Contact, error) {
	if !s.ready() {
		return nil, fmt.Errorf("nil negotiation service")
	}
	return s.contactStore.ListContacts(ctx)
}

func (s *Service) SetContactStatus(ctx context.Context, contactID string, status ContactStatus, now time.Time) (Contact, error) {
	if !s.ready() {
		return Contact{}, fmt.Errorf("nil negotiation service")
	}
	now = normalizeNow(now)
	contact, ok, err := s.GetContact(ctx, contactID)
	if err != nil {
		return Contact{}, err
	}
	if !ok {
		return Contact{}, fmt.Errorf("contact not found: %s", contactID)
	}
	contact.Status = status
	contact.UpdatedAt = now
	if err := s.contactStore.PutContact(ctx, contact); err != nil {
		return Contact{}, err
	}
	return contact, nil
}

func (s *Service) GetExchange(ctx context.Context, exchangeID string) (Exchange, bool, error) {
	if !s.ready() {
		return Exchange{}, false, fmt.Errorf("nil negotiation service")
	}
	exchangeID = strings.TrimSpace(exchangeID)
	if exchangeID == "" {
		return Exchange{}, false, fmt.Errorf("exchange id is required")
	}
	return s.exchangeStore.GetExchange(ctx, exchangeID)
}

func (s *Service) ListExchanges(ctx context.Context) ([]Exchange, error) {
	if !s.ready() {
		return nil, fmt.Errorf("nil negotiation service")
	}
	return s.exchangeStore.ListExchanges(ctx)
}

func (s *Service) PutExchange(ctx context.Context, exchange Exchange) error {
	if !s.ready() {
		return fmt.Errorf("nil negotiation service")
	}
	return s.exchangeStore.PutExchange(ctx, exchange)
}

func (s *Service) GetSession(ctx context.Context, contactID string) (ConversationContext, bool, error) {
	if !s.ready() {
		return ConversationContext{}, false, fmt.Errorf("nil negotiation service")
	}
	return s.sessionStore.GetSession(ctx, contactID)
}

func (s *Service) PutSession(ctx context.Context, session ConversationContext) error {
	if !s.ready() {
		return fmt.Errorf("nil negotiation service")
	}
	return s.sessionStore.PutSession(ctx, session)
}

func (s *Service) ListSessions(ctx context.Context) ([]ConversationContext, error) {
	if !s.ready() {
		return nil, fmt.Errorf("nil negotiation service")
	}
	return s.sessionStore.ListSessions(ctx)
}

type ExchangeOutcome string

const (
	OutcomeCompleted ExchangeOutcome = "completed"
	OutcomeFailed    ExchangeOutcome = "failed"
)

// FinalizeExchange applies the terminal write sequence: persist the terminal
// exchange, fold the outcome into the contact's counters and reliability
// score, then delete the active session. Ordering matters: the durable
// records are written before the session is removed so a crash can only
// leave a stale session behind, never a lost outcome.
func (s *Service) FinalizeExchange(ctx context.Context, exchange Exchange, session ConversationContext, outcome ExchangeOutcome, now time.Time) (Contact, error) {
	if !s.ready() {
		return Contact{}, fmt.Errorf("nil negotiation service")
	}
	now = normalizeNow(now)
	if !exchange.Status.Terminal() {
		return Contact{}, fmt.Errorf("exchange %s is not terminal: %s", exchange.ID, exchange.Status)
	}
	if err := s.exchangeStore.PutExchange(ctx, exchange); err != nil {
		return Contact{}, err
	}

	contact, ok, err := s.contactStore.GetContact(ctx, exchange.ContactID)
	if err != nil {
		return Contact{}, err
	}
	if !ok {
		return Contact{}, fmt.Errorf("contact not found: %s", exchange.ContactID)
	}

	contact.TotalExchanges++
	switch outcome {
	case OutcomeCompleted:
		contact.SuccessfulExchanges++
		contact.Status = ContactStatusActiveSaved
	case OutcomeFailed:
		contact.FailedExchanges++
		if contact.Status == ContactStatusNegotiating {
			contact.Status = ContactStatusContacted
		}
	default:
		return Contact{}, fmt.Errorf("unknown exchange outcome: %s", outcome)
	}
	contact.ReliabilityScore = ReliabilityScore(contact.SuccessfulExchanges, contact.TotalExchanges, contact.FailedExchanges)
	ts := now
	contact.LastExchangeAt = &ts
	contact.UpdatedAt = now
	if err := s.contactStore.PutContact(ctx, contact); err != nil {
		return Contact{}, err
	}

	if err := s.sessionStore.DeleteSession(ctx, session.ContactID); err != nil {
		return Contact{}, err
	}
	return contact, nil
}

func normalizeNow(now time.Time) time.Time {
	if now.IsZero() {
		return time.Now().UTC()
	}
	return now.UTC()
}
