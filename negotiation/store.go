package negotiation

import "context"

type EnsureStore interface {
	Ensure(ctx context.Context) error
}

type ContactStore interface {
	GetContact(ctx context.Context, contactID string) (Contact, bool, error)
	PutContact(ctx context.Context, contact Contact) error
	ListContacts(ctx context.Context) ([]Contact, error)
}

type ExchangeStore interface {
	GetExchange(ctx context.Context, exchangeID string) (Exchange, bool, error)
	PutExchange(ctx context.Context, exchange Exchange) error
	ListExchanges(ctx context.Context) ([]Exchange, error)
}

// SessionStore holds the active conversation contexts. Delete removes a
// session from active storage; terminal sessions are never kept.
type SessionStore interface {
	GetSession(ctx context.Context, contactID string) (ConversationContext, bool, error)
	PutSession(ctx context.Context, session ConversationContext) error
	DeleteSession(ctx context.Context, contactID string) error
	ListSessions(ctx context.Context) ([]ConversationContext, error)
}

type Store interface {
	EnsureStore
	ContactStore
	ExchangeStore
	SessionStore
}
