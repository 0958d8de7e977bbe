package negotiation

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultWaitingResponseTTL  = 12 * time.Hour
	DefaultNegotiatingTTL      = 6 * time.Hour
	DefaultWaitingExecutionTTL = 6 * time.Hour
	DefaultVerifyingTTL        = 12 * time.Hour
)

type ContactStatus string

const (
	ContactStatusNew         ContactStatus = "new"
	ContactStatusContacted   ContactStatus = "contacted"
	ContactStatusNegotiating ContactStatus = "negotiating"
	ContactStatusActiveSaved ContactStatus = "active_saved"
	ContactStatusBlocked     ContactStatus = "blocked"
)

// Contact is a counterparty identity. Contacts are never hard-deleted:
// their exchange history feeds the reliability score.
type Contact struct {
	ContactID           string        `json:"contact_id"`
	DisplayName         string        `json:"display_name,omitempty"`
	Status              ContactStatus `json:"status"`
	ReliabilityScore    float64       `json:"reliability_score"`
	TotalExchanges      int           `json:"total_exchanges"`
	SuccessfulExchanges int           `json:"successful_exchanges"`
	FailedExchanges     int           `json:"failed_exchanges"`
	LastExchangeAt      *time.Time    `json:"last_exchange_at,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

func (c Contact) Validate() error {
	if strings.TrimSpace(c.ContactID) == "" {
		return fmt.Errorf("contact_id is required")
	}
	if c.SuccessfulExchanges+c.FailedExchanges > c.TotalExchanges {
		return fmt.Errorf("exchange counters are inconsistent: %d+%d > %d",
			c.SuccessfulExchanges, c.FailedExchanges, c.TotalExchanges)
	}
	return nil
}

// Terms are the quantified obligations both sides commit to. Immutable once
// agreed; only the negotiation handlers mutate them before that.
type Terms struct {
	Likes        int `json:"likes"`
	Subs         int `json:"subs"`
	Comments     int `json:"comments"`
	WatchSeconds int `json:"watch_seconds"`
}

func (t Terms) IsZero() bool {
	return t == Terms{}
}

// TermsPatch is a partial Terms where absence and zero are distinct.
// The extractor produces patches; a missing unit never becomes a zero.
type TermsPatch struct {
	Likes        *int `json:"likes,omitempty"`
	Subs         *int `json:"subs,omitempty"`
	Comments     *int `json:"comments,omitempty"`
	WatchSeconds *int `json:"watch_seconds,omitempty"`
}

func (p TermsPatch) IsEmpty() bool {
	return p.Likes == nil && p.Subs == nil && p.Comments == nil && p.WatchSeconds == nil
}

// ApplyTo overlays the present categories onto base.
func (p TermsPatch) ApplyTo(base Terms) Terms {
	out := base
	if p.Likes != nil {
		out.Likes = *p.Likes
	}
	if p.Subs != nil {
		out.Subs = *p.Subs
	}
	if p.Comments != nil {
		out.Comments = *p.Comments
	}
	if p.WatchSeconds != nil {
		out.WatchSeconds = *p.WatchSeconds
	}
	return out
}

type ExchangeStatus string

const (
	ExchangeProposed   ExchangeStatus = "proposed"
	ExchangeAgreed     ExchangeStatus = "agreed"
	ExchangeMyTurnDone ExchangeStatus = "my_turn_done"
	ExchangeCompleted  ExchangeStatus = "completed"
	ExchangeFailed     ExchangeStatus = "failed"
)

func (s ExchangeStatus) Terminal() bool {
	return s == ExchangeCompleted || s == ExchangeFailed
}

// exchangeStatusRank orders the forward-only progression. Failed is reachable
// from any non-terminal status.
func exchangeStatusRank(s ExchangeStatus) int {
	switch s {
	case ExchangeProposed:
		return 0
	case ExchangeAgreed:
		return 1
	case ExchangeMyTurnDone:
		return 2
	case ExchangeCompleted:
		return 3
	default:
		return -1
	}
}

func ValidStatusTransition(from, to ExchangeStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == ExchangeFailed {
		return true
	}
	fromRank := exchangeStatusRank(from)
	toRank := exchangeStatusRank(to)
	if fromRank < 0 || toRank < 0 {
		return false
	}
	return toRank > fromRank
}

type Sender string

const (
	SenderUs   Sender = "us"
	SenderThem Sender = "them"
)

type HistoryEntry struct {
	At     time.Time    `json:"at"`
	Sender Sender       `json:"sender"`
	Text   string       `json:"text"`
	State  SessionState `json:"state"`
}

// ExecutionResults records which obligation types were fulfilled.
type ExecutionResults map[string]bool

// Exchange is one negotiation-to-completion cycle with a single contact.
type Exchange struct {
	ID               string         `json:"id"`
	ContactID        string         `json:"contact_id"`
	OurResourceRef   string         `json:"our_resource_ref"`
	TheirResourceRef string         `json:"their_resource_ref"`
	Terms            Terms          `json:"terms"`
	Status           ExchangeStatus `json:"status"`
	History          []HistoryEntry `json:"history,omitempty"`

	OurExecutionStartedAt   *time.Time       `json:"our_execution_started_at,omitempty"`
	OurExecutionCompletedAt *time.Time       `json:"our_execution_completed_at,omitempty"`
	OurExecutionResults     ExecutionResults `json:"our_execution_results,omitempty"`
	TheirVerifiedAt         *time.Time       `json:"their_verified_at,omitempty"`
	TheirResults            ExecutionResults `json:"their_results,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	AgreedAt    *time.Time `json:"agreed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (x *Exchange) AppendHistory(at time.Time, sender Sender, text string, state SessionState) {
	x.History = append(x.History, HistoryEntry{At: at.UTC(), Sender: sender, Text: text, State: state})
}

// Advance moves the status forward. It rejects regressions and any mutation
// of a terminal exchange.
func (x *Exchange) Advance(to ExchangeStatus) error {
	if !ValidStatusTransition(x.Status, to) {
		return fmt.Errorf("invalid exchange status transition: %s -> %s", x.Status, to)
	}
	x.Status = to
	return nil
}

type SessionState string

const (
	StateWaitingResponse     SessionState = "waiting_response"
	StateNegotiatingTerms    SessionState = "negotiating_terms"
	StateWaitingExecution    SessionState = "waiting_execution"
	StateVerifyingCompletion SessionState = "verifying_completion"
	StateCompleted           SessionState = "completed"
	StateFailed              SessionState = "failed"
)

func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

func sessionStateRank(s SessionState) int {
	switch s {
	case StateWaitingResponse:
		return 0
	case StateNegotiatingTerms:
		return 1
	case StateWaitingExecution:
		return 2
	case StateVerifyingCompletion:
		return 3
	case StateCompleted, StateFailed:
		return 4
	default:
		return -1
	}
}

// WaitingResponseData carries the session fields only the initial state needs.
type WaitingResponseData struct {
	ProposedTerms Terms `json:"proposed_terms"`
	RePrompts     int   `json:"re_prompts,omitempty"`
}

type NegotiatingData struct {
	OurTerms       Terms `json:"our_terms"`
	TheirLastTerms Terms `json:"their_last_terms"`
	Round          int   `json:"round"`
	FinalOffer     bool  `json:"final_offer,omitempty"`
}

type ExecutionData struct {
	AgreedTerms       Terms `json:"agreed_terms"`
	ExecutionAttempts int   `json:"execution_attempts,omitempty"`
}

type VerifyData struct {
	AgreedTerms Terms `json:"agreed_terms"`
	Reminders   int   `json:"reminders,omitempty"`
}

// ConversationContext is the ephemeral per-contact session. Exactly one may
// be active per contact; terminal sessions are deleted from active storage.
// Per-state data lives in the pointer field selected by State.
type ConversationContext struct {
	SessionID  string       `json:"session_id"`
	ContactID  string       `json:"contact_id"`
	ExchangeID string       `json:"exchange_id"`
	State      SessionState `json:"state"`

	Waiting     *WaitingResponseData `json:"waiting,omitempty"`
	Negotiating *NegotiatingData     `json:"negotiating,omitempty"`
	Executing   *ExecutionData       `json:"executing,omitempty"`
	Verifying   *VerifyData          `json:"verifying,omitempty"`

	StateExpiresAt time.Time `json:"state_expires_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SetState clears the data of other states so exactly one tagged payload
// survives the transition. Regressions to an earlier non-terminal state are
// rejected; unclear re-prompts keep the same state and are not transitions.
func (c *ConversationContext) SetState(to SessionState) error {
	fromRank := sessionStateRank(c.State)
	toRank := sessionStateRank(to)
	if fromRank < 0 || toRank < 0 {
		return fmt.Errorf("unknown session state: %s -> %s", c.State, to)
	}
	if c.State.Terminal() {
		return fmt.Errorf("session is terminal: %s", c.State)
	}
	if toRank < fromRank {
		return fmt.Errorf("session state regression: %s -> %s", c.State, to)
	}
	c.State = to
	if to != StateWaitingResponse {
		c.Waiting = nil
	}
	if to != StateNegotiatingTerms {
		c.Negotiating = nil
	}
	if to != StateWaitingExecution {
		c.Executing = nil
	}
	if to != StateVerifyingCompletion {
		c.Verifying = nil
	}
	return nil
}

func (c ConversationContext) Expired(now time.Time) bool {
	if c.State.Terminal() {
		return false
	}
	return !c.StateExpiresAt.IsZero() && now.After(c.StateExpiresAt)
}
