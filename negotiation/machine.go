package negotiation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Messenger is the outbound half of the messaging transport collaborator.
type Messenger interface {
	Send(ctx context.Context, contactID, text string) error
}

// Executor performs our side of an agreed exchange and reports one boolean
// per obligation type.
type Executor interface {
	Perform(ctx context.Context, resourceRef string, terms Terms) (ExecutionResults, error)
}

type Config struct {
	WaitingResponseTTL  time.Duration
	NegotiatingTTL      time.Duration
	WaitingExecutionTTL time.Duration
	VerifyingTTL        time.Duration
	ExecutionTimeout    time.Duration
	ExecutionRetryDelay time.Duration
	Policy              Policy
}

func normalizeConfig(cfg Config) Config {
	if cfg.WaitingResponseTTL <= 0 {
		cfg.WaitingResponseTTL = DefaultWaitingResponseTTL
	}
	if cfg.NegotiatingTTL <= 0 {
		cfg.NegotiatingTTL = DefaultNegotiatingTTL
	}
	if cfg.WaitingExecutionTTL <= 0 {
		cfg.WaitingExecutionTTL = DefaultWaitingExecutionTTL
	}
	if cfg.VerifyingTTL <= 0 {
		cfg.VerifyingTTL = DefaultVerifyingTTL
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 2 * time.Minute
	}
	cfg.Policy = normalizePolicy(cfg.Policy)
	return cfg
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithClassifier(c *Classifier) Option {
	return func(e *Engine) {
		if c != nil {
			e.classifier = c
		}
	}
}

// WithExecutionSink routes coordinator completions through the caller, so a
// runtime can re-enter them via its per-contact mailbox instead of the
// default direct call.
func WithExecutionSink(sink func(ExecutionOutcome)) Option {
	return func(e *Engine) {
		if sink != nil {
			e.executionSink = sink
		}
	}
}

// Engine is the conversation state machine. Its methods assume per-contact
// mutual exclusion; the dispatch package provides that when running live.
type Engine struct {
	service       *Service
	messenger     Messenger
	coordinator   *Coordinator
	classifier    *Classifier
	cfg           Config
	log           *slog.Logger
	executionSink func(ExecutionOutcome)
}

func NewEngine(service *Service, messenger Messenger, executor Executor, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		service:    service,
		messenger:  messenger,
		classifier: NewClassifier(),
		cfg:        normalizeConfig(cfg),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.executionSink == nil {
		e.executionSink = func(outcome ExecutionOutcome) {
			if err := e.HandleExecutionOutcome(context.Background(), outcome, time.Time{}); err != nil {
				e.log.Warn("execution_outcome_error", "exchange_id", outcome.ExchangeID, "error", err.Error())
			}
		}
	}
	e.coordinator = NewCoordinator(executor, CoordinatorConfig{
		Timeout:    e.cfg.ExecutionTimeout,
		RetryDelay: e.cfg.ExecutionRetryDelay,
	}, func(outcome ExecutionOutcome) { e.executionSink(outcome) }, e.log)
	return e
}

type OpenRequest struct {
	ContactID        string
	DisplayName      string
	OurResourceRef   string
	TheirResourceRef string
	Terms            Terms
}

// OpenNegotiation starts a new exchange with a contact: creates the contact
// record if needed, the proposed exchange, the waiting_response session, and
// sends the opening offer. Exactly one active session per contact is
// enforced here.
func (e *Engine) OpenNegotiation(ctx context.Context, req OpenRequest, now time.Time) (Exchange, error) {
	if e == nil || e.service == nil {
		return Exchange{}, fmt.Errorf("nil negotiation engine")
	}
	now = normalizeNow(now)
	if strings.TrimSpace(req.ContactID) == "" {
		return Exchange{}, fmt.Errorf("contact_id is required")
	}
	if req.Terms.IsZero() {
		return Exchange{}, fmt.Errorf("offer terms are required")
	}

	if _, active, err := e.service.GetSession(ctx, req.ContactID); err != nil {
		return Exchange{}, err
	} else if active {
		return Exchange{}, fmt.Errorf("contact %s already has an active session", req.ContactID)
	}

	contact, err := e.service.EnsureContact(ctx, req.ContactID, req.DisplayName, now)
	if err != nil {
		return Exchange{}, err
	}
	if contact.Status == ContactStatusBlocked {
		return Exchange{}, fmt.Errorf("contact %s is blocked", req.ContactID)
	}
	if contact.Status == ContactStatusNew {
		if _, err := e.service.SetContactStatus(ctx, contact.ContactID, ContactStatusContacted, now); err != nil {
			return Exchange{}, err
		}
	}

	offerText := offerMessage(req.Terms, req.TheirResourceRef)
	exchange := Exchange{
		ID:               uuid.NewString(),
		ContactID:        contact.ContactID,
		OurResourceRef:   strings.TrimSpace(req.OurResourceRef),
		TheirResourceRef: strings.TrimSpace(req.TheirResourceRef),
		Terms:            req.Terms,
		Status:           ExchangeProposed,
		CreatedAt:        now,
	}
	exchange.AppendHistory(now, SenderUs, offerText, StateWaitingResponse)

	session := ConversationContext{
		SessionID:      uuid.NewString(),
		ContactID:      contact.ContactID,
		ExchangeID:     exchange.ID,
		State:          StateWaitingResponse,
		Waiting:        &WaitingResponseData{ProposedTerms: req.Terms},
		StateExpiresAt: now.Add(e.cfg.WaitingResponseTTL),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// Durable state first, then the outbound side effect.
	if err := e.service.PutExchange(ctx, exchange); err != nil {
		return Exchange{}, err
	}
	if err := e.service.PutSession(ctx, session); err != nil {
		return Exchange{}, err
	}
	if err := e.messenger.Send(ctx, contact.ContactID, offerText); err != nil {
		return Exchange{}, fmt.Errorf("send opening offer: %w", err)
	}
	e.log.Info("negotiation_opened", "contact_id", contact.ContactID, "exchange_id", exchange.ID)
	return exchange, nil
}

// HandleInbound processes one counterparty message for the contact's active
// session. Messages without an active session are dropped.
func (e *Engine) HandleInbound(ctx context.Context, contactID, text string, receivedAt time.Time) error {
	if e == nil || e.service == nil {
		return fmt.Errorf("nil negotiation engine")
	}
	now := normalizeNow(receivedAt)
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return fmt.Errorf("contact_id is required")
	}

	session, ok, err := e.service.GetSession(ctx, contactID)
	if err != nil {
		return err
	}
	if !ok {
		e.log.Debug("inbound_without_session", "contact_id", contactID)
		return nil
	}
	exchange, ok, err := e.service.GetExchange(ctx, session.ExchangeID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("exchange not found for session: %s", session.ExchangeID)
	}

	exchange.AppendHistory(now, SenderThem, text, session.State)

	switch session.State {
	case StateWaitingResponse:
		return e.handleWaitingResponse(ctx, &exchange, &session, text, now)
	case StateNegotiatingTerms:
		return e.handleNegotiating(ctx, &exchange, &session, text, now)
	case StateWaitingExecution, StateVerifyingCompletion:
		return e.handleAwaitingTheirSide(ctx, &exchange, &session, text, now)
	default:
		return fmt.Errorf("inbound message for terminal session: %s", session.State)
	}
}

func (e *Engine) handleWaitingResponse(ctx context.Context, exchange *Exchange, session *ConversationContext, text string, now time.Time) error {
	proposed := session.Waiting.ProposedTerms
	kind := e.classifier.Classify(text)
	e.log.Info("inbound_classified", "contact_id", session.ContactID, "state", session.State, "kind", kind)

	switch kind {
	case ResponseNegative:
		return e.failSession(ctx, exchange, session, now, declineAckMessage())

	case ResponsePositive:
		patch := ExtractTerms(text)
		their := patch.ApplyTo(proposed)
		if !patch.IsEmpty() && (NeedsNegotiation(proposed, their) || !e.cfg.Policy.Acceptable(their)) {
			return e.enterNegotiation(ctx, exchange, session, proposed, their, now)
		}
		return e.agree(ctx, exchange, session, proposed, now)

	case ResponseNegotiation:
		their := ExtractTerms(text).ApplyTo(proposed)
		eval := e.cfg.Policy.Evaluate(proposed, their, 0)
		if eval.Outcome == OutcomeAccept {
			return e.agree(ctx, exchange, session, eval.Terms, now)
		}
		return e.enterNegotiation(ctx, exchange, session, proposed, their, now)

	default: // unclear: recover locally, never a failure
		session.Waiting.RePrompts++
		session.StateExpiresAt = now.Add(e.cfg.WaitingResponseTTL)
		session.UpdatedAt = now
		reply := rePromptMessage(proposed)
		exchange.AppendHistory(now, SenderUs, reply, session.State)
		return e.persistAndSend(ctx, *exchange, *session, reply)
	}
}

func (e *Engine) enterNegotiation(ctx context.Context, exchange *Exchange, session *ConversationContext, our, their Terms, now time.Time) error {
	counter := CounterTerms(our, their)
	if err := session.SetState(StateNegotiatingTerms); err != nil {
		return err
	}
	session.Negotiating = &NegotiatingData{
		OurTerms:       counter,
		TheirLastTerms: their,
		Round:          1,
	}
	session.StateExpiresAt = now.Add(e.cfg.NegotiatingTTL)
	session.UpdatedAt = now

	if _, err := e.service.SetContactStatus(ctx, session.ContactID, ContactStatusNegotiating, now); err != nil {
		return err
	}
	reply := counterMessage(counter)
	exchange.AppendHistory(now, SenderUs, reply, session.State)
	return e.persistAndSend(ctx, *exchange, *session, reply)
}

func (e *Engine) handleNegotiating(ctx context.Context, exchange *Exchange, session *ConversationContext, text string, now time.Time) error {
	data := session.Negotiating
	kind := e.classifier.Classify(text)
	e.log.Info("inbound_classified", "contact_id", session.ContactID, "state", session.State, "kind", kind, "round", data.Round, "final_offer", data.FinalOffer)

	// After the forced final compromise the reply is accept/reject only.
	if data.FinalOffer {
		if kind == ResponsePositive {
			return e.agree(ctx, exchange, session, data.OurTerms, now)
		}
		return e.failSession(ctx, exchange, session, now, declineAckMessage())
	}

	switch kind {
	case ResponseNegative:
		return e.failSession(ctx, exchange, session, now, declineAckMessage())

	case ResponsePositive:
		return e.agree(ctx, exchange, session, data.OurTerms, now)

	case ResponseNegotiation:
		their := ExtractTerms(text).ApplyTo(data.OurTerms)
		eval := e.cfg.Policy.Evaluate(data.OurTerms, their, data.Round)
		switch eval.Outcome {
		case OutcomeAccept:
			return e.agree(ctx, exchange, session, eval.Terms, now)
		case OutcomeFinalOffer:
			data.OurTerms = eval.Terms
			data.TheirLastTerms = their
			data.FinalOffer = true
			data.Round++
			session.StateExpiresAt = now.Add(e.cfg.NegotiatingTTL)
			session.UpdatedAt = now
			reply := finalOfferMessage(eval.Terms)
			exchange.AppendHistory(now, SenderUs, reply, session.State)
			return e.persistAndSend(ctx, *exchange, *session, reply)
		default:
			data.OurTerms = eval.Terms
			data.TheirLastTerms = their
			data.Round++
			session.StateExpiresAt = now.Add(e.cfg.NegotiatingTTL)
			session.UpdatedAt = now
			reply := counterMessage(eval.Terms)
			exchange.AppendHistory(now, SenderUs, reply, session.State)
			return e.persistAndSend(ctx, *exchange, *session, reply)
		}

	default:
		session.StateExpiresAt = now.Add(e.cfg.NegotiatingTTL)
		session.UpdatedAt = now
		reply := rePromptMessage(data.OurTerms)
		exchange.AppendHistory(now, SenderUs, reply, session.State)
		return e.persistAndSend(ctx, *exchange, *session, reply)
	}
}

// handleAwaitingTheirSide covers both waiting_execution and
// verifying_completion. Completion-indicating text is honored in either
// state so overlapping notifications cannot deadlock the ordering.
func (e *Engine) handleAwaitingTheirSide(ctx context.Context, exchange *Exchange, session *ConversationContext, text string, now time.Time) error {
	if e.classifier.IndicatesCompletion(text) {
		return e.completeTheirSide(ctx, exchange, session, now)
	}

	if session.State == StateVerifyingCompletion {
		session.Verifying.Reminders++
		session.UpdatedAt = now
		reply := reminderMessage(session.Verifying.AgreedTerms)
		exchange.AppendHistory(now, SenderUs, reply, session.State)
		return e.persistAndSend(ctx, *exchange, *session, reply)
	}

	// Our side is still executing; record the message and wait.
	session.UpdatedAt = now
	if err := e.service.PutExchange(ctx, *exchange); err != nil {
		return err
	}
	return e.service.PutSession(ctx, *session)
}

func (e *Engine) agree(ctx context.Context, exchange *Exchange, session *ConversationContext, terms Terms, now time.Time) error {
	if err := exchange.Advance(ExchangeAgreed); err != nil {
		return err
	}
	exchange.Terms = terms
	ts := now
	exchange.AgreedAt = &ts
	exchange.OurExecutionStartedAt = &ts

	if err := session.SetState(StateWaitingExecution); err != nil {
		return err
	}
	session.Executing = &ExecutionData{AgreedTerms: terms}
	session.StateExpiresAt = now.Add(e.cfg.WaitingExecutionTTL)
	session.UpdatedAt = now

	reply := agreedMessage(terms)
	exchange.AppendHistory(now, SenderUs, reply, session.State)
	if err := e.persistAndSend(ctx, *exchange, *session, reply); err != nil {
		return err
	}
	e.log.Info("terms_agreed", "contact_id", session.ContactID, "exchange_id", exchange.ID, "terms", FormatAgreedTerms(terms))
	e.coordinator.Trigger(ctx, *exchange)
	return nil
}

// HandleExecutionOutcome folds the coordinator's result back into the
// session. A failed execution leaves the exchange in place for manual
// attention; the counterparty may still proceed once execution succeeds.
func (e *Engine) HandleExecutionOutcome(ctx context.Context, outcome ExecutionOutcome, now time.Time) error {
	if e == nil || e.service == nil {
		return fmt.Errorf("nil negotiation engine")
	}
	now = normalizeNow(now)

	session, ok, err := e.service.GetSession(ctx, outcome.ContactID)
	if err != nil {
		return err
	}
	if !ok || session.ExchangeID != outcome.ExchangeID || session.State != StateWaitingExecution {
		e.log.Debug("execution_outcome_stale", "contact_id", outcome.ContactID, "exchange_id", outcome.ExchangeID)
		return nil
	}
	exchange, ok, err := e.service.GetExchange(ctx, session.ExchangeID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("exchange not found for session: %s", session.ExchangeID)
	}

	if outcome.Err != "" {
		session.Executing.ExecutionAttempts++
		session.UpdatedAt = now
		if err := e.service.PutSession(ctx, session); err != nil {
			return err
		}
		e.log.Warn("execution_needs_attention",
			"contact_id", session.ContactID,
			"exchange_id", exchange.ID,
			"attempts", session.Executing.ExecutionAttempts,
			"error", outcome.Err)
		return nil
	}

	completedAt := normalizeNow(outcome.CompletedAt)
	exchange.OurExecutionCompletedAt = &completedAt
	exchange.OurExecutionResults = outcome.Results
	if err := exchange.Advance(ExchangeMyTurnDone); err != nil {
		return err
	}
	if err := session.SetState(StateVerifyingCompletion); err != nil {
		return err
	}
	session.Verifying = &VerifyData{AgreedTerms: exchange.Terms}
	session.StateExpiresAt = now.Add(e.cfg.VerifyingTTL)
	session.UpdatedAt = now

	reply := executionDoneMessage(outcome.Results, exchange.Terms)
	exchange.AppendHistory(now, SenderUs, reply, session.State)
	if err := e.persistAndSend(ctx, exchange, session, reply); err != nil {
		return err
	}
	e.log.Info("our_side_done", "contact_id", session.ContactID, "exchange_id", exchange.ID)
	return nil
}

func (e *Engine) completeTheirSide(ctx context.Context, exchange *Exchange, session *ConversationContext, now time.Time) error {
	ts := now
	exchange.TheirVerifiedAt = &ts
	exchange.TheirResults = obligationResults(exchange.Terms)
	if err := exchange.Advance(ExchangeCompleted); err != nil {
		return err
	}
	exchange.CompletedAt = &ts
	if err := session.SetState(StateCompleted); err != nil {
		return err
	}
	session.UpdatedAt = now

	reply := completedThanksMessage()
	exchange.AppendHistory(now, SenderUs, reply, session.State)
	contact, err := e.service.FinalizeExchange(ctx, *exchange, *session, OutcomeCompleted, now)
	if err != nil {
		return err
	}
	if err := e.messenger.Send(ctx, session.ContactID, reply); err != nil {
		e.log.Warn("send_failed", "contact_id", session.ContactID, "error", err.Error())
	}
	e.log.Info("exchange_completed",
		"contact_id", session.ContactID,
		"exchange_id", exchange.ID,
		"reliability_score", contact.ReliabilityScore)
	return nil
}

func (e *Engine) failSession(ctx context.Context, exchange *Exchange, session *ConversationContext, now time.Time, farewell string) error {
	if err := exchange.Advance(ExchangeFailed); err != nil {
		return err
	}
	if err := session.SetState(StateFailed); err != nil {
		return err
	}
	session.UpdatedAt = now
	if farewell != "" {
		exchange.AppendHistory(now, SenderUs, farewell, session.State)
	}

	contact, err := e.service.FinalizeExchange(ctx, *exchange, *session, OutcomeFailed, now)
	if err != nil {
		return err
	}
	if farewell != "" {
		if err := e.messenger.Send(ctx, session.ContactID, farewell); err != nil {
			e.log.Warn("send_failed", "contact_id", session.ContactID, "error", err.Error())
		}
	}
	e.log.Info("exchange_failed",
		"contact_id", session.ContactID,
		"exchange_id", exchange.ID,
		"reliability_score", contact.ReliabilityScore)
	return nil
}

// ExpireSession fails a deadline-exceeded session. Sweeping a missing or
// unexpired session is a no-op; the bool reports whether anything happened.
func (e *Engine) ExpireSession(ctx context.Context, contactID string, now time.Time) (bool, error) {
	if e == nil || e.service == nil {
		return false, fmt.Errorf("nil negotiation engine")
	}
	now = normalizeNow(now)

	session, ok, err := e.service.GetSession(ctx, contactID)
	if err != nil {
		return false, err
	}
	if !ok || !session.Expired(now) {
		return false, nil
	}
	exchange, ok, err := e.service.GetExchange(ctx, session.ExchangeID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("exchange not found for session: %s", session.ExchangeID)
	}
	if exchange.Status.Terminal() {
		// Outcome already recorded; just drop the stale session.
		if err := e.service.sessionStore.DeleteSession(ctx, contactID); err != nil {
			return false, err
		}
		return false, nil
	}

	e.log.Info("session_expired", "contact_id", contactID, "exchange_id", exchange.ID, "state", session.State)
	if err := e.failSession(ctx, &exchange, &session, now, ""); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) persistAndSend(ctx context.Context, exchange Exchange, session ConversationContext, reply string) error {
	if err := e.service.PutExchange(ctx, exchange); err != nil {
		return err
	}
	if err := e.service.PutSession(ctx, session); err != nil {
		return err
	}
	if err := e.messenger.Send(ctx, session.ContactID, reply); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

func obligationResults(terms Terms) ExecutionResults {
	return ExecutionResults{
		"like":      terms.Likes > 0,
		"subscribe": terms.Subs > 0,
		"comment":   terms.Comments > 0,
		"watch":     terms.WatchSeconds > 0,
	}
}
