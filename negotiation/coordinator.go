package negotiation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quailyquaily/negotiant/internal/retryutil"
)

// ExecutionOutcome is the coordinator's report back to the state machine.
// Err is a string so the value serializes cleanly through a mailbox.
type ExecutionOutcome struct {
	ExchangeID  string
	ContactID   string
	Results     ExecutionResults
	Err         string
	CompletedAt time.Time
}

type CoordinatorConfig struct {
	Timeout    time.Duration
	RetryDelay time.Duration
}

// Coordinator drives our asynchronous fulfillment of agreed terms. The call
// into the execution service is bounded by Timeout and retried once; a
// persistent failure is reported in the outcome rather than swallowed, and
// the exchange is left for manual attention.
type Coordinator struct {
	executor Executor
	cfg      CoordinatorConfig
	notify   func(ExecutionOutcome)
	log      *slog.Logger
}

func NewCoordinator(executor Executor, cfg CoordinatorConfig, notify func(ExecutionOutcome), logger *slog.Logger) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		executor: executor,
		cfg:      cfg,
		notify:   notify,
		log:      logger,
	}
}

// Trigger dispatches our execution without blocking the caller. The outcome
// re-enters the negotiation flow through notify.
func (c *Coordinator) Trigger(ctx context.Context, exchange Exchange) {
	if c == nil || c.notify == nil {
		return
	}
	if c.executor == nil {
		c.notify(ExecutionOutcome{
			ExchangeID: exchange.ID,
			ContactID:  exchange.ContactID,
			Err:        "no executor configured",
		})
		return
	}
	_ = ctx // execution outlives the triggering message's context

	go func() {
		var results ExecutionResults
		err := retryutil.RetryOnce(context.Background(), c.log, "execution", c.cfg.RetryDelay, c.cfg.Timeout, func(attemptCtx context.Context) error {
			var performErr error
			results, performErr = c.executor.Perform(attemptCtx, exchange.TheirResourceRef, exchange.Terms)
			if performErr != nil {
				return fmt.Errorf("perform exchange %s: %w", exchange.ID, performErr)
			}
			return nil
		})

		outcome := ExecutionOutcome{
			ExchangeID:  exchange.ID,
			ContactID:   exchange.ContactID,
			Results:     results,
			CompletedAt: time.Now().UTC(),
		}
		if err != nil {
			outcome.Err = err.Error()
			outcome.Results = nil
		}
		c.notify(outcome)
	}()
}
