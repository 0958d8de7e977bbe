package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quailyquaily/negotiant/dispatch"
	"github.com/quailyquaily/negotiant/execclient"
	"github.com/quailyquaily/negotiant/internal/logutil"
	"github.com/quailyquaily/negotiant/internal/statepaths"
	"github.com/quailyquaily/negotiant/negotiation"
	"github.com/quailyquaily/negotiant/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the negotiation engine as a daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			bind := strings.TrimSpace(viper.GetString("server.bind"))
			if bind == "" {
				bind = "127.0.0.1"
			}
			port := viper.GetInt("server.port")
			if port <= 0 {
				port = 8791
			}
			auth := strings.TrimSpace(viper.GetString("server.auth_token"))
			if auth == "" {
				return fmt.Errorf("missing server.auth_token (set via config or NEGOTIANT_SERVER_AUTH_TOKEN)")
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			store := negotiation.NewFileStore(statepaths.EngineDir())
			if err := store.Ensure(ctx); err != nil {
				return err
			}
			service := negotiation.NewService(store)

			classifier, err := negotiation.LoadClassifier(statepaths.PatternsPath())
			if err != nil {
				return err
			}

			var messenger negotiation.Messenger
			var bridge *transport.Bridge
			gatewayURL := strings.TrimSpace(viper.GetString("gateway.url"))
			if gatewayURL != "" {
				bridge, err = transport.DialBridge(ctx, transport.BridgeConfig{
					GatewayURL: gatewayURL,
					AuthToken:  viper.GetString("gateway.auth_token"),
				}, logger)
				if err != nil {
					return err
				}
				defer func() { _ = bridge.Close() }()
				messenger = bridge
			} else {
				logger.Warn("gateway_not_configured", "mode", "send_to_log")
				messenger = logMessenger{logger: logger}
			}

			var executor negotiation.Executor
			execURL := strings.TrimSpace(viper.GetString("execution.url"))
			if execURL != "" {
				executor = execclient.New(nil, execURL, viper.GetString("execution.auth_token"))
			} else {
				logger.Warn("execution_not_configured", "mode", "assume_done")
				executor = assumeDoneExecutor{}
			}

			var dispatcher *dispatch.Dispatcher
			engine := negotiation.NewEngine(service, messenger, executor, negotiation.Config{
				WaitingResponseTTL:  viper.GetDuration("engine.waiting_response_ttl"),
				NegotiatingTTL:      viper.GetDuration("engine.negotiating_ttl"),
				WaitingExecutionTTL: viper.GetDuration("engine.waiting_execution_ttl"),
				VerifyingTTL:        viper.GetDuration("engine.verifying_ttl"),
				ExecutionTimeout:    viper.GetDuration("execution.timeout"),
				ExecutionRetryDelay: viper.GetDuration("execution.retry_delay"),
				Policy: negotiation.Policy{
					MaxLikes:        viper.GetInt("policy.max_likes"),
					MaxSubs:         viper.GetInt("policy.max_subs"),
					MaxComments:     viper.GetInt("policy.max_comments"),
					MaxWatchSeconds: viper.GetInt("policy.max_watch_seconds"),
					MaxRounds:       viper.GetInt("policy.max_rounds"),
				},
			},
				negotiation.WithLogger(logger),
				negotiation.WithClassifier(classifier),
				negotiation.WithExecutionSink(func(outcome negotiation.ExecutionOutcome) {
					err := dispatcher.Enqueue(context.Background(), dispatch.Event{
						ContactID: outcome.ContactID,
						Execution: &dispatch.ExecutionEvent{
							ExchangeID:  outcome.ExchangeID,
							Results:     outcome.Results,
							Err:         outcome.Err,
							CompletedAt: outcome.CompletedAt,
						},
					})
					if err != nil {
						logger.Warn("execution_enqueue_failed", "contact_id", outcome.ContactID, "error", err.Error())
					}
				}),
			)

			dispatcher = dispatch.New(ctx, func(handlerCtx context.Context, ev dispatch.Event) {
				switch {
				case ev.Inbound != nil:
					if err := engine.HandleInbound(handlerCtx, ev.ContactID, ev.Inbound.Text, ev.Inbound.ReceivedAt); err != nil {
						logger.Warn("inbound_error", "contact_id", ev.ContactID, "error", err.Error())
					}
				case ev.Execution != nil:
					outcome := negotiation.ExecutionOutcome{
						ExchangeID:  ev.Execution.ExchangeID,
						ContactID:   ev.ContactID,
						Results:     ev.Execution.Results,
						Err:         ev.Execution.Err,
						CompletedAt: ev.Execution.CompletedAt,
					}
					if err := engine.HandleExecutionOutcome(handlerCtx, outcome, time.Now().UTC()); err != nil {
						logger.Warn("execution_outcome_error", "contact_id", ev.ContactID, "error", err.Error())
					}
				case ev.Expiry != nil:
					if _, err := engine.ExpireSession(handlerCtx, ev.ContactID, time.Now().UTC()); err != nil {
						logger.Warn("expire_error", "contact_id", ev.ContactID, "error", err.Error())
					}
				}
			}, dispatch.Options{Logger: logger})
			defer dispatcher.Close()

			sweeper := negotiation.NewSweeper(service, viper.GetDuration("engine.sweep_interval"), func(sweepCtx context.Context, contactID string, now time.Time) {
				err := dispatcher.Enqueue(sweepCtx, dispatch.Event{
					ContactID: contactID,
					Expiry:    &dispatch.ExpiryEvent{Deadline: now},
				})
				if err != nil {
					logger.Warn("expiry_enqueue_failed", "contact_id", contactID, "error", err.Error())
				}
			}, logger)
			go sweeper.Run(ctx)

			if bridge != nil {
				go func() {
					err := bridge.Listen(ctx, func(in transport.Inbound) {
						err := dispatcher.Enqueue(ctx, dispatch.Event{
							ContactID: in.ContactID,
							Inbound:   &dispatch.InboundEvent{Text: in.Text, ReceivedAt: in.ReceivedAt},
						})
						if err != nil {
							logger.Warn("inbound_enqueue_failed", "contact_id", in.ContactID, "error", err.Error())
						}
					})
					if err != nil && ctx.Err() == nil {
						logger.Error("gateway_listen_stopped", "error", err.Error())
						cancel()
					}
				}()
			}

			mux := http.NewServeMux()
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"ok":   true,
					"time": time.Now().Format(time.RFC3339Nano),
				})
			})
			mux.HandleFunc("/negotiations", func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
					return
				}
				if !checkAuth(r, auth) {
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				var req openNegotiationRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					http.Error(w, "invalid json", http.StatusBadRequest)
					return
				}
				exchange, err := engine.OpenNegotiation(r.Context(), negotiation.OpenRequest{
					ContactID:        req.ContactID,
					DisplayName:      req.DisplayName,
					OurResourceRef:   req.OurResourceRef,
					TheirResourceRef: req.TheirResourceRef,
					Terms:            req.Terms,
				}, time.Now().UTC())
				if err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]any{
					"exchange_id": exchange.ID,
					"status":      exchange.Status,
				})
			})
			mux.HandleFunc("/inbound", func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
					return
				}
				if !checkAuth(r, auth) {
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				var req inboundRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					http.Error(w, "invalid json", http.StatusBadRequest)
					return
				}
				req.ContactID = strings.TrimSpace(req.ContactID)
				if req.ContactID == "" || strings.TrimSpace(req.Text) == "" {
					http.Error(w, "missing contact_id or text", http.StatusBadRequest)
					return
				}
				err := dispatcher.Enqueue(r.Context(), dispatch.Event{
					ContactID: req.ContactID,
					Inbound:   &dispatch.InboundEvent{Text: req.Text, ReceivedAt: time.Now().UTC()},
				})
				if err != nil {
					http.Error(w, err.Error(), http.StatusServiceUnavailable)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
			})

			addr := bind + ":" + strconv.Itoa(port)
			srv := &http.Server{
				Addr:              addr,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			logger.Info("server_start", "addr", addr, "gateway", gatewayURL != "", "execution", execURL != "")
			return srv.ListenAndServe()
		},
	}

	cmd.Flags().String("server-bind", "", "Bind address (default: 127.0.0.1).")
	cmd.Flags().Int("server-port", 0, "HTTP port to listen on.")
	cmd.Flags().String("server-auth-token", "", "Bearer token required for all non-/health endpoints.")
	cmd.Flags().String("gateway-url", "", "Websocket gateway URL for the messaging bridge.")
	_ = viper.BindPFlag("server.bind", cmd.Flags().Lookup("server-bind"))
	_ = viper.BindPFlag("server.port", cmd.Flags().Lookup("server-port"))
	_ = viper.BindPFlag("server.auth_token", cmd.Flags().Lookup("server-auth-token"))
	_ = viper.BindPFlag("gateway.url", cmd.Flags().Lookup("gateway-url"))

	return cmd
}

type openNegotiationRequest struct {
	ContactID        string            `json:"contact_id"`
	DisplayName      string            `json:"display_name,omitempty"`
	OurResourceRef   string            `json:"our_resource_ref"`
	TheirResourceRef string            `json:"their_resource_ref"`
	Terms            negotiation.Terms `json:"terms"`
}

type inboundRequest struct {
	ContactID string `json:"contact_id"`
	Text      string `json:"text"`
}

func checkAuth(r *http.Request, token string) bool {
	got := strings.TrimSpace(r.Header.Get("Authorization"))
	want := "Bearer " + strings.TrimSpace(token)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// logMessenger is the development fallback when no gateway is configured:
// outbound messages go to the log instead of a counterparty.
type logMessenger struct {
	logger *slog.Logger
}

func (m logMessenger) Send(ctx context.Context, contactID, text string) error {
	m.logger.Info("outbound_message", "contact_id", contactID, "text", text)
	return nil
}

// assumeDoneExecutor stands in for the execution service in development:
// every obligation is reported done.
type assumeDoneExecutor struct{}

func (assumeDoneExecutor) Perform(ctx context.Context, resourceRef string, terms negotiation.Terms) (negotiation.ExecutionResults, error) {
	return negotiation.ExecutionResults{
		"like":      terms.Likes > 0,
		"subscribe": terms.Subs > 0,
		"comment":   terms.Comments > 0,
		"watch":     terms.WatchSeconds > 0,
	}, nil
}
