package negotiation

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const DefaultSweepInterval = 10 * time.Minute

// Sweeper periodically fails stalled sessions whose deadline has passed.
// It never touches session state itself: expired contacts are handed to
// expire, which the runtime routes through the per-contact mailbox so the
// sweep can never race an inbound message for the same contact.
type Sweeper struct {
	service  *Service
	interval time.Duration
	expire   func(ctx context.Context, contactID string, now time.Time)
	log      *slog.Logger
}

func NewSweeper(service *Service, interval time.Duration, expire func(ctx context.Context, contactID string, now time.Time), logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		service:  service,
		interval: interval,
		expire:   expire,
		log:      logger,
	}
}

// Run blocks until ctx is done, sweeping every interval.
func (s *Sweeper) Run(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := s.SweepOnce(ctx, time.Now().UTC())
			if err != nil {
				s.log.Warn("sweep_error", "error", err.Error())
				continue
			}
			if expired > 0 {
				s.log.Info("sweep_expired", "count", expired)
			}
		}
	}
}

// SweepOnce scans the active sessions and hands every expired one to the
// expire callback. It returns how many sessions were handed off.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.service == nil || s.expire == nil {
		return 0, fmt.Errorf("nil sweeper")
	}
	now = normalizeNow(now)
	sessions, err := s.service.ListSessions(ctx)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, session := range sessions {
		if !session.Expired(now) {
			continue
		}
		s.expire(ctx, session.ContactID, now)
		expired++
	}
	return expired, nil
}
