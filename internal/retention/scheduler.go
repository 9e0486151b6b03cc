// Package retention implements the periodic sweep that prunes terminal
// tickets and aged knowledge entries past their configured retention
// window, so the store does not grow unbounded across a long-lived
// coordination core.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/amperehq/ampere/internal/ids"
	"github.com/amperehq/ampere/internal/knowledge"
	"github.com/amperehq/ampere/internal/ticket"
)

// Config holds the dependencies and knobs for the Scheduler.
type Config struct {
	Tickets            *ticket.Repository
	Knowledge          *knowledge.Repository
	Clock              ids.Clock
	Logger             *slog.Logger
	TicketRetention    time.Duration // Done/Cancelled tickets older than this are pruned
	KnowledgeRetention time.Duration // knowledge entries older than this are pruned
	Interval           time.Duration // sweep cadence; defaults to 1 hour if zero
}

// Scheduler runs the retention sweep on a cron.Cron "@every" schedule: a
// single fixed interval rather than user-authored schedule entries, since
// AMPERE has no concept of per-job schedules.
type Scheduler struct {
	tickets   *ticket.Repository
	knowledge *knowledge.Repository
	clock     ids.Clock
	logger    *slog.Logger

	ticketRetention    time.Duration
	knowledgeRetention time.Duration
	interval           time.Duration

	cron   *cronlib.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a Scheduler over cfg. Zero retention durations disable
// pruning for that store rather than pruning everything.
func New(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		tickets:            cfg.Tickets,
		knowledge:          cfg.Knowledge,
		clock:              cfg.Clock,
		logger:             logger,
		ticketRetention:    cfg.TicketRetention,
		knowledgeRetention: cfg.KnowledgeRetention,
		interval:           interval,
	}
}

// Start runs one sweep immediately, then schedules further sweeps every
// s.interval via cron.Cron's "@every" descriptor, until ctx is cancelled
// or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.cron = cronlib.New()
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() { s.sweep(s.ctx) }); err != nil {
		s.logger.Error("retention: failed to schedule sweep", "spec", spec, "error", err)
		return
	}
	s.cron.Start()
	s.sweep(s.ctx)
	s.logger.Info("retention scheduler started", "interval", s.interval)
}

// Stop cancels the sweep context and waits for the cron runner to drain
// any sweep in flight.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("retention scheduler stopped")
}

// sweep prunes terminal tickets and knowledge entries older than their
// configured horizons. A zero retention duration skips that store.
func (s *Scheduler) sweep(ctx context.Context) {
	now := s.clock.Now()

	if s.tickets != nil && s.ticketRetention > 0 {
		n, err := s.tickets.PruneTerminalOlderThan(ctx, now.Add(-s.ticketRetention))
		if err != nil {
			s.logger.Error("retention: ticket sweep failed", "error", err)
		} else if n > 0 {
			s.logger.Info("retention: pruned terminal tickets", "count", n)
		}
	}

	if s.knowledge != nil && s.knowledgeRetention > 0 {
		n, err := s.knowledge.PruneOlderThan(ctx, now.Add(-s.knowledgeRetention))
		if err != nil {
			s.logger.Error("retention: knowledge sweep failed", "error", err)
		} else if n > 0 {
			s.logger.Info("retention: pruned knowledge entries", "count", n)
		}
	}
}
