// Command ampered runs the AMPERE coordination core: the persistence
// store, ticket/thread/knowledge repositories, event bus, orchestrator,
// retention sweep, and one resident agent that picks up tickets assigned
// to it and runs the PROPEL loop over them.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amperehq/ampere/internal/agent"
	"github.com/amperehq/ampere/internal/audit"
	"github.com/amperehq/ampere/internal/bus"
	"github.com/amperehq/ampere/internal/config"
	"github.com/amperehq/ampere/internal/escalation"
	"github.com/amperehq/ampere/internal/ids"
	"github.com/amperehq/ampere/internal/knowledge"
	"github.com/amperehq/ampere/internal/memory"
	"github.com/amperehq/ampere/internal/orchestrator"
	"github.com/amperehq/ampere/internal/persistence"
	"github.com/amperehq/ampere/internal/retention"
	"github.com/amperehq/ampere/internal/telemetry"
	"github.com/amperehq/ampere/internal/thread"
	"github.com/amperehq/ampere/internal/ticket"
	"github.com/amperehq/ampere/internal/tracing"
)

func main() {
	agentID := flag.String("agent-id", "agent-1", "identity this resident agent runs under")
	affinity := flag.String("affinity", "engineering", "domain affinity for this agent's spark stack")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	homeDir := config.HomeDirFromEnv()
	cfg, err := config.Load(homeDir)
	if err != nil {
		fatalStartup(ctx, nil, "E_CONFIG_LOAD", err)
	}

	if err := audit.Init(cfg.HomeDir); err != nil {
		fatalStartup(ctx, nil, "E_AUDIT_INIT", err)
	}
	defer func() { _ = audit.Close() }()

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(ctx, nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "home", cfg.HomeDir)

	tracingProvider, err := tracing.Init(ctx, tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		ServiceName:    cfg.Tracing.ServiceName,
		SampleRate:     cfg.Tracing.SampleRate,
		MetricsEnabled: cfg.Tracing.MetricsEnabled,
	})
	if err != nil {
		fatalStartup(ctx, logger, "E_TRACING_INIT", err)
	}
	defer func() { _ = tracingProvider.Shutdown(context.Background()) }()

	store, err := persistence.Open(cfg.ResolvedDatabasePath())
	if err != nil {
		fatalStartup(ctx, logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	logger.Info("startup phase", "phase", "schema_migrated")

	clock := ids.SystemClock{}
	tickets := ticket.New(store, clock)
	threads := thread.New(store, clock, nil)
	eventBus := bus.New(store, clock, logger)
	eventBus.SetReplayBatchSize(cfg.ReplayBatchSize)
	knowledgeRepo := knowledge.New(store, clock)
	memorySvc := memory.New(knowledgeRepo)
	classifier := escalation.New(nil)
	orch := orchestrator.New(tickets, threads, eventBus, classifier)
	if metrics, err := tracing.NewMetrics(tracingProvider.Meter); err != nil {
		logger.Warn("metrics instrument setup failed", "error", err)
	} else {
		orch.SetMetrics(metrics)
	}

	sweep := retention.New(retention.Config{
		Tickets:            tickets,
		Knowledge:          knowledgeRepo,
		Clock:              clock,
		Logger:             logger,
		TicketRetention:    time.Duration(cfg.TicketRetentionDays) * 24 * time.Hour,
		KnowledgeRetention: time.Duration(cfg.TicketRetentionDays) * 24 * time.Hour,
		Interval:           time.Duration(cfg.RetentionSweepIntervalMinutes) * time.Minute,
	})
	sweep.Start(ctx)
	defer sweep.Stop()
	logger.Info("startup phase", "phase", "retention_scheduler_started")

	a := agent.New(*agentID, *affinity, agent.State{Kind: agent.StateBlank}, tickets, orch, eventBus, memorySvc,
		nil, clock, telemetry.WithComponent(logger, "agent"), agent.Hooks{})
	a.SetPlanMaxSteps(cfg.PlanMaxSteps)

	sub := eventBus.Subscribe(*agentID, bus.ByType("TicketAssigned"), func(ctx context.Context, e bus.Event) {
		var payload struct {
			TicketID   string  `json:"ticketId"`
			AssignedTo *string `json:"assignedTo"`
		}
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			logger.Warn("failed to decode TicketAssigned payload", "error", err)
			return
		}
		if payload.AssignedTo == nil || *payload.AssignedTo != *agentID {
			return
		}
		result, err := a.Run(ctx, payload.TicketID)
		if err != nil {
			logger.Error("agent run failed", "ticket_id", payload.TicketID, "error", err)
			return
		}
		logger.Info("agent run completed", "ticket_id", payload.TicketID,
			"perceived", result.Perceived, "blocked", result.Blocked, "outcome", result.Outcome.Kind)
	})
	defer sub.Cancel()
	logger.Info("startup phase", "phase", "agent_ready", "agent_id", *agentID, "affinity", *affinity)

	<-ctx.Done()
	logger.Info("shutdown signal received")
}

func fatalStartup(ctx context.Context, logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record(ctx, "fatal", "runtime.startup", reasonCode, "", message)
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(os.Stderr, "startup failure: %s: %s\n", reasonCode, message)
	}
	os.Exit(1)
}
