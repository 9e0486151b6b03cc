package tracing

import "go.opentelemetry.io/otel/metric"

// Metrics holds all coordination-core metrics instruments.
type Metrics struct {
	TicketTransitionDuration metric.Float64Histogram
	TicketsCreated           metric.Int64Counter
	TicketTransitionErrors   metric.Int64Counter
	PlanStepDuration         metric.Float64Histogram
	PlanStepFailures         metric.Int64Counter
	EventsPublished          metric.Int64Counter
	EventDeliveryErrors      metric.Int64Counter
	ActiveAgentLoops         metric.Int64UpDownCounter
	LoopPhaseStepsTotal      metric.Int64Counter
	EscalationsTotal         metric.Int64Counter
	HumanResponseWaitTime    metric.Float64Histogram
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TicketTransitionDuration, err = meter.Float64Histogram("ampere.ticket.transition.duration",
		metric.WithDescription("Ticket status transition processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TicketsCreated, err = meter.Int64Counter("ampere.ticket.created",
		metric.WithDescription("Total tickets created"),
	)
	if err != nil {
		return nil, err
	}

	m.TicketTransitionErrors, err = meter.Int64Counter("ampere.ticket.transition.errors",
		metric.WithDescription("Rejected or failed ticket status transitions"),
	)
	if err != nil {
		return nil, err
	}

	m.PlanStepDuration, err = meter.Float64Histogram("ampere.plan.step.duration",
		metric.WithDescription("Plan step execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.PlanStepFailures, err = meter.Int64Counter("ampere.plan.step.failures",
		metric.WithDescription("Plan step executions that returned a critical failure"),
	)
	if err != nil {
		return nil, err
	}

	m.EventsPublished, err = meter.Int64Counter("ampere.bus.events.published",
		metric.WithDescription("Total events durably published to the event bus"),
	)
	if err != nil {
		return nil, err
	}

	m.EventDeliveryErrors, err = meter.Int64Counter("ampere.bus.delivery.errors",
		metric.WithDescription("Subscriber handler panics recovered during fan-out"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveAgentLoops, err = meter.Int64UpDownCounter("ampere.agent.loop.active",
		metric.WithDescription("Number of currently active PROPEL agent loops"),
	)
	if err != nil {
		return nil, err
	}

	m.LoopPhaseStepsTotal, err = meter.Int64Counter("ampere.agent.loop.phase_steps",
		metric.WithDescription("Total PROPEL phase steps executed across all agent loops"),
	)
	if err != nil {
		return nil, err
	}

	m.EscalationsTotal, err = meter.Int64Counter("ampere.escalation.total",
		metric.WithDescription("Total escalations raised, by process"),
	)
	if err != nil {
		return nil, err
	}

	m.HumanResponseWaitTime, err = meter.Float64Histogram("ampere.human_response.wait_duration",
		metric.WithDescription("Time spent waiting for a human response before timeout or reply"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
