package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for coordination-core spans.
var (
	AttrTicketID     = attribute.Key("ampere.ticket.id")
	AttrTicketStatus = attribute.Key("ampere.ticket.status")
	AttrAgentID      = attribute.Key("ampere.agent.id")
	AttrThreadID     = attribute.Key("ampere.thread.id")
	AttrTaskID       = attribute.Key("ampere.task.id")
	AttrPlanID       = attribute.Key("ampere.plan.id")
	AttrStepIndex    = attribute.Key("ampere.plan.step_index")
	AttrEventType    = attribute.Key("ampere.event.type")
	AttrLoopPhase    = attribute.Key("ampere.loop.phase")
	AttrEscalation   = attribute.Key("ampere.escalation.process")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartOrchestrationSpan starts a span for a ticket orchestration operation
// (createTicket, transitionTicketStatus, assignTicket, blockTicket).
func StartOrchestrationSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartPlanStepSpan starts a span for one plan step's execution.
func StartPlanStepSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
