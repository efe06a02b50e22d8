package telemetry

import (
	"context"
	"time"

	"github.com/irfndi/flashloan-arb-go/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BusinessTracer provides spans for the control loop: ticks, risk
// evaluation, scoring, dispatch and notifications.
type BusinessTracer struct {
	tracer trace.Tracer
}

// NewBusinessTracer creates a new instance of BusinessTracer backed by the
// global tracer provider.
//
// Returns:
//   - A pointer to an initialized BusinessTracer.
func NewBusinessTracer() *BusinessTracer {
	return &BusinessTracer{tracer: GetBusinessTracer()}
}

// NewBusinessTracerWithTracer creates a BusinessTracer on an explicit tracer.
//
// Parameters:
//   - tracer: The tracer spans are started on.
//
// Returns:
//   - A pointer to an initialized BusinessTracer.
func NewBusinessTracerWithTracer(tracer trace.Tracer) *BusinessTracer {
	return &BusinessTracer{tracer: tracer}
}

// TraceTick starts the root span of one control loop iteration.
//
// Parameters:
//   - ctx: The parent context.
//   - simulation: Whether the tick runs in simulation mode.
//
// Returns:
//   - A context containing the new span.
//   - The created span.
func (bt *BusinessTracer) TraceTick(ctx context.Context, simulation bool) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "bot.tick", trace.WithAttributes(
		attribute.Bool("bot.simulation", simulation),
	))
}

// RecordTickResult adds the outcome of a tick to its span.
//
// Parameters:
//   - span: The tick span.
//   - metrics: Counters collected during the tick.
func (bt *BusinessTracer) RecordTickResult(span trace.Span, metrics TickMetrics) {
	span.SetAttributes(
		attribute.String("risk.mode", string(metrics.RiskMode)),
		attribute.Int("tick.candidates", metrics.Candidates),
		attribute.Int("tick.approved", metrics.Approved),
		attribute.Int("tick.dispatched", metrics.Dispatched),
		attribute.Int64("tick.duration_ms", metrics.Duration.Milliseconds()),
	)
}

// TraceRiskEvaluation starts a span around the pre-scan risk gate.
func (bt *BusinessTracer) TraceRiskEvaluation(ctx context.Context) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "risk.evaluate")
}

// RecordRiskState records the state the risk gate produced.
func (bt *BusinessTracer) RecordRiskState(span trace.Span, state models.RiskState, err error) {
	span.SetAttributes(
		attribute.String("risk.mode", string(state.Mode)),
		attribute.Bool("risk.kill_switch", state.KillSwitchActive),
	)
	RecordError(span, err)
}

// TraceScan starts a span around one market scan.
func (bt *BusinessTracer) TraceScan(ctx context.Context, routes int) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "market.scan", trace.WithAttributes(attribute.Int("scan.routes", routes)))
}

// TraceDecision starts a span around scoring one opportunity.
//
// Parameters:
//   - ctx: The parent context.
//   - opp: The opportunity being scored.
//
// Returns:
//   - A context containing the new span.
//   - The created span.
func (bt *BusinessTracer) TraceDecision(ctx context.Context, opp models.Opportunity) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "decision.score", trace.WithAttributes(
		attribute.String("route.symbol", opp.Route.Symbol),
		attribute.String("route.strategy", string(opp.Strategy)),
		attribute.Float64("opportunity.spread", opp.Spread),
	))
}

// RecordDecision records the gate's verdict on a scored opportunity.
func (bt *BusinessTracer) RecordDecision(span trace.Span, opp models.Opportunity, approved bool) {
	span.SetAttributes(
		attribute.Bool("decision.scored", opp.Scored),
		attribute.Float64("decision.p_success", opp.PSuccess),
		attribute.String("decision.channel", string(opp.Channel)),
		attribute.Bool("decision.approved", approved),
	)
}

// TraceDispatch starts a span around executing one approved opportunity.
//
// Parameters:
//   - ctx: The parent context.
//   - opp: The approved opportunity.
//   - simulation: Whether execution is simulated.
//
// Returns:
//   - A context containing the new span.
//   - The created span.
func (bt *BusinessTracer) TraceDispatch(ctx context.Context, opp models.Opportunity, simulation bool) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "execution.dispatch", trace.WithAttributes(
		attribute.String("route.symbol", opp.Route.Symbol),
		attribute.String("route.strategy", string(opp.Strategy)),
		attribute.String("execution.channel", string(opp.Channel)),
		attribute.Bool("execution.simulation", simulation),
	))
}

// RecordTradeResult records the classified outcome of a dispatch.
//
// Parameters:
//   - span: The dispatch span.
//   - trade: The recorded trade, zero when dispatch failed before reaching the chain.
//   - err: Any error that prevented a trade from being recorded.
func (bt *BusinessTracer) RecordTradeResult(span trace.Span, trade models.Trade, err error) {
	if err != nil {
		RecordError(span, err)
		return
	}
	span.SetAttributes(
		attribute.String("trade.status", string(trade.Status)),
		attribute.String("trade.profit", trade.Profit.String()),
		attribute.String("trade.tx_hash", trade.TxHash),
	)
	if trade.Status == models.TradeStatusFailed {
		span.SetStatus(codes.Error, "trade failed")
		return
	}
	span.SetStatus(codes.Ok, "")
}

// TraceNotification starts a span for tracing notification delivery.
//
// Parameters:
//   - ctx: The context to attach the span to.
//   - notificationType: The type of notification being sent.
//   - channel: The delivery channel (e.g., "telegram").
//
// Returns:
//   - A context containing the new span.
//   - The created span.
func (bt *BusinessTracer) TraceNotification(ctx context.Context, notificationType string, channel string) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "notification", trace.WithAttributes(
		attribute.String("notification.type", notificationType),
		attribute.String("notification.channel", channel),
	))
}

// RecordNotificationResult records the outcome of a notification attempt onto a span.
func (bt *BusinessTracer) RecordNotificationResult(span trace.Span, success bool, err error) {
	span.SetAttributes(attribute.Bool("notification.success", success))
	if err != nil {
		RecordError(span, err)
		return
	}
	span.SetStatus(codes.Ok, "")
}

// TickMetrics defines the counters collected during one tick.
type TickMetrics struct {
	RiskMode   models.RiskMode
	Candidates int
	Approved   int
	Dispatched int
	Duration   time.Duration
}
