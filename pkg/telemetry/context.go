package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides a unified telemetry interface combining logging, tracing, metrics, and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Initialize logger
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	// Initialize tracer
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	// Initialize metrics
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	// Initialize event publisher
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	// Shutdown in reverse order of initialization
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}

	if err := t.Tracer.Shutdown(ctx); err != nil {
		return err
	}

	return t.Metrics.Shutdown(ctx)
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// WithCycleContext creates a context enriched with cycle-specific telemetry.
func WithCycleContext(ctx context.Context, cycleID string, keys int) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartCycleSpan(ctx, cycleID)

	fields := map[string]interface{}{"cycle_id": cycleID}
	if id := TraceID(spanCtx); id != "" {
		fields["trace_id"] = id
		fields["span_id"] = SpanID(spanCtx)
	}
	logger := tel.Logger.WithFields(fields)
	spanCtx = logger.WithContext(spanCtx)

	tel.Metrics.RecordCycleStarted()
	_ = tel.Events.PublishCycleStarted(cycleID, keys)

	spanCtx = context.WithValue(spanCtx, cycleSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, cycleTimerKey{}, NewTimer())

	return spanCtx
}

// cycleSpanKey is the context key for cycle spans.
type cycleSpanKey struct{}

// cycleTimerKey is the context key for cycle timers.
type cycleTimerKey struct{}

// EndCycleContext completes the cycle context, recording metrics and events.
func EndCycleContext(ctx context.Context, cycleID, status string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(cycleSpanKey{}).(trace.Span); ok {
		span.SetAttributes(AttrCycleStatus.String(status))
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	var duration time.Duration
	if timer, ok := ctx.Value(cycleTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	tel.Metrics.RecordCycleCompleted(status, duration)

	if err != nil {
		_ = tel.Events.PublishCycleFailed(cycleID, status, err.Error())
	} else {
		_ = tel.Events.PublishCycleCompleted(cycleID, status, duration)
	}
}

// WithStepContext creates a context enriched with step-specific telemetry.
func WithStepContext(ctx context.Context, planID, step string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartStepSpan(ctx, planID, step)

	logger := FromContext(ctx).WithStep(step)
	spanCtx = logger.WithContext(spanCtx)

	spanCtx = context.WithValue(spanCtx, stepSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, stepTimerKey{}, NewTimer())

	return spanCtx
}

// stepSpanKey is the context key for step spans.
type stepSpanKey struct{}

// stepTimerKey is the context key for step timers.
type stepTimerKey struct{}

// EndStepContext completes the step context, recording metrics and events.
// count is the number of modules the step acted on.
func EndStepContext(ctx context.Context, planID, step string, count int, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(stepSpanKey{}).(trace.Span); ok {
		span.SetAttributes(attribute.Int("step.count", count))
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	var duration time.Duration
	if timer, ok := ctx.Value(stepTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	tel.Metrics.RecordStep(step, status, duration)

	if err != nil {
		_ = tel.Events.PublishStepFailed(planID, step, err.Error())
	} else {
		_ = tel.Events.PublishStepCompleted(planID, step, count, duration)
	}
}

// RecordRefreshWait records the outcome of a bounded refresh wait.
func RecordRefreshWait(ctx context.Context, duration time.Duration, timedOut bool) {
	if tel := FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordRefreshWait(duration, timedOut)
	}
}

// RecordFetchOperation records one fetch with metrics and tracing.
func RecordFetchOperation(ctx context.Context, location, scheme string, fn func(context.Context) error) error {
	tel := FromTelemetryContext(ctx)

	var span trace.Span
	if tel != nil {
		ctx, span = tel.Tracer.StartFetchSpan(ctx, location)
		defer span.End()
	}

	timer := NewTimer()
	err := fn(ctx)

	if tel != nil {
		tel.Metrics.RecordFetch(scheme, err, timer.Duration())
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
	}

	return err
}
