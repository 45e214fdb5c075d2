package telemetry

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"
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

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	return newTelemetry(cfg, logger)
}

// NewTelemetryWithWriter creates a telemetry instance whose logs go to w.
func NewTelemetryWithWriter(w io.Writer, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newTelemetry(cfg, NewLoggerWithWriter(w, cfg.Logging))
}

func newTelemetry(cfg *Config, logger *Logger) (*Telemetry, error) {
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  NewEventPublisher(cfg.Events),
		Config:  cfg,
	}, nil
}

// Nop returns a telemetry instance that records nothing.
func Nop() *Telemetry {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Events.Enabled = false
	tracer, _ := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	return &Telemetry{
		Logger:  &Logger{zlog: zerolog.Nop(), config: cfg.Logging},
		Tracer:  tracer,
		Metrics: &Metrics{config: cfg.Metrics},
		Events:  NewEventPublisher(cfg.Events),
		Config:  cfg,
	}
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Shutdown(ctx),
		t.Tracer.Shutdown(ctx),
	)
}

// PlanOperation tracks one plan attempt started by TraceDuration.
type PlanOperation struct {
	tel    *Telemetry
	span   trace.Span
	logger *Logger
	timer  *Timer
	plan   string
	kind   string
	endMsg string
}

// TraceDuration logs startMsg, opens a plan span and starts timing. The
// returned operation must be ended with End, which logs endMsg on success.
func (t *Telemetry) TraceDuration(ctx context.Context, plan, kind, startMsg, endMsg string) (context.Context, *PlanOperation) {
	if t == nil {
		t = Nop()
	}

	spanCtx, span := t.Tracer.StartPlanSpan(ctx, plan, kind)

	logger := t.Logger.WithPlan(plan).WithField("kind", kind)
	if sc := span.SpanContext(); sc.IsValid() {
		logger = logger.WithField("trace_id", sc.TraceID().String())
	}
	logger.Info(startMsg)

	_ = t.Events.PublishPlanStarted(plan, kind)

	return logger.WithContext(spanCtx), &PlanOperation{
		tel:    t,
		span:   span,
		logger: logger,
		timer:  NewTimer(),
		plan:   plan,
		kind:   kind,
		endMsg: endMsg,
	}
}

// End finishes the operation, recording the outcome on every telemetry sink.
func (op *PlanOperation) End(finalState string, err error) {
	duration := op.timer.Duration()

	op.span.SetAttributes(AttrFinalState.String(finalState))
	if err != nil {
		RecordError(op.span, err)
	} else {
		RecordSuccess(op.span)
	}
	op.span.End()

	op.tel.Metrics.RecordPlanAttempt(op.plan, op.kind, duration, err)

	if err != nil {
		op.logger.zlog.Error().Err(err).Dur("duration", duration).Str("state", finalState).Msg("Upgrade failed")
		_ = op.tel.Events.PublishPlanFailed(op.plan, op.kind, err.Error())
		return
	}

	op.logger.zlog.Info().Dur("duration", duration).Str("state", finalState).Msg(op.endMsg)
	_ = op.tel.Events.PublishPlanCompleted(op.plan, op.kind, finalState, duration)
}

// RecordBootFailure records a fatal boot outcome.
func (t *Telemetry) RecordBootFailure(err error) {
	if t == nil || err == nil {
		return
	}
	t.Logger.WithError(err).Error("Boot failed")
	_ = t.Events.PublishBootFailed(err.Error())
}
