// Package telemetry provides observability instrumentation for bootkeep.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry),
// metrics (Prometheus) and an in-process event publisher.
//
// # Usage
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Every plan attempt is wrapped in TraceDuration, which logs the start
// message, opens a "plan.upgrade" span and starts a timer:
//
//	ctx, op := tel.TraceDuration(ctx, "core", "core",
//	    "Starting unattended upgrade.", "Unattended upgrade completed.")
//	result, err := upgrader.Run(ctx)
//	op.End(result.FinalState, err)
//
// End records the span status, the plan_attempts_total and
// plan_duration_seconds metrics, and publishes plan.completed or
// plan.failed.
//
// # Metrics
//
// Metrics are kept in a private registry and exposed by
// StartMetricsServer when a listen address is configured. The step
// metrics are fed by passing Metrics to migrations.WithStepObserver.
//
// # Events
//
// Subscribers receive events synchronously unless EnableAsync is set:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelError))
package telemetry
