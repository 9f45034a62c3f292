// Package telemetry provides observability instrumentation for the froyo agent.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified system
// for monitoring reconciliation cycles and the local module runtime.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with OTLP or stdout exporters
//  3. Metrics Collection - Prometheus metrics for cycles, steps, fetches and refresh waits
//  4. Event Publishing - In-process event bus, also used by the runtime to report refresh completion
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Cycles and Steps
//
// A reconciliation cycle is wrapped in a cycle context, and each execution
// step in a step context nested under it:
//
//	ctx = telemetry.WithCycleContext(ctx, cycleID, len(snapshot))
//	defer telemetry.EndCycleContext(ctx, cycleID, status, err)
//
//	stepCtx := telemetry.WithStepContext(ctx, plan.ID, "install")
//	telemetry.EndStepContext(stepCtx, plan.ID, "install", n, err)
//
// Every helper is a no-op when the context carries no Telemetry instance, so
// library code can call them unconditionally.
//
// # Events
//
// Subscribers receive events on their own goroutine:
//
//	cancel := tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Message)
//	}, telemetry.FilterByType(telemetry.EventTypeModulesRefreshed))
//	defer cancel()
//
// Subscribe on a disabled publisher returns a no-op cancel function.
package telemetry
