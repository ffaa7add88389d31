// Package telemetry provides logging, tracing, metrics and task events for
// janitor runs.
//
// Logging is zerolog based. Tracing uses OpenTelemetry with a stdout or
// OTLP gRPC exporter. Metrics live in a private Prometheus registry that is
// written to a textfile in the execution directory at shutdown and can be
// served over HTTP while the run lasts.
//
// TaskObserver plugs all of this into the engine as a Listener:
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	...
//	rc, err := engine.NewContext(engine.Options{
//		Logger:    tel.Logger.Zerolog(),
//		Listeners: []engine.Listener{tel.Observer(executionID)},
//	})
package telemetry
