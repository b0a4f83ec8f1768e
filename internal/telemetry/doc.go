// Package telemetry is the telemetry and correlation core of insightd.
//
// A Manager emits events, requests, exceptions and dependencies to a Sink
// and manages trace spans. It is constructed once at the composition root
// and passed to collaborators as a Tracker:
//
//	m := telemetry.New(ctx, cfg, logger)
//	defer m.Shutdown(ctx)
//
//	m.TrackEvent(ctx, "user_login", map[string]string{"method": "sso"}, nil)
//
// The sink is chosen from the connection string:
//
//	telemetry:
//	  connection_string: "InstrumentationKey=...;IngestionEndpoint=https://collector:4318"
//
// OTLP endpoints get an OTLPSink plus span and metric exporters, nats://
// endpoints get a NATSSink. Without a connection string, or when the sink
// cannot be opened, the manager runs in degraded mode and writes every
// record to the local log. No Manager method fails because telemetry failed.
//
// Wrap and its variants instrument arbitrary operations:
//
//	classify := telemetry.Wrap1(m, "classify", svc.Classify)
//	label, err := classify(ctx, doc)
//
// Use NewTestManager in tests; it records envelopes, spans and metrics in
// memory.
package telemetry
