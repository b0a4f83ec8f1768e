// Package logging provides structured logging with OpenTelemetry integration.
//
// Logger wraps Zap with:
//   - a custom Trace level (-2, below Debug)
//   - dual output (stdout and the OpenTelemetry log bridge)
//   - automatic trace and correlation field injection
//   - secret redaction at the encoder
//   - level-aware sampling, with an unsampled view for records that must not drop
//   - an atomic level that can be changed at runtime
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = correlation.WithContext(ctx, correlation.New("", "1.0.0", time.Time{}))
//	logger.Info(ctx, "request processed", zap.Duration("duration", d))
//
// Output carries the correlation automatically:
//
//	{"ts":"...","level":"info","msg":"request processed","request_id":"...","duration":"45ms"}
//
// Sampling applies per message: Info passes the first 100 per tick then 1 in
// 10, Error and above are never sampled. WithoutSampling bypasses it.
//
// Use TestLogger in tests:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "test message", zap.String("key", "value"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "test message")
//	tl.AssertNoSecrets(t)
package logging
