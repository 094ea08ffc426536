// Package log provides the structured logger used by invoicenode.
//
// Loggers are passed explicitly or through a context:
//
//	logger := log.NewZapLogger(log.Config{Format: "logfmt", Level: log.LevelInfo})
//	ctx = log.SetContextLogger(ctx, logger.WithName("ledger"))
//	log.FromContext(ctx).Info("invoice paid", "invoiceID", 7)
//
// When the context holds an OpenTelemetry span, SetContextLogger wraps the
// logger in a SpanLogger so that every entry also becomes a span event and
// error entries mark the span as failed.
package log
