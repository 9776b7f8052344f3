// Package logging builds the service's log/slog logger.
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json"})
//	slog.SetDefault(logger)
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	ctx = logging.WithTenant(ctx, "acme")
//	logger.InfoContext(ctx, "Admitted")  // includes request_id and tenant_id
//
// Attributes named password, secret, token, authorization or api_key are
// written as [REDACTED].
package logging
