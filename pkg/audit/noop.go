package audit

import "context"

// NoopLogger discards audit events. It is used when auditing is disabled.
type NoopLogger struct{}

// NewNoopLogger creates a new no-op logger.
func NewNoopLogger() *NoopLogger {
	return &NoopLogger{}
}

// Log discards the event.
func (*NoopLogger) Log(_ context.Context, _ Event) error {
	return nil
}

// Query returns no events.
func (*NoopLogger) Query(_ context.Context, _ QueryFilter) ([]Event, error) {
	return []Event{}, nil
}

// Close is a no-op.
func (*NoopLogger) Close() error {
	return nil
}

// Verify interface compliance.
var _ Logger = (*NoopLogger)(nil)
