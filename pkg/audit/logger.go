// Package audit records an audit trail of dataset fetch and register operations.
package audit

import (
	"context"
	"time"
)

// Logger defines the interface for audit logging.
type Logger interface {
	// Log records an audit event.
	Log(ctx context.Context, event Event) error

	// Query retrieves audit events matching the filter.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Close releases resources.
	Close() error
}

// Event represents an auditable dataset operation.
type Event struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	DurationMS   int64          `json:"duration_ms"`
	Operation    Operation      `json:"operation"`
	DatasetID    string         `json:"dataset_id,omitempty"`
	Project      string         `json:"project,omitempty"`
	Name         string         `json:"name,omitempty"`
	ParentID     string         `json:"parent_id,omitempty"`
	Store        string         `json:"store,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// QueryFilter defines criteria for querying audit events.
type QueryFilter struct {
	ID        string
	StartTime *time.Time
	EndTime   *time.Time
	Operation Operation
	DatasetID string
	Project   string
	Success   *bool
	Limit     int
	Offset    int
}
