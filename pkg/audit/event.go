package audit

import (
	"time"

	"github.com/google/uuid"
)

// Operation names the dataset operation being audited.
type Operation string

const (
	// OperationFetch is a dataset fetch (resolve and materialize).
	OperationFetch Operation = "fetch"

	// OperationRegister is a dataset version registration.
	OperationRegister Operation = "register"
)

// NewEvent creates a new audit event.
func NewEvent(op Operation) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Operation: op,
	}
}

// WithDataset adds dataset identity to the event.
func (e *Event) WithDataset(id, project, name string) *Event {
	e.DatasetID = id
	e.Project = project
	e.Name = name
	return e
}

// WithParent adds the parent dataset version to the event.
func (e *Event) WithParent(parentID string) *Event {
	e.ParentID = parentID
	return e
}

// WithStore adds the dataset store name to the event.
func (e *Event) WithStore(store string) *Event {
	e.Store = store
	return e
}

// WithParameters adds parameters to the event.
func (e *Event) WithParameters(params map[string]any) *Event {
	e.Parameters = SanitizeParameters(params)
	return e
}

// WithResult adds result information to the event.
func (e *Event) WithResult(success bool, errorMsg string, durationMS int64) *Event {
	e.Success = success
	e.ErrorMessage = errorMsg
	e.DurationMS = durationMS
	return e
}

// SanitizeParameters removes sensitive parameters from the event.
func SanitizeParameters(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}

	sensitiveKeys := map[string]bool{
		"password":      true,
		"secret":        true,
		"secret_key":    true,
		"access_key":    true,
		"token":         true,
		"api_key":       true,
		"authorization": true,
		"credentials":   true,
	}

	sanitized := make(map[string]any)
	for k, v := range params {
		if sensitiveKeys[k] {
			sanitized[k] = "[REDACTED]"
		} else {
			sanitized[k] = v
		}
	}
	return sanitized
}
