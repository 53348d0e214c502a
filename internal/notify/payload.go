// Package notify delivers domain events to configured notification
// channels: templating, quiet-hours deferral, batching, and one sender
// per channel type behind a common contract.
package notify

import (
	"time"

	"github.com/engels74/comradarr-sub001/internal/model"
)

// Field is one key/value pair rendered by every channel format.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Payload is the channel-independent rendering of one event (or digest).
// Senders translate it into their wire format.
type Payload struct {
	EventType model.EventType `json:"event_type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
	Fields    []Field         `json:"fields,omitempty"`
	Color     string          `json:"color,omitempty"`
	URL       string          `json:"url,omitempty"`
	EventData map[string]any  `json:"event_data,omitempty"`
}
