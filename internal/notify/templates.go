package notify

import (
	"fmt"
	"sort"
	"time"

	"github.com/engels74/comradarr-sub001/internal/model"
)

// BuildPayload renders one event into the channel-independent payload.
// Unknown event types get a generic rendering so a new event never drops
// silently.
func BuildPayload(eventType model.EventType, data map[string]any, now time.Time) Payload {
	p := Payload{
		EventType: eventType,
		Timestamp: now,
		Color:     model.ColorFor(eventType),
		EventData: data,
	}

	switch eventType {
	case model.EventSweepStarted:
		p.Title = "Search sweep started"
		p.Message = fmt.Sprintf("Sweeping %s connector(s).", str(data, "connector_count", "all"))

	case model.EventSweepCompleted:
		p.Title = "Search sweep completed"
		p.Message = fmt.Sprintf("Dispatched %s search(es), %s failed.",
			str(data, "dispatched", "0"), str(data, "failed", "0"))
		p.Fields = fieldsFrom(data, "dispatched", "failed", "skipped", "duration")

	case model.EventSearchSuccess:
		p.Title = "Search dispatched"
		p.Message = fmt.Sprintf("Search sent for %s.", str(data, "title", "content"))
		p.Fields = fieldsFrom(data, "connector", "search_type")

	case model.EventSearchExhausted:
		p.Title = "Search exhausted"
		p.Message = fmt.Sprintf("%s gave up after %s attempt(s).",
			str(data, "title", "An entry"), str(data, "attempts", "all"))
		p.Fields = fieldsFrom(data, "connector", "failure_category")

	case model.EventConnectorHealthChanged:
		p.Title = "Connector health changed"
		p.Message = fmt.Sprintf("%s went from %s to %s.",
			str(data, "connector", "A connector"),
			str(data, "previous_status", "unknown"), str(data, "new_status", "unknown"))

	case model.EventSyncCompleted:
		p.Title = "Library sync completed"
		p.Message = fmt.Sprintf("Synced %s item(s).", str(data, "items", "0"))

	case model.EventSyncFailed:
		p.Title = "Library sync failed"
		p.Message = str(data, "error", "Sync failed with an unknown error.")

	case model.EventAppStarted:
		p.Title = "Orchestrator started"
		p.Message = fmt.Sprintf("Version %s is up.", str(data, "version", "unknown"))

	case model.EventUpdateAvailable:
		p.Title = "Update available"
		p.Message = fmt.Sprintf("Version %s is available (running %s).",
			str(data, "latest_version", "unknown"), str(data, "current_version", "unknown"))

	default:
		p.Title = string(eventType)
		p.Message = "Event received."
		p.Fields = allFields(data)
	}

	return p
}

// TestPayload is the canned payload used by a channel's test-send.
func TestPayload(now time.Time) Payload {
	return Payload{
		EventType: "test",
		Title:     "Test notification",
		Message:   "If you can read this, the channel is configured correctly.",
		Timestamp: now,
		Color:     model.DefaultEventColor,
	}
}

func str(data map[string]any, key, fallback string) string {
	if v, ok := data[key]; ok && v != nil {
		return fmt.Sprintf("%v", v)
	}
	return fallback
}

// fieldsFrom picks named keys, in order, skipping absent ones.
func fieldsFrom(data map[string]any, keys ...string) []Field {
	var out []Field
	for _, k := range keys {
		if v, ok := data[k]; ok && v != nil {
			out = append(out, Field{Name: k, Value: fmt.Sprintf("%v", v)})
		}
	}
	return out
}

func allFields(data map[string]any) []Field {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Field
	for _, k := range keys {
		out = append(out, Field{Name: k, Value: fmt.Sprintf("%v", data[k])})
	}
	return out
}
