package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/engels74/comradarr-sub001/internal/model"
)

// Digest list bounds.
const (
	MaxListItems   = 5
	MaxTitleLength = 40
)

// BuildDigest aggregates pending history entries of one event type into a
// single digest payload for a batching channel.
func BuildDigest(eventType model.EventType, entries []model.NotificationHistoryEntry, now time.Time) Payload {
	p := Payload{
		EventType: eventType,
		Timestamp: now,
		Color:     model.ColorFor(eventType),
	}

	switch eventType {
	case model.EventSearchSuccess:
		p.Title = fmt.Sprintf("%d searches dispatched", len(entries))
		p.Message = itemList(entries, "title")

	case model.EventSearchExhausted:
		p.Title = fmt.Sprintf("%d searches exhausted", len(entries))
		p.Message = itemList(entries, "title")

	case model.EventConnectorHealthChanged:
		improved, degraded := classifyHealthChanges(entries)
		p.Title = fmt.Sprintf("%d connector health changes", len(entries))
		p.Message = fmt.Sprintf("%d improved, %d degraded.", improved, degraded)
		p.Fields = []Field{
			{Name: "improved", Value: fmt.Sprintf("%d", improved)},
			{Name: "degraded", Value: fmt.Sprintf("%d", degraded)},
		}

	case model.EventSweepCompleted:
		var dispatched, failed int
		for _, e := range entries {
			dispatched += intVal(e.EventData, "dispatched")
			failed += intVal(e.EventData, "failed")
		}
		p.Title = fmt.Sprintf("%d sweeps completed", len(entries))
		p.Message = fmt.Sprintf("%d dispatched, %d failed across all sweeps.", dispatched, failed)

	default:
		p.Title = fmt.Sprintf("%d %s events", len(entries), eventType)
		p.Message = itemList(entries, "title")
	}

	return p
}

// itemList renders up to MaxListItems titles, one per line, with an
// "and N more" suffix when truncated. Entries without the key count but do
// not list.
func itemList(entries []model.NotificationHistoryEntry, key string) string {
	var items []string
	for _, e := range entries {
		if v, ok := e.EventData[key]; ok && v != nil {
			items = append(items, truncateTitle(fmt.Sprintf("%v", v)))
		}
	}
	if len(items) == 0 {
		return fmt.Sprintf("%d event(s).", len(entries))
	}

	shown := items
	if len(items) > MaxListItems {
		shown = items[:MaxListItems]
	}
	msg := strings.Join(shown, "\n")
	if extra := len(items) - len(shown); extra > 0 {
		msg += fmt.Sprintf("\nand %d more", extra)
	}
	return msg
}

func truncateTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= MaxTitleLength {
		return title
	}
	return string(runes[:MaxTitleLength-1]) + "…"
}

// classifyHealthChanges counts improvements vs degradations by the health
// ordering (offline worst, healthy best). Unknown statuses rank worst.
func classifyHealthChanges(entries []model.NotificationHistoryEntry) (improved, degraded int) {
	for _, e := range entries {
		prev := model.HealthStatus(str(e.EventData, "previous_status", ""))
		next := model.HealthStatus(str(e.EventData, "new_status", ""))
		switch {
		case model.HealthRank(next) > model.HealthRank(prev):
			improved++
		case model.HealthRank(next) < model.HealthRank(prev):
			degraded++
		}
	}
	return improved, degraded
}

func intVal(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
