package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType is a stable identifier for a domain event that can be
// delivered to notification channels.
type EventType string

const (
	EventSweepStarted           EventType = "sweep_started"
	EventSweepCompleted         EventType = "sweep_completed"
	EventSearchSuccess          EventType = "search_success"
	EventSearchExhausted        EventType = "search_exhausted"
	EventConnectorHealthChanged EventType = "connector_health_changed"
	EventSyncCompleted          EventType = "sync_completed"
	EventSyncFailed             EventType = "sync_failed"
	EventAppStarted             EventType = "app_started"
	EventUpdateAvailable        EventType = "update_available"
)

// EventColors maps each event type to its display color (hex). Chat
// senders convert these to whatever their wire format requires.
var EventColors = map[EventType]string{
	EventSweepStarted:           "#3498db",
	EventSweepCompleted:         "#2ecc71",
	EventSearchSuccess:          "#27ae60",
	EventSearchExhausted:        "#e74c3c",
	EventConnectorHealthChanged: "#f39c12",
	EventSyncCompleted:          "#9b59b6",
	EventSyncFailed:             "#e74c3c",
	EventAppStarted:             "#1abc9c",
	EventUpdateAvailable:        "#f1c40f",
}

// DefaultEventColor is used for event types without an entry in EventColors.
const DefaultEventColor = "#7289da"

// ColorFor returns the hex color for an event type.
func ColorFor(t EventType) string {
	if c, ok := EventColors[t]; ok {
		return c
	}
	return DefaultEventColor
}

// ChannelType identifies the delivery mechanism of a notification channel.
type ChannelType string

const (
	ChannelWebhook  ChannelType = "webhook"
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
	ChannelTelegram ChannelType = "telegram"
	ChannelEmail    ChannelType = "email"
)

// Valid reports whether t is a known channel type.
func (t ChannelType) Valid() bool {
	switch t {
	case ChannelWebhook, ChannelDiscord, ChannelSlack, ChannelTelegram, ChannelEmail:
		return true
	}
	return false
}

// NotificationChannel is a configured delivery target. Config holds
// non-sensitive settings; SensitiveEncrypted holds the encrypted JSON blob
// of secrets (tokens, passwords, signing keys), opaque until decrypted by
// the channel sender layer.
type NotificationChannel struct {
	ID                 uuid.UUID         `json:"id"`
	Name               string            `json:"name"`
	Type               ChannelType       `json:"type"`
	Config             map[string]string `json:"config"`
	SensitiveEncrypted string            `json:"-"`
	Enabled            bool              `json:"enabled"`
	EnabledEvents      []EventType       `json:"enabled_events"`

	BatchingEnabled      bool `json:"batching_enabled"`
	BatchingWindowSecond int  `json:"batching_window_seconds"`

	QuietHoursEnabled  bool    `json:"quiet_hours_enabled"`
	QuietHoursStart    *string `json:"quiet_hours_start,omitempty"` // "HH:MM"
	QuietHoursEnd      *string `json:"quiet_hours_end,omitempty"`   // "HH:MM"
	QuietHoursTimezone string  `json:"quiet_hours_timezone"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WantsEvent reports whether the channel subscribes to event type t.
func (c NotificationChannel) WantsEvent(t EventType) bool {
	for _, e := range c.EnabledEvents {
		if e == t {
			return true
		}
	}
	return false
}

// HistoryStatus is the delivery status of a notification history entry.
type HistoryStatus string

const (
	HistoryPending HistoryStatus = "pending"
	HistorySent    HistoryStatus = "sent"
	HistoryFailed  HistoryStatus = "failed"
)

// NotificationHistoryEntry records one (channel, event) delivery attempt.
// Batched entries stay pending until their digest is delivered, then all
// entries in the batch transition together under a shared BatchID.
type NotificationHistoryEntry struct {
	ID           uuid.UUID      `json:"id"`
	ChannelID    uuid.UUID      `json:"channel_id"`
	EventType    EventType      `json:"event_type"`
	EventData    map[string]any `json:"event_data"`
	Status       HistoryStatus  `json:"status"`
	SentAt       *time.Time     `json:"sent_at,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	BatchID      *uuid.UUID     `json:"batch_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
