// Package model defines the entities the orchestrator persists and moves
// between its services: connectors, search registry entries, queue rows,
// rate-limit state, notification channels and history, and the indexer
// health cache.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ConnectorType identifies the backend product a connector talks to.
type ConnectorType string

const (
	ConnectorSonarr   ConnectorType = "sonarr"
	ConnectorRadarr   ConnectorType = "radarr"
	ConnectorWhisparr ConnectorType = "whisparr"
)

// Valid reports whether t is a known connector type.
func (t ConnectorType) Valid() bool {
	switch t {
	case ConnectorSonarr, ConnectorRadarr, ConnectorWhisparr:
		return true
	}
	return false
}

// HealthStatus is the observed health of a connector.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthOffline   HealthStatus = "offline"
)

// healthOrder ranks statuses from worst to best. Used by the notification
// aggregator to classify a health change as improvement or degradation.
var healthOrder = map[HealthStatus]int{
	HealthOffline:   0,
	HealthUnhealthy: 1,
	HealthDegraded:  2,
	HealthHealthy:   3,
}

// HealthRank returns the ordering rank of s (offline lowest, healthy
// highest). Unknown statuses rank below offline.
func HealthRank(s HealthStatus) int {
	if r, ok := healthOrder[s]; ok {
		return r
	}
	return -1
}

// Connector is a configured backend instance the orchestrator dispatches
// searches to.
type Connector struct {
	ID              int64         `json:"id"`
	Name            string        `json:"name"`
	Type            ConnectorType `json:"type"`
	BaseURL         string        `json:"base_url"`
	APIKeyEncrypted string        `json:"-"` // iv:tag:ciphertext hex, never serialized
	HealthStatus    HealthStatus  `json:"health_status"`
	QueuePaused     bool          `json:"queue_paused"`

	// Rate-limit profile. RequestsPerMinute <= 0 means unlimited.
	RequestsPerMinute    int `json:"requests_per_minute"`
	RateLimitPauseSecond int `json:"rate_limit_pause_seconds"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConnectorRateState is the per-connector admission-control state.
// Single-row per connector, updated atomically.
type ConnectorRateState struct {
	ConnectorID        int64      `json:"connector_id"`
	PausedUntil        *time.Time `json:"paused_until,omitempty"`
	LastRequestAt      *time.Time `json:"last_request_at,omitempty"`
	RequestsThisMinute int        `json:"requests_this_minute"`
	MinuteWindowStart  time.Time  `json:"minute_window_start"`
}

// APIKey is an inbound ops-API credential. The key itself is stored as an
// Argon2id hash; Prefix allows O(1) lookup before the expensive verify.
type APIKey struct {
	ID        uuid.UUID  `json:"id"`
	Prefix    string     `json:"prefix"`
	KeyHash   string     `json:"-"`
	Label     string     `json:"label"`
	RateLimit *int       `json:"rate_limit,omitempty"` // requests per minute, nil = unlimited
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}
