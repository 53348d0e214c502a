package model

import "time"

// ContentType is the kind of content a registry entry tracks.
type ContentType string

const (
	ContentEpisode ContentType = "episode"
	ContentMovie   ContentType = "movie"
)

// SearchType distinguishes gap searches (content missing entirely) from
// upgrade searches (content present below the desired quality).
type SearchType string

const (
	SearchGap     SearchType = "gap"
	SearchUpgrade SearchType = "upgrade"
)

// RegistryState is the lifecycle state of a search registry entry.
//
// Legal transitions:
//
//	pending ─ enqueue ─▶ queued
//	queued ─ setSearching ─▶ searching
//	searching ─ dispatched (upgrade) ─▶ cooldown (backlog tier 1)
//	searching ─ markFailed ─▶ cooldown | exhausted
//	cooldown ─ reenqueue (now >= nextEligible) ─▶ pending
//	searching, cooldown ─ markExhausted ─▶ exhausted
type RegistryState string

const (
	StatePending   RegistryState = "pending"
	StateQueued    RegistryState = "queued"
	StateSearching RegistryState = "searching"
	StateCooldown  RegistryState = "cooldown"
	StateExhausted RegistryState = "exhausted"
)

// FailureCategory classifies why a dispatched search failed.
type FailureCategory string

const (
	FailureNoResults FailureCategory = "no_results"
	FailureNetwork   FailureCategory = "network"
	FailureTimeout   FailureCategory = "timeout"
	FailureRateLimit FailureCategory = "rate_limit"
	FailureServer    FailureCategory = "server"
	FailureAuth      FailureCategory = "authentication"
)

// SearchRegistryEntry is the unit of work: one piece of content the
// orchestrator intends to search for on one connector.
//
// Invariants: state=cooldown implies NextEligible != nil;
// state=exhausted implies NextEligible == nil; AttemptCount is
// non-decreasing within a retry cycle and resets to 0 on entering a
// backlog tier.
type SearchRegistryEntry struct {
	ID               int64            `json:"id"`
	ConnectorID      int64            `json:"connector_id"`
	ContentType      ContentType      `json:"content_type"`
	ContentID        int64            `json:"content_id"`
	SearchType       SearchType       `json:"search_type"`
	State            RegistryState    `json:"state"`
	AttemptCount     int              `json:"attempt_count"`
	Priority         int              `json:"priority"`
	NextEligible     *time.Time       `json:"next_eligible,omitempty"`
	LastSearched     *time.Time       `json:"last_searched,omitempty"`
	FailureCategory  *FailureCategory `json:"failure_category,omitempty"`
	BacklogTier      int              `json:"backlog_tier"`
	SeasonPackFailed bool             `json:"season_pack_failed"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// RequestQueueRow is a materialized pending dispatch. Exactly one row
// exists per registry entry in state queued (unique on SearchRegistryID).
type RequestQueueRow struct {
	ID               int64     `json:"id"`
	SearchRegistryID int64     `json:"search_registry_id"`
	ConnectorID      int64     `json:"connector_id"`
	Priority         int       `json:"priority"`
	ScheduledAt      time.Time `json:"scheduled_at"`
}

// QueuedItem is a dequeued queue row joined with the registry fields the
// dispatcher needs to build the search command.
type QueuedItem struct {
	QueueID          int64
	SearchRegistryID int64
	ConnectorID      int64
	ContentType      ContentType
	ContentID        int64
	SearchType       SearchType
	Priority         int
	ScheduledAt      time.Time
}
