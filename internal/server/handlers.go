package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/engels74/comradarr-sub001/internal/auth"
	"github.com/engels74/comradarr-sub001/internal/indexer"
	"github.com/engels74/comradarr-sub001/internal/model"
	"github.com/engels74/comradarr-sub001/internal/notify"
	"github.com/engels74/comradarr-sub001/internal/queue"
	"github.com/engels74/comradarr-sub001/internal/secrets"
	"github.com/engels74/comradarr-sub001/internal/storage"
	"github.com/engels74/comradarr-sub001/internal/sweep"
)

// HandlersDeps bundles the dependencies for NewHandlers.
type HandlersDeps struct {
	DB         *storage.DB
	Cipher     *secrets.Cipher
	QueueSvc   *queue.Service
	Sweeper    *sweep.Sweeper
	Notifier   *notify.Dispatcher
	IndexerMon *indexer.Monitor
	Logger     *slog.Logger
	Version    string
}

// Handlers implements the ops API endpoints.
type Handlers struct {
	db         *storage.DB
	cipher     *secrets.Cipher
	queueSvc   *queue.Service
	sweeper    *sweep.Sweeper
	notifier   *notify.Dispatcher
	indexerMon *indexer.Monitor
	logger     *slog.Logger
	version    string
}

// NewHandlers wires the endpoint implementations.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:         d.DB,
		cipher:     d.Cipher,
		queueSvc:   d.QueueSvc,
		sweeper:    d.Sweeper,
		notifier:   d.Notifier,
		indexerMon: d.IndexerMon,
		logger:     d.Logger,
		version:    d.Version,
	}
}

// HandleHealth reports process liveness.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// HandleReady reports readiness: the database must answer a ping.
func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleTriggerSweep runs a full sweep cycle synchronously and returns
// its report.
func (h *Handlers) HandleTriggerSweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeError(w, r, http.StatusServiceUnavailable, "sweeper not running")
		return
	}
	report, err := h.sweeper.SweepAll(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"connectors":  report.Connectors,
		"dispatched":  report.Dispatched,
		"failed":      report.Failed,
		"skipped":     report.Skipped,
		"duration_ms": report.Duration.Milliseconds(),
	})
}

// HandleQueueDepths returns the per-connector queue depth.
func (h *Handlers) HandleQueueDepths(w http.ResponseWriter, r *http.Request) {
	depths, err := h.queueSvc.Depths(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	out := make(map[string]int64, len(depths))
	for id, n := range depths {
		out[strconv.FormatInt(id, 10)] = n
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"depths": out})
}

// HandleClearQueue drops queued rows, for one connector when
// ?connector_id is given, otherwise for all.
func (h *Handlers) HandleClearQueue(w http.ResponseWriter, r *http.Request) {
	var connectorID *int64
	if raw := r.URL.Query().Get("connector_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid connector_id")
			return
		}
		connectorID = &id
	}
	removed, err := h.queueSvc.Clear(r.Context(), connectorID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]int64{"removed": removed})
}

// HandlePauseQueue stops dequeues for one connector.
func (h *Handlers) HandlePauseQueue(w http.ResponseWriter, r *http.Request) {
	h.setQueuePaused(w, r, true)
}

// HandleResumeQueue resumes dequeues for one connector.
func (h *Handlers) HandleResumeQueue(w http.ResponseWriter, r *http.Request) {
	h.setQueuePaused(w, r, false)
}

func (h *Handlers) setQueuePaused(w http.ResponseWriter, r *http.Request, paused bool) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid connector id")
		return
	}
	if paused {
		err = h.queueSvc.Pause(r.Context(), id)
	} else {
		err = h.queueSvc.Resume(r.Context(), id)
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "connector not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]bool{"queue_paused": paused})
}

type createConnectorRequest struct {
	Name                 string              `json:"name"`
	Type                 model.ConnectorType `json:"type"`
	BaseURL              string              `json:"base_url"`
	APIKey               string              `json:"api_key"`
	RequestsPerMinute    int                 `json:"requests_per_minute"`
	RateLimitPauseSecond int                 `json:"rate_limit_pause_seconds"`
}

// HandleCreateConnector registers a backend instance. The API key is
// encrypted before it touches the database.
func (h *Handlers) HandleCreateConnector(w http.ResponseWriter, r *http.Request) {
	var req createConnectorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.BaseURL == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, "name, base_url, and api_key are required")
		return
	}
	if !req.Type.Valid() {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown connector type %q", req.Type))
		return
	}

	encrypted, err := h.cipher.Encrypt(req.APIKey)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "encrypt api key")
		return
	}

	conn, err := h.db.CreateConnector(r.Context(), model.Connector{
		Name:                 req.Name,
		Type:                 req.Type,
		BaseURL:              req.BaseURL,
		APIKeyEncrypted:      encrypted,
		HealthStatus:         model.HealthHealthy,
		RequestsPerMinute:    req.RequestsPerMinute,
		RateLimitPauseSecond: req.RateLimitPauseSecond,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, r, http.StatusCreated, conn)
}

// HandleListConnectors lists all connectors.
func (h *Handlers) HandleListConnectors(w http.ResponseWriter, r *http.Request) {
	conns, err := h.db.ListConnectors(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"connectors": conns})
}

// HandleGetConnector returns one connector.
func (h *Handlers) HandleGetConnector(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid connector id")
		return
	}
	conn, err := h.db.GetConnector(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "connector not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, conn)
}

// HandleDeleteConnector removes a connector and its dependent rows.
func (h *Handlers) HandleDeleteConnector(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid connector id")
		return
	}
	if err := h.db.DeleteConnector(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "connector not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type channelRequest struct {
	Name                 string            `json:"name"`
	Type                 model.ChannelType `json:"type"`
	Config               map[string]string `json:"config"`
	Sensitive            map[string]string `json:"sensitive,omitempty"`
	Enabled              bool              `json:"enabled"`
	EnabledEvents        []model.EventType `json:"enabled_events"`
	BatchingEnabled      bool              `json:"batching_enabled"`
	BatchingWindowSecond int               `json:"batching_window_seconds"`
	QuietHoursEnabled    bool              `json:"quiet_hours_enabled"`
	QuietHoursStart      *string           `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd        *string           `json:"quiet_hours_end,omitempty"`
	QuietHoursTimezone   string            `json:"quiet_hours_timezone"`
}

func (h *Handlers) channelFromRequest(req channelRequest) (model.NotificationChannel, error) {
	ch := model.NotificationChannel{
		Name:                 req.Name,
		Type:                 req.Type,
		Config:               req.Config,
		Enabled:              req.Enabled,
		EnabledEvents:        req.EnabledEvents,
		BatchingEnabled:      req.BatchingEnabled,
		BatchingWindowSecond: req.BatchingWindowSecond,
		QuietHoursEnabled:    req.QuietHoursEnabled,
		QuietHoursStart:      req.QuietHoursStart,
		QuietHoursEnd:        req.QuietHoursEnd,
		QuietHoursTimezone:   req.QuietHoursTimezone,
	}
	if len(req.Sensitive) > 0 {
		raw, err := json.Marshal(req.Sensitive)
		if err != nil {
			return ch, fmt.Errorf("marshal sensitive config: %w", err)
		}
		encrypted, err := h.cipher.Encrypt(string(raw))
		if err != nil {
			return ch, fmt.Errorf("encrypt sensitive config: %w", err)
		}
		ch.SensitiveEncrypted = encrypted
	}
	return ch, nil
}

// HandleCreateChannel registers a notification channel. Sensitive config
// is encrypted as one JSON blob.
func (h *Handlers) HandleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}
	if !req.Type.Valid() {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown channel type %q", req.Type))
		return
	}

	ch, err := h.channelFromRequest(req)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	created, err := h.db.CreateChannel(r.Context(), ch)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, r, http.StatusCreated, created)
}

// HandleListChannels lists all notification channels.
func (h *Handlers) HandleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.db.ListChannels(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"channels": channels})
}

// HandleGetChannel returns one channel.
func (h *Handlers) HandleGetChannel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid channel id")
		return
	}
	ch, err := h.db.GetChannel(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "channel not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, ch)
}

// HandleUpdateChannel replaces a channel's settings. An empty sensitive
// map keeps the stored secrets.
func (h *Handlers) HandleUpdateChannel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid channel id")
		return
	}
	var req channelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Type.Valid() {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown channel type %q", req.Type))
		return
	}

	existing, err := h.db.GetChannel(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "channel not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	ch, err := h.channelFromRequest(req)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	ch.ID = id
	if ch.SensitiveEncrypted == "" {
		ch.SensitiveEncrypted = existing.SensitiveEncrypted
	}

	if err := h.db.UpdateChannel(r.Context(), ch); err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, ch)
}

// HandleDeleteChannel removes a channel.
func (h *Handlers) HandleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid channel id")
		return
	}
	if err := h.db.DeleteChannel(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "channel not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleTestChannel sends a canned test payload through one channel,
// bypassing quiet hours and batching.
func (h *Handlers) HandleTestChannel(w http.ResponseWriter, r *http.Request) {
	if h.notifier == nil {
		writeError(w, r, http.StatusServiceUnavailable, "notifier not running")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid channel id")
		return
	}
	result, err := h.notifier.TestChannel(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "channel not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleNotificationHistory lists recent delivery attempts, optionally
// filtered by ?channel_id, newest first.
func (h *Handlers) HandleNotificationHistory(w http.ResponseWriter, r *http.Request) {
	var channelID *uuid.UUID
	if raw := r.URL.Query().Get("channel_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid channel_id")
			return
		}
		channelID = &id
	}
	limit := queryInt(r, "limit", 50)
	entries, err := h.db.ListHistory(r.Context(), channelID, limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"history": entries})
}

type createIndexerRequest struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Enabled bool   `json:"enabled"`
}

// HandleCreateIndexerInstance registers an indexer-manager instance.
func (h *Handlers) HandleCreateIndexerInstance(w http.ResponseWriter, r *http.Request) {
	var req createIndexerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.BaseURL == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, "name, base_url, and api_key are required")
		return
	}
	encrypted, err := h.cipher.Encrypt(req.APIKey)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "encrypt api key")
		return
	}
	inst, err := h.db.CreateIndexerInstance(r.Context(), model.IndexerInstance{
		Name:            req.Name,
		BaseURL:         req.BaseURL,
		APIKeyEncrypted: encrypted,
		Enabled:         req.Enabled,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, r, http.StatusCreated, inst)
}

// HandleListIndexerInstances lists all indexer-manager instances.
func (h *Handlers) HandleListIndexerInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := h.db.ListIndexerInstances(r.Context(), false)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"indexers": instances})
}

// HandleIndexerHealth returns the cached indexer-health snapshot with
// staleness flags.
func (h *Handlers) HandleIndexerHealth(w http.ResponseWriter, r *http.Request) {
	if h.indexerMon == nil {
		writeError(w, r, http.StatusServiceUnavailable, "indexer monitor not running")
		return
	}
	snapshot, err := h.indexerMon.Snapshot(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"indexers": snapshot})
}

// HandleRegistryStats returns registry entry counts per state.
func (h *Handlers) HandleRegistryStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.db.CountRegistryStates(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	out := make(map[string]int64, len(counts))
	for state, n := range counts {
		out[string(state)] = n
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"states": out})
}

type createKeyRequest struct {
	Label     string `json:"label"`
	RateLimit *int   `json:"rate_limit,omitempty"`
}

// HandleCreateAPIKey mints an ops-API key. The cleartext key appears
// only in this response.
func (h *Handlers) HandleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Label == "" {
		writeError(w, r, http.StatusBadRequest, "label is required")
		return
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "generate key")
		return
	}
	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "hash key")
		return
	}
	record, err := h.db.CreateAPIKey(r.Context(), model.APIKey{
		Prefix:    apiKey[:keyPrefixLen],
		KeyHash:   hash,
		Label:     req.Label,
		RateLimit: req.RateLimit,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]any{
		"id":      record.ID,
		"label":   record.Label,
		"prefix":  record.Prefix,
		"api_key": apiKey,
	})
}

// HandleRevokeAPIKey revokes an ops-API key.
func (h *Handlers) HandleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid key id")
		return
	}
	if err := h.db.RevokeAPIKey(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "key not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SeedAdminKey stores the bootstrap key on first start. No-op when keys
// already exist or adminKey is empty.
func (h *Handlers) SeedAdminKey(ctx context.Context, adminKey string) error {
	if adminKey == "" {
		return nil
	}
	if len(adminKey) < keyPrefixLen {
		return fmt.Errorf("server: admin api key must be at least %d characters", keyPrefixLen)
	}
	count, err := h.db.CountAPIKeys(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	hash, err := auth.HashAPIKey(adminKey)
	if err != nil {
		return err
	}
	_, err = h.db.CreateAPIKey(ctx, model.APIKey{
		Prefix:  adminKey[:keyPrefixLen],
		KeyHash: hash,
		Label:   "bootstrap-admin",
	})
	if err != nil {
		return err
	}
	h.logger.Info("seeded bootstrap admin api key")
	return nil
}

// generateAPIKey mints a "cmr_" prefixed random key.
func generateAPIKey() (string, error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return "cmr_" + hex.EncodeToString(raw), nil
}

func pathInt64(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(r.PathValue(key), 10, 64)
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return defaultVal
}
