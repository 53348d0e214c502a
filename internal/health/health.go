// Package health probes connector liveness and maintains each
// connector's health status, with exponential probe backoff for
// connectors that keep failing.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/engels74/comradarr-sub001/internal/connector"
	"github.com/engels74/comradarr-sub001/internal/model"
	"github.com/engels74/comradarr-sub001/internal/notify"
	"github.com/engels74/comradarr-sub001/internal/secrets"
	"github.com/engels74/comradarr-sub001/internal/storage"
)

// Probe loop defaults.
const (
	DefaultInterval     = 2 * time.Minute
	DefaultProbeBackoff = time.Minute
	DefaultProbeMax     = 30 * time.Minute
)

// Failure-streak thresholds for the health ladder.
const (
	degradedAfter  = 1
	unhealthyAfter = 3
	offlineAfter   = 6
)

// Pinger probes every connector and records health transitions.
type Pinger struct {
	db       *storage.DB
	cipher   *secrets.Cipher
	notifier *notify.Dispatcher
	interval time.Duration
	logger   *slog.Logger

	// ping is swapped in tests.
	ping func(ctx context.Context, conn model.Connector, apiKey string) error
}

// NewPinger creates a pinger. interval <= 0 takes the default.
func NewPinger(db *storage.DB, cipher *secrets.Cipher, notifier *notify.Dispatcher, interval time.Duration, logger *slog.Logger) *Pinger {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Pinger{
		db:       db,
		cipher:   cipher,
		notifier: notifier,
		interval: interval,
		logger:   logger,
		ping: func(ctx context.Context, conn model.Connector, apiKey string) error {
			client, err := connector.NewClient(connector.Config{
				BaseURL: conn.BaseURL,
				APIKey:  apiKey,
				Type:    conn.Type,
			})
			if err != nil {
				return err
			}
			return client.Ping(ctx)
		},
	}
}

// Run probes immediately, then on every tick until ctx is canceled.
func (p *Pinger) Run(ctx context.Context) {
	p.ProbeAll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeAll(ctx)
		}
	}
}

// ProbeAll pings every connector whose probe backoff has elapsed.
func (p *Pinger) ProbeAll(ctx context.Context) {
	connectors, err := p.db.ListConnectors(ctx)
	if err != nil {
		p.logger.Error("health: list connectors failed", "error", err)
		return
	}
	states, err := p.db.GetReconnectStates(ctx)
	if err != nil {
		p.logger.Error("health: load reconnect states failed", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, conn := range connectors {
		st, ok := states[conn.ID]
		if ok && st.NextProbeAt != nil && st.NextProbeAt.After(now) {
			continue
		}
		p.probe(ctx, conn, st.ConsecutiveFailures)
	}
}

func (p *Pinger) probe(ctx context.Context, conn model.Connector, priorFailures int) {
	err := p.pingConnector(ctx, conn)
	if err == nil {
		if cerr := p.db.ClearProbeFailures(ctx, conn.ID); cerr != nil {
			p.logger.Error("health: clear probe failures", "connector", conn.Name, "error", cerr)
		}
		p.setStatus(ctx, conn, model.HealthHealthy)
		return
	}

	backoff := probeBackoff(priorFailures + 1)
	failures, rerr := p.db.RecordProbeFailure(ctx, conn.ID, time.Now().UTC().Add(backoff), err.Error())
	if rerr != nil {
		p.logger.Error("health: record probe failure", "connector", conn.Name, "error", rerr)
		return
	}

	p.logger.Warn("health: connector probe failed",
		"connector", conn.Name, "failures", failures, "next_probe_in", backoff, "error", err)
	p.setStatus(ctx, conn, statusForFailures(failures))
}

func (p *Pinger) pingConnector(ctx context.Context, conn model.Connector) error {
	apiKey, err := p.cipher.Decrypt(conn.APIKeyEncrypted)
	if err != nil {
		return err
	}
	return p.ping(ctx, conn, apiKey)
}

// setStatus records a health transition and emits the change event when
// the status actually moved.
func (p *Pinger) setStatus(ctx context.Context, conn model.Connector, status model.HealthStatus) {
	previous, err := p.db.SetConnectorHealth(ctx, conn.ID, status)
	if err != nil {
		p.logger.Error("health: set connector health", "connector", conn.Name, "error", err)
		return
	}
	if previous == status {
		return
	}

	p.logger.Info("health: connector status changed",
		"connector", conn.Name, "previous", previous, "new", status)
	if p.notifier != nil {
		if _, err := p.notifier.Dispatch(ctx, model.EventConnectorHealthChanged, map[string]any{
			"connector":       conn.Name,
			"previous_status": string(previous),
			"new_status":      string(status),
		}); err != nil {
			p.logger.Warn("health: change notification failed", "connector", conn.Name, "error", err)
		}
	}
}

// statusForFailures maps a failure streak onto the health ladder.
func statusForFailures(failures int) model.HealthStatus {
	switch {
	case failures >= offlineAfter:
		return model.HealthOffline
	case failures >= unhealthyAfter:
		return model.HealthUnhealthy
	case failures >= degradedAfter:
		return model.HealthDegraded
	default:
		return model.HealthHealthy
	}
}

// probeBackoff doubles per consecutive failure, capped.
func probeBackoff(failures int) time.Duration {
	d := DefaultProbeBackoff
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= DefaultProbeMax {
			return DefaultProbeMax
		}
	}
	return d
}
